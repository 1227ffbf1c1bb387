package dexscreener

import (
	"fmt"
	"strconv"
	"strings"
)

// PairsResponse is the envelope of the token and pair endpoints. Pairs is
// null when nothing trades.
type PairsResponse struct {
	SchemaVersion string `json:"schemaVersion"`
	Pairs         []Pair `json:"pairs"`
	Pair          *Pair  `json:"pair"`
}

// Pair is a trading pair (pool) as DexScreener reports it.
type Pair struct {
	ChainID     string `json:"chainId"`     // e.g. "ethereum", "solana"
	DexID       string `json:"dexId"`       // e.g. "uniswap", "raydium"
	PairAddress string `json:"pairAddress"` // pool address
	BaseToken   Token  `json:"baseToken"`
	QuoteToken  Token  `json:"quoteToken"`
	PriceNative string `json:"priceNative"` // base token price in quote units
	PriceUSD    string `json:"priceUsd"`    // base token price in USD, may be empty
	Liquidity   *struct {
		USD   float64 `json:"usd"`
		Base  float64 `json:"base"`
		Quote float64 `json:"quote"`
	} `json:"liquidity"`
	FDV           float64 `json:"fdv"`
	MarketCap     float64 `json:"marketCap"`
	PairCreatedAt int64   `json:"pairCreatedAt"` // ms since epoch
}

type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// LiquidityUSD returns the pair's USD liquidity, zero when unreported.
func (p *Pair) LiquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}

// TokenPriceUSD returns the USD price of token in this pair. When token is
// the quote side the price is derived from priceUsd / priceNative.
func (p *Pair) TokenPriceUSD(token string) float64 {
	base := parseFloat(p.PriceUSD)
	if token == "" || strings.EqualFold(p.BaseToken.Address, token) {
		return base
	}
	if strings.EqualFold(p.QuoteToken.Address, token) {
		native := parseFloat(p.PriceNative)
		if native <= 0 {
			return 0
		}
		return base / native
	}
	return base
}

// MarketCapUSD prefers market cap and falls back to FDV.
func (p *Pair) MarketCapUSD() float64 {
	if p.MarketCap > 0 {
		return p.MarketCap
	}
	return p.FDV
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("dexscreener error: status %d: %s", e.StatusCode, e.Body)
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
