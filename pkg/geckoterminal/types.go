package geckoterminal

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON:API document wrapper used by every endpoint.
type Envelope struct {
	Data   json.RawMessage `json:"data"` // object or array depending on endpoint
	Errors []struct {
		Status string `json:"status"`
		Title  string `json:"title"`
	} `json:"errors"`
}

// Pool is a single pool resource.
type Pool struct {
	ID         string         `json:"id"` // e.g. "eth_0xabc..."
	Type       string         `json:"type"`
	Attributes PoolAttributes `json:"attributes"`
	// Relationships identify which side of the pair a token sits on.
	Relationships struct {
		BaseToken  relation `json:"base_token"`
		QuoteToken relation `json:"quote_token"`
	} `json:"relationships"`
}

type relation struct {
	Data struct {
		ID   string `json:"id"` // "<network>_<address>"
		Type string `json:"type"`
	} `json:"data"`
}

// PoolAttributes carries the numeric fields as strings, the way the API sends them.
type PoolAttributes struct {
	Address            string  `json:"address"`
	Name               string  `json:"name"`
	BaseTokenPriceUSD  *string `json:"base_token_price_usd"`
	QuoteTokenPriceUSD *string `json:"quote_token_price_usd"`
	ReserveInUSD       *string `json:"reserve_in_usd"`
	FDVUSD             *string `json:"fdv_usd"`
	MarketCapUSD       *string `json:"market_cap_usd"`
	PoolCreatedAt      string  `json:"pool_created_at"`
}

// OHLCVResponse is the data object of the OHLCV endpoint.
type OHLCVResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Attributes struct {
		// Rows of [unix_seconds, open, high, low, close, volume], newest first.
		OHLCVList [][]json.Number `json:"ohlcv_list"`
	} `json:"attributes"`
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("geckoterminal error: status %d: %s", e.StatusCode, e.Body)
}
