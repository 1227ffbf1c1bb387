// Package network translates internal chain identifiers into the chain
// identifiers each upstream market-data provider expects.
package network

import "strings"

// Provider names with a chain table.
const (
	DexScreener   = "dexscreener"
	GeckoTerminal = "geckoterminal"
)

// Internal chain identifiers.
const (
	Ethereum  = "ethereum"
	BSC       = "bsc"
	Solana    = "solana"
	Base      = "base"
	Arbitrum  = "arbitrum"
	Polygon   = "polygon"
	Avalanche = "avalanche"
	Optimism  = "optimism"
)

// aliases folds spellings seen in ingested calls onto internal names.
var aliases = map[string]string{
	"eth":                 Ethereum,
	"erc20":               Ethereum,
	"mainnet":             Ethereum,
	"binance":             BSC,
	"bnb":                 BSC,
	"binance-smart-chain": BSC,
	"bep20":               BSC,
	"sol":                 Solana,
	"arb":                 Arbitrum,
	"matic":               Polygon,
	"polygon_pos":         Polygon,
	"avax":                Avalanche,
	"op":                  Optimism,
}

var tables = map[string]map[string]string{
	GeckoTerminal: {
		Ethereum:  "eth",
		BSC:       "bsc",
		Solana:    "solana",
		Base:      "base",
		Arbitrum:  "arbitrum",
		Polygon:   "polygon_pos",
		Avalanche: "avax",
		Optimism:  "optimism",
	},
	DexScreener: {
		Ethereum:  "ethereum",
		BSC:       "bsc",
		Solana:    "solana",
		Base:      "base",
		Arbitrum:  "arbitrum",
		Polygon:   "polygon",
		Avalanche: "avalanche",
		Optimism:  "optimism",
	},
}

// Normalize lowercases and trims name and folds known aliases.
func Normalize(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Map returns provider's identifier for internalName. Unknown providers and
// unmapped names pass through (normalized) with ok=false so callers can still
// try the original name.
func Map(provider, internalName string) (string, bool) {
	n := Normalize(internalName)
	table, ok := tables[provider]
	if !ok {
		return n, false
	}
	mapped, ok := table[n]
	if !ok {
		return n, false
	}
	return mapped, true
}
