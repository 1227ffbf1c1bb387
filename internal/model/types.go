package model

import (
	"time"
)

// Granularity is the candle width requested from an upstream provider.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Duration returns the wall-clock width of a single candle.
func (g Granularity) Duration() time.Duration {
	switch g {
	case GranularityMinute:
		return time.Minute
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	}
	return 0
}

// Call is a tracked token instance as stored in the backing store.
type Call struct {
	ID              int64      `json:"id"`
	Ticker          string     `json:"ticker"`
	Network         string     `json:"network"`
	ContractAddress string     `json:"contract_address"`
	PoolAddress     *string    `json:"pool_address"`   // pinned pool, nil until resolved once
	CallTimestamp   time.Time  `json:"call_timestamp"` // reference time for ATH
	EntryPrice      float64    `json:"entry_price"`
	LiquidityUSD    *float64   `json:"liquidity_usd"`
	CurrentPrice    *float64   `json:"current_price"`
	MarketCap       *float64   `json:"market_cap"`
	PriceProvider   *string    `json:"price_provider"`
	AthPrice        *float64   `json:"ath_price"`
	AthTimestamp    *time.Time `json:"ath_timestamp"`
	AthRoiPercent   *float64   `json:"ath_roi_percent"`
	LastCheckedAt   *time.Time `json:"last_checked_at"`
	AthVerifiedAt   *time.Time `json:"ath_verified_at"`
	IsDead          bool       `json:"is_dead"`
	DeadCheckedAt   *time.Time `json:"dead_checked_at"`
	IsInvalidated   bool       `json:"is_invalidated"`
	ClaimedUntil    *time.Time `json:"claimed_until"`
	ReviewReason    *string    `json:"review_reason"`
}

// Pinned returns the pinned pool address or nil when the call has none.
func (c *Call) Pinned() *string {
	if c.PoolAddress == nil || *c.PoolAddress == "" {
		return nil
	}
	return c.PoolAddress
}

// PoolCandidate is a pool quoted by a provider for a token contract.
type PoolCandidate struct {
	Provider     string  `json:"provider"`
	Network      string  `json:"network"`
	Address      string  `json:"address"`
	LiquidityUSD float64 `json:"liquidity_usd"`
	PriceUSD     float64 `json:"price_usd"`
}

// Candle is a single OHLCV bar for a pool.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// PriceResult is a normalized current quote for a pool.
type PriceResult struct {
	Provider     string    `json:"provider"`
	Pool         string    `json:"pool"`
	PriceUSD     float64   `json:"price_usd"`
	LiquidityUSD float64   `json:"liquidity_usd"`
	MarketCap    float64   `json:"market_cap"`
	QuotedAt     time.Time `json:"quoted_at"`

	// Rejected is a second provider's quote that disagreed with this one
	// beyond the outlier ratio and was discarded.
	Rejected *PriceResult `json:"rejected,omitempty"`
}

// Tradeable reports whether the quote carries a usable price and liquidity.
func (p PriceResult) Tradeable() bool {
	return p.PriceUSD > 0 && p.LiquidityUSD > 0
}

// AthRecord is the derived all-time-high fact attached to a call.
type AthRecord struct {
	AthPrice       float64   `json:"ath_price"`
	AthTimestamp   time.Time `json:"ath_timestamp"`
	AthRoiPercent  float64   `json:"ath_roi_percent"`
	LastCheckedAt  time.Time `json:"last_checked_at,omitempty"`
	LastVerifiedAt time.Time `json:"last_verified_at,omitempty"`
}

// Review reasons written to Call.ReviewReason.
const (
	ReviewInvalidEntryPrice = "invalid_entry_price"
	ReviewMissingData       = "missing_data"
)

// CandleSeries is a cached run of candles for one pool and granularity.
// CoveredFrom is the earliest instant the series is known to cover, which
// may precede the first candle when the pool has no older history.
type CandleSeries struct {
	Candles     []Candle  `json:"candles"`
	CoveredFrom time.Time `json:"covered_from"`
	FetchedAt   time.Time `json:"fetched_at"`
}
