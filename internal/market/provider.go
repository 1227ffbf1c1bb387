// Package market fetches current prices and OHLCV history from upstream
// market-data providers behind a shared rate-limit and retry policy.
package market

import (
	"context"
	"time"

	"athsync/internal/model"
)

// Provider quotes pools for a token contract and current prices for a pool.
type Provider interface {
	Name() string

	// PoolsForToken lists the pools trading contract on network.
	PoolsForToken(ctx context.Context, network, contract string) ([]model.PoolCandidate, error)

	// Pool returns the current quote for pool. A pool the provider knows
	// nothing about is a zero PriceResult, not an error.
	Pool(ctx context.Context, network, pool, contract string) (model.PriceResult, error)
}

// CandleProvider is a Provider that also serves OHLCV history.
type CandleProvider interface {
	Provider

	// Candles returns up to limit candles strictly before `before` (zero
	// means now), in any order.
	Candles(ctx context.Context, network, pool, contract string, g model.Granularity,
		before time.Time, limit int) ([]model.Candle, error)
}
