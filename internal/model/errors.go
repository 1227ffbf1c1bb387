package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNoLiquidPool means no pool with usable liquidity was found. The
	// token cannot be priced right now but is not necessarily dead.
	ErrNoLiquidPool = errors.New("no liquid pool")

	// ErrProviderUnavailable is a transient upstream failure that survived
	// the retry policy.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrNoDataAfterCall means upstream history does not cover the call yet
	// (or its retention already expired). Terminal for the current run.
	ErrNoDataAfterCall = errors.New("no candle data at or after call timestamp")

	// ErrInvalidEntryPrice is a data-quality fault on the call row.
	ErrInvalidEntryPrice = errors.New("invalid entry price")

	// ErrAllProvidersDead means every configured provider reported zero or
	// no liquidity for the resolved pool.
	ErrAllProvidersDead = errors.New("all providers report no liquidity")
)

// ProviderError wraps a failed upstream request.
type ProviderError struct {
	Provider   string
	StatusCode int // 0 for transport errors
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: http %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is makes every ProviderError match ErrProviderUnavailable.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// NoLiquidPoolError carries the best pool seen (if any) so callers can run
// dead-token classification against it.
type NoLiquidPoolError struct {
	Network  string
	Contract string
	Best     *PoolCandidate
	MinUSD   float64
}

func (e *NoLiquidPoolError) Error() string {
	if e.Best == nil {
		return fmt.Sprintf("%s %s: no pools returned", e.Network, e.Contract)
	}
	return fmt.Sprintf("%s %s: best pool %s has $%.2f liquidity (min $%.2f)",
		e.Network, e.Contract, e.Best.Address, e.Best.LiquidityUSD, e.MinUSD)
}

func (e *NoLiquidPoolError) Is(target error) bool {
	return target == ErrNoLiquidPool
}

// ErrorKind returns a short label for a per-token error, used in run
// summaries and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidEntryPrice):
		return "invalid_entry_price"
	case errors.Is(err, ErrNoDataAfterCall):
		return "no_data_after_call"
	case errors.Is(err, ErrAllProvidersDead):
		return "all_providers_dead"
	case errors.Is(err, ErrNoLiquidPool):
		return "no_liquid_pool"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	}
	return "other"
}
