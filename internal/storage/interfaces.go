// Package storage defines the backing-store contract the engine relies on.
// The store owns call rows; the engine only reads them and writes
// column-scoped patches.
package storage

import (
	"context"
	"time"

	"athsync/internal/model"
)

// TierQuery selects calls for a scheduler run.
type TierQuery struct {
	MinLiquidityUSD float64
	MaxLiquidityUSD float64 // 0 means unbounded

	// DeadBefore re-admits dead calls whose dead_checked_at is older than
	// this instant. Zero excludes dead calls entirely.
	DeadBefore time.Time

	// Now is used to skip calls under a live lease.
	Now   time.Time
	Limit int
}

// VerifyQuery selects calls with a stored ATH for re-verification,
// oldest ath_verified_at first.
type VerifyQuery struct {
	MinLiquidityUSD float64
	MaxLiquidityUSD float64
	Now             time.Time
	Limit           int
}

// CallStore provides access to tracked calls.
type CallStore interface {
	// SelectForTier returns calls in the liquidity band that are not
	// invalidated, not flagged invalid_entry_price, not dead (unless
	// re-admitted by DeadBefore) and not leased, ordered by last_checked_at
	// (never-checked first) then id.
	SelectForTier(ctx context.Context, q TierQuery) ([]model.Call, error)

	// SelectForVerify returns calls with ath_price set, ordered by
	// ath_verified_at (never-verified first) then id.
	SelectForVerify(ctx context.Context, q VerifyQuery) ([]model.Call, error)

	// Get retrieves a call by id. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, id int64) (*model.Call, error)

	// Claim sets claimed_until = until only if the lease is free
	// (claimed_until is null or before now). Reports whether this caller
	// won the claim.
	Claim(ctx context.Context, id int64, now, until time.Time) (bool, error)

	// Patch writes the non-nil columns of p to a single call.
	Patch(ctx context.Context, id int64, p model.CallPatch) error

	// PatchMany writes the same column-scoped patch to every id in ids.
	PatchMany(ctx context.Context, ids []int64, p model.CallPatch) error

	// Count returns the exact number of calls matching the tier band,
	// ignoring leases and limits.
	Count(ctx context.Context, q TierQuery) (int, error)
}
