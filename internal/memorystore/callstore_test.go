package memorystore

import (
	"context"
	"testing"
	"time"

	"athsync/internal/model"
	"athsync/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func liq(v float64) *float64 { return &v }

// go test -v --run TestSelectForTier
func TestSelectForTier(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	older := now.Add(-2 * time.Hour)
	newer := now.Add(-time.Hour)
	future := now.Add(time.Minute)
	longAgo := now.Add(-48 * time.Hour)

	store := NewCallStore(
		model.Call{ID: 1, LiquidityUSD: liq(50_000), LastCheckedAt: &newer},
		model.Call{ID: 2, LiquidityUSD: liq(30_000), LastCheckedAt: &older},
		model.Call{ID: 3, LiquidityUSD: liq(25_000)}, // never checked
		model.Call{ID: 4, LiquidityUSD: liq(5_000)},  // low tier
		model.Call{ID: 5, LiquidityUSD: liq(90_000), ClaimedUntil: &future},
		model.Call{ID: 6, LiquidityUSD: liq(90_000), IsInvalidated: true},
		model.Call{ID: 7, LiquidityUSD: liq(90_000), IsDead: true, DeadCheckedAt: &newer},
		model.Call{ID: 8, LiquidityUSD: liq(90_000), IsDead: true, DeadCheckedAt: &longAgo},
		model.Call{ID: 9, LiquidityUSD: liq(90_000), ReviewReason: model.Ptr(model.ReviewInvalidEntryPrice)},
	)

	got, err := store.SelectForTier(context.Background(), storage.TierQuery{
		MinLiquidityUSD: 20_000,
		DeadBefore:      now.Add(-24 * time.Hour),
		Now:             now,
	})
	require.NoError(t, err)

	ids := make([]int64, len(got))
	for i, c := range got {
		ids[i] = c.ID
	}
	assert.Equal(t, []int64{3, 8, 2, 1}, ids)

	n, err := store.Count(context.Background(), storage.TierQuery{MinLiquidityUSD: 20_000})
	require.NoError(t, err)
	assert.Equal(t, 4, n) // 1, 2, 3, 5: dead excluded without DeadBefore
}

func TestClaimIsExclusiveUntilLeaseExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	store := NewCallStore(model.Call{ID: 1})

	ok, err := store.Claim(ctx, 1, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Claim(ctx, 1, now.Add(30*time.Second), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "live lease must not be claimable")

	ok, err = store.Claim(ctx, 1, now.Add(2*time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be claimable")

	_, err = store.Claim(ctx, 42, now, now)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPatchIsColumnScoped(t *testing.T) {
	ctx := context.Background()
	pool := "0xpool"
	store := NewCallStore(model.Call{ID: 1, Ticker: "PEPE", EntryPrice: 0.5, PoolAddress: &pool})

	require.NoError(t, store.Patch(ctx, 1, model.CallPatch{CurrentPrice: model.Ptr(0.7)}))

	c, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "PEPE", c.Ticker)
	assert.Equal(t, "0xpool", *c.PoolAddress)
	assert.InDelta(t, 0.7, *c.CurrentPrice, 1e-12)

	assert.ErrorIs(t, store.Patch(ctx, 1, model.CallPatch{}), storage.ErrEmptyPatch)
	assert.ErrorIs(t, store.Patch(ctx, 99, model.CallPatch{IsDead: model.Ptr(true)}), storage.ErrNotFound)
}

func TestPatchManyReleasesClaims(t *testing.T) {
	ctx := context.Background()
	until := time.Now().Add(time.Hour)
	store := NewCallStore(
		model.Call{ID: 1, ClaimedUntil: &until},
		model.Call{ID: 2, ClaimedUntil: &until},
		model.Call{ID: 3, ClaimedUntil: &until},
	)

	require.NoError(t, store.PatchMany(ctx, []int64{1, 3}, model.CallPatch{ReleaseClaim: true}))

	all := store.GetAll()
	assert.Nil(t, all[0].ClaimedUntil)
	assert.NotNil(t, all[1].ClaimedUntil)
	assert.Nil(t, all[2].ClaimedUntil)
}
