package postgres_test

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

func seedCall(id int64, liquidity *float64) model.Call {
	return model.Call{
		ID:              id,
		Ticker:          "TKN",
		Network:         "solana",
		ContractAddress: "Mint111",
		CallTimestamp:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EntryPrice:      0.001,
		LiquidityUSD:    liquidity,
	}
}

func ids(calls []model.Call) []int64 {
	out := make([]int64, len(calls))
	for i, c := range calls {
		out[i] = c.ID
	}
	return out
}

// go test -v --run ^TestCallStoreSelectForTier$
func TestCallStoreSelectForTier(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	older := now.Add(-2 * time.Hour)
	newer := now.Add(-time.Hour)
	future := now.Add(time.Minute)
	longAgo := now.Add(-48 * time.Hour)

	with := func(c model.Call, f func(*model.Call)) model.Call { f(&c); return c }

	client := setupTestDB(t,
		with(seedCall(1, liq(50_000)), func(c *model.Call) { c.LastCheckedAt = &newer }),
		with(seedCall(2, liq(30_000)), func(c *model.Call) { c.LastCheckedAt = &older }),
		seedCall(3, liq(25_000)),
		seedCall(4, liq(5_000)),
		with(seedCall(5, liq(90_000)), func(c *model.Call) { c.ClaimedUntil = &future }),
		with(seedCall(6, liq(90_000)), func(c *model.Call) { c.IsInvalidated = true }),
		with(seedCall(7, liq(90_000)), func(c *model.Call) { c.IsDead = true; c.DeadCheckedAt = &newer }),
		with(seedCall(8, liq(90_000)), func(c *model.Call) { c.IsDead = true; c.DeadCheckedAt = &longAgo }),
		with(seedCall(9, liq(90_000)), func(c *model.Call) { c.ReviewReason = model.Ptr(model.ReviewInvalidEntryPrice) }),
		seedCall(10, nil),
	)
	ctx := context.Background()

	got, err := client.SelectForTier(ctx, storage.TierQuery{
		MinLiquidityUSD: 20_000,
		DeadBefore:      now.Add(-24 * time.Hour),
		Now:             now,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 8, 10, 2, 1}, ids(got))

	limited, err := client.SelectForTier(ctx, storage.TierQuery{MinLiquidityUSD: 20_000, Now: now, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 10}, ids(limited))

	low, err := client.SelectForTier(ctx, storage.TierQuery{MinLiquidityUSD: 0, MaxLiquidityUSD: 20_000, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 10}, ids(low))

	n, err := client.Count(ctx, storage.TierQuery{MinLiquidityUSD: 20_000})
	require.NoError(t, err)
	assert.Equal(t, 5, n) // 1, 2, 3, 5, 10
}

// go test -v --run ^TestCallStoreClaim$
func TestCallStoreClaim(t *testing.T) {
	client := setupTestDB(t, seedCall(1, liq(10_000)))
	ctx := context.Background()
	now := time.Now().UTC()

	ok, err := client.Claim(ctx, 1, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.Claim(ctx, 1, now.Add(30*time.Second), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "live lease must not be stolen")

	ok, err = client.Claim(ctx, 1, now.Add(2*time.Minute), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "expired lease can be reclaimed")

	ok, err = client.Claim(ctx, 42, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)
}

// go test -v --run ^TestCallStorePatch$
func TestCallStorePatch(t *testing.T) {
	client := setupTestDB(t,
		withReview(seedCall(1, liq(10_000)), model.ReviewMissingData),
		seedCall(2, liq(10_000)),
	)
	ctx := context.Background()
	athAt := time.Date(2026, 1, 3, 4, 0, 0, 0, time.FixedZone("x", 3600))
	checked := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	lease := checked.Add(time.Minute)

	ok, err := client.Claim(ctx, 1, checked, lease)
	require.NoError(t, err)
	require.True(t, ok)

	patch := model.CallPatch{
		CurrentPrice:  liq(0.002),
		PriceProvider: model.Ptr("dexscreener"),
		AthPrice:      liq(0.004),
		AthTimestamp:  &athAt,
		AthRoiPercent: liq(300),
		LastCheckedAt: &checked,
		ReleaseClaim:  true,
		ClearReview:   true,
	}
	require.NoError(t, client.Patch(ctx, 1, patch))

	got, err := client.Get(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.004, *got.AthPrice, 1e-12)
	assert.Equal(t, athAt.UTC(), *got.AthTimestamp)
	assert.Equal(t, time.UTC, got.AthTimestamp.Location())
	assert.Equal(t, "dexscreener", *got.PriceProvider)
	assert.Nil(t, got.ClaimedUntil)
	assert.Nil(t, got.ReviewReason)
	assert.Equal(t, "Mint111", got.ContractAddress, "identity columns untouched")

	assert.ErrorIs(t, client.Patch(ctx, 99, patch), storage.ErrNotFound)
	assert.ErrorIs(t, client.Patch(ctx, 1, model.CallPatch{}), storage.ErrEmptyPatch)

	_, err = client.Get(ctx, 99)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// go test -v --run ^TestCallStorePatchMany$
func TestCallStorePatchMany(t *testing.T) {
	client := setupTestDB(t, seedCall(1, liq(1)), seedCall(2, liq(1)), seedCall(3, liq(1)))
	ctx := context.Background()
	now := time.Now().UTC()
	verified := now.Truncate(time.Second)

	for _, id := range []int64{1, 2, 3} {
		ok, err := client.Claim(ctx, id, now, now.Add(time.Minute))
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.NoError(t, client.PatchMany(ctx, []int64{1, 3}, model.CallPatch{AthVerifiedAt: &verified, ReleaseClaim: true}))
	require.NoError(t, client.PatchMany(ctx, nil, model.CallPatch{ReleaseClaim: true}))

	for _, tc := range []struct {
		id       int64
		released bool
	}{{1, true}, {2, false}, {3, true}} {
		got, err := client.Get(ctx, tc.id)
		require.NoError(t, err)
		if tc.released {
			assert.Nil(t, got.ClaimedUntil, "call %d", tc.id)
			require.NotNil(t, got.AthVerifiedAt)
			assert.True(t, verified.Equal(*got.AthVerifiedAt))
		} else {
			assert.NotNil(t, got.ClaimedUntil, "call %d", tc.id)
			assert.Nil(t, got.AthVerifiedAt)
		}
	}
}

// go test -v --run ^TestCallStoreSelectForVerify$
func TestCallStoreSelectForVerify(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	verified := now.Add(-time.Hour)

	withAth := func(id int64, at *time.Time) model.Call {
		c := seedCall(id, liq(50_000))
		c.AthPrice = liq(0.01)
		c.AthVerifiedAt = at
		return c
	}

	client := setupTestDB(t,
		withAth(1, &verified),
		withAth(2, nil),
		seedCall(3, liq(50_000)), // no ATH
	)

	got, err := client.SelectForVerify(context.Background(), storage.VerifyQuery{MinLiquidityUSD: 20_000, Now: now})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1}, ids(got))
}

func withReview(c model.Call, review string) model.Call {
	c.ReviewReason = model.Ptr(review)
	return c
}
