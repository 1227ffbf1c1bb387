package memorystore

import (
	"context"
	"testing"
	"time"

	"athsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandleStoreRoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	store := NewCandleStore(time.Minute)
	store.now = func() time.Time { return now }

	series := model.CandleSeries{
		Candles:     []model.Candle{{Timestamp: now.Add(-time.Hour), High: 1}},
		CoveredFrom: now.Add(-2 * time.Hour),
		FetchedAt:   now,
	}
	require.NoError(t, store.Put(ctx, "k", series))

	got, ok := store.Get(ctx, "k")
	require.True(t, ok)
	assert.Len(t, got.Candles, 1)
	assert.Equal(t, 1, store.CountAll())

	// mutating the copy must not leak into the cache
	got.Candles[0].High = 99
	again, _ := store.Get(ctx, "k")
	assert.InDelta(t, 1, again.Candles[0].High, 1e-12)

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok = store.Get(ctx, "k")
	assert.False(t, ok, "expired entry must miss")

	_, ok = store.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestCandleStoreReset(t *testing.T) {
	ctx := context.Background()
	store := NewCandleStore(0)
	require.NoError(t, store.Put(ctx, "a", model.CandleSeries{Candles: make([]model.Candle, 3)}))
	store.Reset()
	assert.Zero(t, store.CountAll())
}
