package pool

import (
	"context"
	"errors"
	"testing"

	"athsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSource struct {
	name    string
	pools   []model.PoolCandidate
	poolErr error
	quotes  map[string]model.PriceResult
	listed  int
}

func (s *stubSource) Name() string { return s.name }

func (s *stubSource) PoolsForToken(_ context.Context, _, _ string) ([]model.PoolCandidate, error) {
	s.listed++
	return s.pools, s.poolErr
}

func (s *stubSource) Pool(_ context.Context, _, pool, _ string) (model.PriceResult, error) {
	if s.poolErr != nil {
		return model.PriceResult{}, s.poolErr
	}
	return s.quotes[pool], nil
}

func TestResolvePicksDeepestPoolRegardlessOfPrice(t *testing.T) {
	src := &stubSource{name: "ds", pools: []model.PoolCandidate{
		{Address: "0xshallow", LiquidityUSD: 500, PriceUSD: 0.05},
		{Address: "0xdeep", LiquidityUSD: 50_000, PriceUSD: 0.001},
	}}
	r := NewResolver([]Source{src}, 100, zap.NewNop())

	got, err := r.Resolve(context.Background(), "0xtoken", "ethereum", nil)
	require.NoError(t, err)
	assert.Equal(t, "0xdeep", got.Address)
}

func TestBestIsDeterministic(t *testing.T) {
	a := model.PoolCandidate{Address: "0xbbb", LiquidityUSD: 1000}
	b := model.PoolCandidate{Address: "0xaaa", LiquidityUSD: 1000}
	c := model.PoolCandidate{Address: "0xccc", LiquidityUSD: 999}

	for _, order := range [][]model.PoolCandidate{{a, b, c}, {c, b, a}, {b, c, a}} {
		got, ok := Best(order)
		require.True(t, ok)
		assert.Equal(t, "0xaaa", got.Address)
	}
}

func TestBestIsLiquidityMonotonic(t *testing.T) {
	pools := []model.PoolCandidate{
		{Address: "0x1", LiquidityUSD: 10_000},
		{Address: "0x2", LiquidityUSD: 9_000},
	}
	got, _ := Best(pools)
	assert.Equal(t, "0x1", got.Address)

	pools[1].LiquidityUSD = 11_000
	got, _ = Best(pools)
	assert.Equal(t, "0x2", got.Address)
}

func TestResolvePinnedPoolWins(t *testing.T) {
	pinned := "0xpinned"
	src := &stubSource{
		name:   "ds",
		pools:  []model.PoolCandidate{{Address: "0xdeeper", LiquidityUSD: 1_000_000}},
		quotes: map[string]model.PriceResult{pinned: {LiquidityUSD: 2_000, PriceUSD: 1}},
	}
	r := NewResolver([]Source{src}, 100, zap.NewNop())

	got, err := r.Resolve(context.Background(), "0xtoken", "base", &pinned)
	require.NoError(t, err)
	assert.Equal(t, pinned, got.Address)
	assert.Equal(t, 0, src.listed)
}

func TestResolveDrainedPinnedFallsBackToSearch(t *testing.T) {
	pinned := "0xpinned"
	src := &stubSource{
		name:   "ds",
		pools:  []model.PoolCandidate{{Address: "0xnew", LiquidityUSD: 30_000}},
		quotes: map[string]model.PriceResult{pinned: {}},
	}
	r := NewResolver([]Source{src}, 100, zap.NewNop())

	got, err := r.Resolve(context.Background(), "0xtoken", "base", &pinned)
	require.NoError(t, err)
	assert.Equal(t, "0xnew", got.Address)
}

func TestResolveNoLiquidPool(t *testing.T) {
	ctx := context.Background()

	t.Run("no candidates", func(t *testing.T) {
		r := NewResolver([]Source{&stubSource{name: "ds"}}, 100, zap.NewNop())
		_, err := r.Resolve(ctx, "0xtoken", "bsc", nil)
		require.ErrorIs(t, err, model.ErrNoLiquidPool)

		var nlp *model.NoLiquidPoolError
		require.ErrorAs(t, err, &nlp)
		assert.Nil(t, nlp.Best)
	})

	t.Run("below threshold carries best pool", func(t *testing.T) {
		src := &stubSource{name: "ds", pools: []model.PoolCandidate{{Address: "0xthin", LiquidityUSD: 20}}}
		r := NewResolver([]Source{src}, 100, zap.NewNop())
		_, err := r.Resolve(ctx, "0xtoken", "bsc", nil)

		var nlp *model.NoLiquidPoolError
		require.ErrorAs(t, err, &nlp)
		require.NotNil(t, nlp.Best)
		assert.Equal(t, "0xthin", nlp.Best.Address)
	})
}

func TestResolveFallsBackAcrossSources(t *testing.T) {
	down := &stubSource{name: "ds", poolErr: &model.ProviderError{Provider: "ds", StatusCode: 503}}
	up := &stubSource{name: "gt", pools: []model.PoolCandidate{{Address: "0xp", LiquidityUSD: 5_000}}}
	r := NewResolver([]Source{down, up}, 100, zap.NewNop())

	got, err := r.Resolve(context.Background(), "0xtoken", "solana", nil)
	require.NoError(t, err)
	assert.Equal(t, "0xp", got.Address)
}

func TestResolveAllSourcesDown(t *testing.T) {
	boom := &model.ProviderError{Provider: "x", StatusCode: 500, Err: errors.New("boom")}
	r := NewResolver([]Source{
		&stubSource{name: "ds", poolErr: boom},
		&stubSource{name: "gt", poolErr: boom},
	}, 100, zap.NewNop())

	_, err := r.Resolve(context.Background(), "0xtoken", "solana", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.NotErrorIs(t, err, model.ErrNoLiquidPool)
}
