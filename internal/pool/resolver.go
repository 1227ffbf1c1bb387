// Package pool picks the authoritative liquidity pool for a token.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"athsync/internal/model"

	"go.uber.org/zap"
)

// Source lists pools for a token and quotes a single pool. Every
// market.Provider satisfies it.
type Source interface {
	Name() string
	PoolsForToken(ctx context.Context, network, contract string) ([]model.PoolCandidate, error)
	Pool(ctx context.Context, network, pool, contract string) (model.PriceResult, error)
}

type Resolver struct {
	sources []Source
	minUSD  float64
	logger  *zap.Logger
}

// NewResolver builds a resolver querying sources in order. Pools below
// minLiquidityUSD are never selected.
func NewResolver(sources []Source, minLiquidityUSD float64, logger *zap.Logger) *Resolver {
	return &Resolver{
		sources: sources,
		minUSD:  minLiquidityUSD,
		logger:  logger.With(zap.String("component", "pool")),
	}
}

// Resolve returns the pool to price contract from. A pinned pool with
// liquidity wins; otherwise the deepest pool of the first source that lists
// any is chosen, ties going to the lexicographically smallest address.
// Quoted price never influences the choice.
func (r *Resolver) Resolve(ctx context.Context, contract, network string, pinned *string) (model.PoolCandidate, error) {
	var pinnedCand *model.PoolCandidate
	if pinned != nil && *pinned != "" {
		cand, err := r.checkPinned(ctx, contract, network, *pinned)
		if err == nil && cand.LiquidityUSD > 0 {
			return cand, nil
		}
		if ctx.Err() != nil {
			return model.PoolCandidate{}, ctx.Err()
		}
		if err == nil {
			pinnedCand = &cand
		}
		r.logger.Debug("pinned pool has no liquidity, searching",
			zap.String("network", network),
			zap.String("contract", contract),
			zap.String("pool", *pinned),
			zap.Error(err))
	}

	candidates, err := r.candidates(ctx, contract, network)
	if err != nil {
		return model.PoolCandidate{}, err
	}

	best, ok := Best(candidates)
	if !ok {
		return model.PoolCandidate{}, &model.NoLiquidPoolError{
			Network: network, Contract: contract, Best: pinnedCand, MinUSD: r.minUSD,
		}
	}
	if best.LiquidityUSD <= 0 || best.LiquidityUSD < r.minUSD {
		return model.PoolCandidate{}, &model.NoLiquidPoolError{
			Network: network, Contract: contract, Best: &best, MinUSD: r.minUSD,
		}
	}
	return best, nil
}

// checkPinned asks sources in order for the pinned pool's liquidity; the
// first one answering with liquidity decides.
func (r *Resolver) checkPinned(ctx context.Context, contract, network, pinned string) (model.PoolCandidate, error) {
	var (
		errs  []error
		empty *model.PoolCandidate
	)
	for _, s := range r.sources {
		res, err := s.Pool(ctx, network, pinned, contract)
		if err != nil {
			if ctx.Err() != nil {
				return model.PoolCandidate{}, ctx.Err()
			}
			errs = append(errs, err)
			continue
		}
		cand := model.PoolCandidate{
			Provider:     s.Name(),
			Network:      network,
			Address:      pinned,
			LiquidityUSD: res.LiquidityUSD,
			PriceUSD:     res.PriceUSD,
		}
		if cand.LiquidityUSD > 0 {
			return cand, nil
		}
		if empty == nil {
			empty = &cand
		}
	}
	if empty != nil {
		return *empty, nil
	}
	return model.PoolCandidate{}, errors.Join(errs...)
}

// candidates returns the pool set of the first source with a non-empty
// answer. It fails with ErrProviderUnavailable only when every source failed.
func (r *Resolver) candidates(ctx context.Context, contract, network string) ([]model.PoolCandidate, error) {
	var errs []error
	for _, s := range r.sources {
		pools, err := s.PoolsForToken(ctx, network, contract)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.logger.Debug("pool discovery failed",
				zap.String("source", s.Name()),
				zap.String("contract", contract),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if len(pools) > 0 {
			return pools, nil
		}
	}
	if len(errs) == len(r.sources) && len(errs) > 0 {
		return nil, fmt.Errorf("pools for %s/%s: %w", network, contract, errors.Join(errs...))
	}
	return nil, nil
}

// Best returns the candidate with the highest liquidity, breaking ties by
// the smallest address. The result does not depend on input order.
func Best(candidates []model.PoolCandidate) (model.PoolCandidate, bool) {
	if len(candidates) == 0 {
		return model.PoolCandidate{}, false
	}
	sorted := make([]model.PoolCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].LiquidityUSD != sorted[j].LiquidityUSD {
			return sorted[i].LiquidityUSD > sorted[j].LiquidityUSD
		}
		return strings.ToLower(sorted[i].Address) < strings.ToLower(sorted[j].Address)
	})
	return sorted[0], true
}
