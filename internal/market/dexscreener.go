package market

import (
	"context"
	"errors"
	"time"

	"athsync/internal/model"
	"athsync/pkg/dexscreener"
	"athsync/pkg/network"

	"go.uber.org/zap"
)

// DexScreener adapts the DexScreener REST client. It has no OHLCV endpoint
// and is used for pool discovery and current prices.
type DexScreener struct {
	rest   *dexscreener.RESTClient
	policy *Policy
	logger *zap.Logger
	now    func() time.Time
}

func NewDexScreener(rest *dexscreener.RESTClient, policy *Policy, logger *zap.Logger) *DexScreener {
	return &DexScreener{
		rest:   rest,
		policy: policy,
		logger: logger.With(zap.String("provider", network.DexScreener)),
		now:    time.Now,
	}
}

func (d *DexScreener) Name() string { return network.DexScreener }

func (d *DexScreener) chain(internal string) string {
	chain, ok := network.Map(network.DexScreener, internal)
	if !ok {
		d.logger.Debug("unmapped network, passing through", zap.String("network", internal))
	}
	return chain
}

func (d *DexScreener) PoolsForToken(ctx context.Context, net, contract string) ([]model.PoolCandidate, error) {
	chain := d.chain(net)

	var pairs []dexscreener.Pair
	err := d.policy.Do(ctx, d.Name(), func(ctx context.Context) error {
		var err error
		pairs, err = d.rest.GetTokenPairs(ctx, chain, contract)
		return d.wrap(err)
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.PoolCandidate, 0, len(pairs))
	for i := range pairs {
		p := &pairs[i]
		if p.PairAddress == "" {
			continue
		}
		out = append(out, model.PoolCandidate{
			Provider:     d.Name(),
			Network:      net,
			Address:      p.PairAddress,
			LiquidityUSD: p.LiquidityUSD(),
			PriceUSD:     p.TokenPriceUSD(contract),
		})
	}
	return out, nil
}

func (d *DexScreener) Pool(ctx context.Context, net, pool, contract string) (model.PriceResult, error) {
	chain := d.chain(net)

	var pair *dexscreener.Pair
	err := d.policy.Do(ctx, d.Name(), func(ctx context.Context) error {
		var err error
		pair, err = d.rest.GetPair(ctx, chain, pool)
		return d.wrap(err)
	})
	if err != nil {
		return model.PriceResult{}, err
	}

	res := model.PriceResult{Provider: d.Name(), Pool: pool, QuotedAt: d.now().UTC()}
	if pair == nil {
		return res, nil
	}
	res.PriceUSD = pair.TokenPriceUSD(contract)
	res.LiquidityUSD = pair.LiquidityUSD()
	res.MarketCap = pair.MarketCapUSD()
	return res, nil
}

// wrap turns HTTP status failures into typed provider errors so the policy
// can decide on retries.
func (d *DexScreener) wrap(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *dexscreener.APIError
	if errors.As(err, &apiErr) {
		return &model.ProviderError{Provider: d.Name(), StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
