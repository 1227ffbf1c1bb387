package market

import (
	"context"
	"errors"
	"net/http"
	"time"

	"athsync/internal/model"
	"athsync/pkg/geckoterminal"
	"athsync/pkg/network"

	"go.uber.org/zap"
)

// GeckoTerminal adapts the GeckoTerminal REST client and is the candle source.
type GeckoTerminal struct {
	rest   *geckoterminal.RESTClient
	policy *Policy
	logger *zap.Logger
	now    func() time.Time
}

func NewGeckoTerminal(rest *geckoterminal.RESTClient, policy *Policy, logger *zap.Logger) *GeckoTerminal {
	return &GeckoTerminal{
		rest:   rest,
		policy: policy,
		logger: logger.With(zap.String("provider", network.GeckoTerminal)),
		now:    time.Now,
	}
}

func (g *GeckoTerminal) Name() string { return network.GeckoTerminal }

func (g *GeckoTerminal) netID(internal string) string {
	net, ok := network.Map(network.GeckoTerminal, internal)
	if !ok {
		g.logger.Debug("unmapped network, passing through", zap.String("network", internal))
	}
	return net
}

func (g *GeckoTerminal) PoolsForToken(ctx context.Context, net, contract string) ([]model.PoolCandidate, error) {
	gnet := g.netID(net)

	var pools []geckoterminal.Pool
	err := g.policy.Do(ctx, g.Name(), func(ctx context.Context) error {
		var err error
		pools, err = g.rest.GetTokenPools(ctx, gnet, contract)
		return g.wrap(err)
	})
	if err != nil {
		// An unknown token is an empty candidate set, not an outage.
		if statusOf(err) == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}

	out := make([]model.PoolCandidate, 0, len(pools))
	for i := range pools {
		p := &pools[i]
		if p.Attributes.Address == "" {
			continue
		}
		out = append(out, model.PoolCandidate{
			Provider:     g.Name(),
			Network:      net,
			Address:      p.Attributes.Address,
			LiquidityUSD: p.LiquidityUSD(),
			PriceUSD:     p.TokenPriceUSD(contract),
		})
	}
	return out, nil
}

func (g *GeckoTerminal) Pool(ctx context.Context, net, pool, contract string) (model.PriceResult, error) {
	gnet := g.netID(net)

	var p *geckoterminal.Pool
	err := g.policy.Do(ctx, g.Name(), func(ctx context.Context) error {
		var err error
		p, err = g.rest.GetPool(ctx, gnet, pool)
		return g.wrap(err)
	})
	if err != nil {
		return model.PriceResult{}, err
	}

	return model.PriceResult{
		Provider:     g.Name(),
		Pool:         pool,
		PriceUSD:     p.TokenPriceUSD(contract),
		LiquidityUSD: p.LiquidityUSD(),
		MarketCap:    p.MarketCapUSD(),
		QuotedAt:     g.now().UTC(),
	}, nil
}

func (g *GeckoTerminal) Candles(ctx context.Context, net, pool, contract string, gran model.Granularity,
	before time.Time, limit int) ([]model.Candle, error) {
	tf := geckoterminal.Timeframe(gran)
	if !tf.IsValid() {
		return nil, errors.New("unsupported granularity: " + string(gran))
	}
	gnet := g.netID(net)

	var candles []model.Candle
	err := g.policy.Do(ctx, g.Name(), func(ctx context.Context) error {
		var err error
		candles, err = g.rest.GetOHLCV(ctx, gnet, pool, tf, before, limit, contract)
		return g.wrap(err)
	})
	if err != nil {
		return nil, err
	}
	return candles, nil
}

func (g *GeckoTerminal) wrap(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *geckoterminal.APIError
	if errors.As(err, &apiErr) {
		return &model.ProviderError{Provider: g.Name(), StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}
