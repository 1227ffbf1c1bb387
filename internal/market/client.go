package market

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"athsync/internal/metrics"
	"athsync/internal/model"

	"go.uber.org/zap"
)

const (
	defaultPageLimit = 1000
	defaultMaxPages  = 5
)

// Client fans requests out over providers in fallback order.
type Client struct {
	providers []Provider
	candles   []CandleProvider
	cache     CandleCache

	pageLimit    int
	maxPages     int
	outlierRatio float64

	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Client)

// WithCache enables the candle cache.
func WithCache(cache CandleCache) Option {
	return func(c *Client) { c.cache = cache }
}

// WithPaging overrides the OHLCV page size and the page bound per lookup.
func WithPaging(limit, maxPages int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.pageLimit = limit
		}
		if maxPages > 0 {
			c.maxPages = maxPages
		}
	}
}

// WithOutlierRatio enables the second-provider cross-check in CheckedPrice.
// Ratios <= 1 disable it.
func WithOutlierRatio(ratio float64) Option {
	return func(c *Client) { c.outlierRatio = ratio }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a client over providers, the first being primary.
// Providers implementing CandleProvider also serve history, in the same order.
func NewClient(providers []Provider, logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		providers: providers,
		pageLimit: defaultPageLimit,
		maxPages:  defaultMaxPages,
		logger:    logger.With(zap.String("component", "market")),
		now:       time.Now,
	}
	for _, p := range providers {
		if cp, ok := p.(CandleProvider); ok {
			c.candles = append(c.candles, cp)
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CurrentPrice returns the first tradeable quote for pool. When every
// provider answered with zero or no liquidity the result is
// model.ErrAllProvidersDead; when at least one failed and none priced it is
// model.ErrProviderUnavailable. A single provider's empty answer is never
// enough to call a token dead.
func (c *Client) CurrentPrice(ctx context.Context, network, pool, contract string) (model.PriceResult, error) {
	res, _, err := c.firstQuote(ctx, network, pool, contract)
	return res, err
}

// CheckedPrice is CurrentPrice with an outlier cross-check. When the first
// tradeable quote is at least outlierRatio times away from reference (the
// last stored price), the remaining providers are asked for a second quote:
//   - agreement within the ratio confirms the first quote;
//   - disagreement keeps whichever quote is closer to reference and sets
//     Rejected to the other one;
//   - no second quote leaves the first one unconfirmed.
//
// A zero reference skips the check.
func (c *Client) CheckedPrice(ctx context.Context, network, pool, contract string,
	reference float64) (model.PriceResult, error) {
	res, idx, err := c.firstQuote(ctx, network, pool, contract)
	if err != nil || c.outlierRatio <= 1 || reference <= 0 || priceRatio(res.PriceUSD, reference) < c.outlierRatio {
		return res, err
	}

	log := c.logger.With(
		zap.String("network", network),
		zap.String("pool", pool),
		zap.String("provider", res.Provider),
		zap.Float64("price_usd", res.PriceUSD),
		zap.Float64("reference_usd", reference))

	for _, p := range c.providers[idx+1:] {
		alt, err := p.Pool(ctx, network, pool, contract)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !alt.Tradeable() {
			continue
		}
		if priceRatio(alt.PriceUSD, res.PriceUSD) < c.outlierRatio {
			log.Debug("price move confirmed", zap.String("by", alt.Provider))
			return res, nil
		}

		keep, drop := res, alt
		if priceRatio(alt.PriceUSD, reference) < priceRatio(res.PriceUSD, reference) {
			keep, drop = alt, res
		}
		keep.Rejected = &drop
		log.Warn("providers disagree on price",
			zap.String("second_provider", alt.Provider),
			zap.Float64("second_price_usd", alt.PriceUSD),
			zap.String("kept", keep.Provider))
		return keep, nil
	}
	log.Debug("price move unconfirmed, no second quote")
	return res, nil
}

// firstQuote returns the first tradeable quote and the index of the
// provider that gave it.
func (c *Client) firstQuote(ctx context.Context, network, pool, contract string) (model.PriceResult, int, error) {
	if len(c.providers) == 0 {
		return model.PriceResult{}, -1, errors.New("no price providers configured")
	}

	var errs []error
	empty := 0
	for i, p := range c.providers {
		res, err := p.Pool(ctx, network, pool, contract)
		if err != nil {
			if ctx.Err() != nil {
				return model.PriceResult{}, -1, ctx.Err()
			}
			c.logger.Debug("price lookup failed, falling back",
				zap.String("provider", p.Name()),
				zap.String("network", network),
				zap.String("pool", pool),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if res.Tradeable() {
			return res, i, nil
		}
		empty++
	}

	if empty == len(c.providers) {
		return model.PriceResult{}, -1, fmt.Errorf("%s/%s: %w", network, pool, model.ErrAllProvidersDead)
	}
	return model.PriceResult{}, -1, fmt.Errorf("price %s/%s: %w", network, pool, errors.Join(errs...))
}

// priceRatio is max(a, b) / min(a, b) for positive prices.
func priceRatio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return math.Inf(1)
	}
	if a < b {
		a, b = b, a
	}
	return a / b
}

// Candles returns candles for pool covering at least [since, now), sorted
// ascending and unique by timestamp. The source is the first candle provider
// that answers; the provider name is returned alongside. An empty slice with
// a nil error means the pool has no history in range.
func (c *Client) Candles(ctx context.Context, network, pool, contract string, g model.Granularity,
	since time.Time) ([]model.Candle, string, error) {
	if len(c.candles) == 0 {
		return nil, "", errors.New("no candle providers configured")
	}

	var errs []error
	for _, p := range c.candles {
		key := CacheKey(p.Name(), network, pool, g)
		if series, ok := c.cached(ctx, key, since); ok {
			return series.Candles, p.Name(), nil
		}

		candles, coveredFrom, err := c.fetchCandles(ctx, p, network, pool, contract, g, since)
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			c.logger.Warn("candle fetch failed, falling back",
				zap.String("provider", p.Name()),
				zap.String("network", network),
				zap.String("pool", pool),
				zap.String("granularity", string(g)),
				zap.Error(err))
			errs = append(errs, err)
			continue
		}

		if c.cache != nil {
			series := model.CandleSeries{Candles: candles, CoveredFrom: coveredFrom, FetchedAt: c.now().UTC()}
			if err := c.cache.Put(ctx, key, series); err != nil {
				c.logger.Warn("candle cache put failed", zap.String("key", key), zap.Error(err))
			}
		}
		return candles, p.Name(), nil
	}
	return nil, "", fmt.Errorf("candles %s/%s: %w", network, pool, errors.Join(errs...))
}

func (c *Client) cached(ctx context.Context, key string, since time.Time) (*model.CandleSeries, bool) {
	if c.cache == nil {
		return nil, false
	}
	series, ok := c.cache.Get(ctx, key)
	hit := ok && !series.CoveredFrom.After(since)
	c.metrics.ObserveCache(hit)
	if !hit {
		return nil, false
	}
	return series, true
}

// fetchCandles pages backwards with a before cursor until since is covered,
// history runs out or the page bound is hit. The returned time is the
// earliest instant the result is known to cover.
func (c *Client) fetchCandles(ctx context.Context, p CandleProvider, network, pool, contract string,
	g model.Granularity, since time.Time) ([]model.Candle, time.Time, error) {
	var (
		all         []model.Candle
		before      time.Time
		coveredFrom = c.now().UTC()
	)

	for page := 0; page < c.maxPages; page++ {
		batch, err := p.Candles(ctx, network, pool, contract, g, before, c.pageLimit)
		if err != nil {
			return nil, time.Time{}, err
		}
		if len(batch) == 0 {
			coveredFrom = since
			break
		}
		all = append(all, batch...)

		oldest := batch[0].Timestamp
		for _, cd := range batch[1:] {
			if cd.Timestamp.Before(oldest) {
				oldest = cd.Timestamp
			}
		}
		coveredFrom = oldest
		if !oldest.After(since) {
			break
		}
		if len(batch) < c.pageLimit {
			// Nothing older upstream.
			coveredFrom = since
			break
		}
		if !before.IsZero() && !oldest.Before(before) {
			break
		}
		before = oldest

		if page == c.maxPages-1 {
			c.logger.Debug("candle page bound reached",
				zap.String("provider", p.Name()),
				zap.String("pool", pool),
				zap.Time("oldest", oldest),
				zap.Time("since", since))
		}
	}

	return dedupeSorted(all), coveredFrom, nil
}

// dedupeSorted sorts ascending by timestamp and keeps the first candle seen
// for each timestamp.
func dedupeSorted(candles []model.Candle) []model.Candle {
	if len(candles) == 0 {
		return []model.Candle{}
	}
	sort.SliceStable(candles, func(i, j int) bool {
		return candles[i].Timestamp.Before(candles[j].Timestamp)
	})
	out := candles[:1]
	for _, cd := range candles[1:] {
		if cd.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, cd)
	}
	return out
}
