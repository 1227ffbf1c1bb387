package market

import (
	"context"
	"strings"

	"athsync/internal/model"
)

// CandleCache stores fetched candle runs so repeated lookups inside a run
// (or across concurrently running tiers) skip the upstream request.
type CandleCache interface {
	Get(ctx context.Context, key string) (*model.CandleSeries, bool)
	Put(ctx context.Context, key string, series model.CandleSeries) error
}

// CacheKey builds provider|network|pool|granularity. Pool addresses are
// compared case-insensitively.
func CacheKey(provider, network, pool string, g model.Granularity) string {
	return strings.Join([]string{provider, network, strings.ToLower(pool), string(g)}, "|")
}
