package market

import (
	"context"
	"sync"
	"time"

	"athsync/internal/model"
)

type fakeProvider struct {
	name  string
	pools []model.PoolCandidate
	price model.PriceResult
	err   error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) PoolsForToken(_ context.Context, _, _ string) ([]model.PoolCandidate, error) {
	return f.pools, f.err
}

func (f *fakeProvider) Pool(_ context.Context, _, pool, _ string) (model.PriceResult, error) {
	if f.err != nil {
		return model.PriceResult{}, f.err
	}
	res := f.price
	res.Provider = f.name
	res.Pool = pool
	return res, nil
}

// fakeHistory serves hourly candles from start to end, newest first per page.
type fakeHistory struct {
	fakeProvider
	start, end time.Time
	step       time.Duration

	mu    sync.Mutex
	pages int
}

func (f *fakeHistory) Candles(_ context.Context, _, _, _ string, _ model.Granularity,
	before time.Time, limit int) ([]model.Candle, error) {
	f.mu.Lock()
	f.pages++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if before.IsZero() || before.After(f.end) {
		before = f.end.Add(f.step)
	}

	var out []model.Candle
	for ts := before.Add(-f.step); !ts.Before(f.start) && len(out) < limit; ts = ts.Add(-f.step) {
		out = append(out, model.Candle{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1})
	}
	return out, nil
}

func (f *fakeHistory) pageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages
}
