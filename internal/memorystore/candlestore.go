package memorystore

import (
	"context"
	"sync"
	"time"

	"athsync/internal/model"
)

// MemoryCandleStore caches candle series per key with a TTL. Locking is
// per key so concurrent workers on different pools do not contend.
type MemoryCandleStore struct {
	globalMu sync.RWMutex
	data     map[string]*keyedSeries
	ttl      time.Duration
	now      func() time.Time
}

type keyedSeries struct {
	mu     sync.Mutex
	series *model.CandleSeries
}

func NewCandleStore(ttl time.Duration) *MemoryCandleStore {
	return &MemoryCandleStore{
		data: make(map[string]*keyedSeries),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Get returns a copy of the cached series for key when present and fresh.
func (s *MemoryCandleStore) Get(_ context.Context, key string) (*model.CandleSeries, bool) {
	s.globalMu.RLock()
	entry, ok := s.data[key]
	s.globalMu.RUnlock()
	if !ok {
		return nil, false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.series == nil {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(entry.series.FetchedAt) > s.ttl {
		entry.series = nil
		return nil, false
	}

	cp := *entry.series
	cp.Candles = make([]model.Candle, len(entry.series.Candles))
	copy(cp.Candles, entry.series.Candles)
	return &cp, true
}

// Put stores series under key.
func (s *MemoryCandleStore) Put(_ context.Context, key string, series model.CandleSeries) error {
	// Fast path: lock per-key entry only
	s.globalMu.RLock()
	entry, ok := s.data[key]
	s.globalMu.RUnlock()

	if !ok {
		s.globalMu.Lock()
		if entry, ok = s.data[key]; !ok {
			entry = &keyedSeries{}
			s.data[key] = entry
		}
		s.globalMu.Unlock()
	}

	cp := series
	cp.Candles = make([]model.Candle, len(series.Candles))
	copy(cp.Candles, series.Candles)

	entry.mu.Lock()
	entry.series = &cp
	entry.mu.Unlock()
	return nil
}

// CountAll returns the total number of candles cached across all keys.
func (s *MemoryCandleStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, entry := range s.data {
		entry.mu.Lock()
		if entry.series != nil {
			total += len(entry.series.Candles)
		}
		entry.mu.Unlock()
	}
	return total
}

// Reset drops every cached series.
func (s *MemoryCandleStore) Reset() {
	s.globalMu.Lock()
	defer s.globalMu.Unlock()
	s.data = make(map[string]*keyedSeries)
}
