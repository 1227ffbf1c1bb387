package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"athsync/config"
	"athsync/internal/memorystore"
	"athsync/internal/metrics"
	"athsync/internal/model"
	"athsync/internal/notify"
	"athsync/internal/reconcile"
	"athsync/internal/storage"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var highTier = config.TierConfig{Name: "high", MinLiquidityUSD: 20_000, BatchSize: 100, Every: 1}

type stubPipeline struct {
	mu    sync.Mutex
	seen  map[int64]int
	delay time.Duration
	fn    func(model.Call) reconcile.Result
}

func (p *stubPipeline) Process(ctx context.Context, call model.Call) reconcile.Result {
	p.mu.Lock()
	if p.seen == nil {
		p.seen = make(map[int64]int)
	}
	p.seen[call.ID]++
	p.mu.Unlock()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	now := time.Now().UTC()
	res := reconcile.Result{Outcome: reconcile.OutcomeUpdated,
		Patch: model.CallPatch{LastCheckedAt: &now, ReleaseClaim: true, CurrentPrice: model.Ptr(1.0)}}
	if p.fn != nil {
		res = p.fn(call)
		res.Patch.LastCheckedAt = &now
		res.Patch.ReleaseClaim = true
	}
	return res
}

func (p *stubPipeline) count(id int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[id]
}

func liquid(id int64, usd float64) model.Call {
	return model.Call{ID: id, Ticker: "T", Network: "solana", ContractAddress: "c", EntryPrice: 1, LiquidityUSD: &usd}
}

func newScheduler(store *memorystore.MemoryCallStore, p Pipeline, sink notify.Sink, opts Options) *Scheduler {
	return New(store, p, sink, nil, opts, zap.NewNop())
}

func TestRunTierProcessesBand(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000), liquid(2, 25_000), liquid(3, 5_000))
	p := &stubPipeline{}
	s := newScheduler(store, p, nil, Options{Workers: 4})

	sum, err := s.RunTier(context.Background(), highTier, 0)
	require.NoError(t, err)

	assert.Equal(t, "high", sum.Tier)
	assert.NotEmpty(t, sum.RunID)
	assert.Equal(t, 2, sum.Selected)
	assert.Equal(t, 2, sum.Claimed)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 2, sum.Updated)
	assert.Equal(t, 2, sum.Backlog)
	assert.False(t, sum.Aborted)
	assert.Equal(t, 0, p.count(3))

	for _, c := range store.GetAll()[:2] {
		assert.NotNil(t, c.LastCheckedAt)
		assert.Nil(t, c.ClaimedUntil, "lease released")
	}
	assert.Equal(t, StateIdle, s.State("high"))
}

func TestRunTierRespectsMax(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000), liquid(2, 50_000), liquid(3, 50_000))
	sum, err := newScheduler(store, &stubPipeline{}, nil, Options{Workers: 2}).RunTier(context.Background(), highTier, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	assert.Equal(t, 3, sum.Backlog)
}

func TestRunTierSkipsLeasedCalls(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000), liquid(2, 50_000))
	ok, err := store.Claim(context.Background(), 2, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	p := &stubPipeline{}
	sum, err := newScheduler(store, p, nil, Options{Workers: 2}).RunTier(context.Background(), highTier, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Processed)
	assert.Equal(t, 0, p.count(2))
}

func TestOverlappingRunsOnSameTierFail(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000))
	release := make(chan struct{})
	started := make(chan struct{})
	p := &stubPipeline{fn: func(model.Call) reconcile.Result {
		close(started)
		<-release
		return reconcile.Result{Outcome: reconcile.OutcomeUpdated}
	}}
	s := newScheduler(store, p, nil, Options{Workers: 1})

	done := make(chan error, 1)
	go func() {
		_, err := s.RunTier(context.Background(), highTier, 0)
		done <- err
	}()
	<-started

	_, err := s.RunTier(context.Background(), highTier, 0)
	assert.ErrorIs(t, err, ErrTierBusy)
	assert.Equal(t, StateProcessing, s.State("high"))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, p.count(1), "call processed once")
}

func TestConcurrentTiersDoNotDoubleProcess(t *testing.T) {
	var calls []model.Call
	for i := int64(1); i <= 40; i++ {
		calls = append(calls, liquid(i, 30_000))
	}
	store := memorystore.NewCallStore(calls...)
	p := &stubPipeline{delay: time.Millisecond}
	s := newScheduler(store, p, nil, Options{Workers: 8, LeaseTimeout: time.Minute})

	// Two overlapping tiers covering the same band.
	a := config.TierConfig{Name: "a", MinLiquidityUSD: 20_000, BatchSize: 40}
	b := config.TierConfig{Name: "b", MinLiquidityUSD: 10_000, BatchSize: 40}

	var wg sync.WaitGroup
	for _, tier := range []config.TierConfig{a, b} {
		tier := tier
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RunTier(context.Background(), tier, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	for i := int64(1); i <= 40; i++ {
		assert.LessOrEqual(t, p.count(i), 2)
		assert.GreaterOrEqual(t, p.count(i), 1)
	}
}

func TestFailedCallsStillAdvanceLastChecked(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000), liquid(2, 50_000))
	p := &stubPipeline{fn: func(c model.Call) reconcile.Result {
		if c.ID == 1 {
			return reconcile.Result{Outcome: reconcile.OutcomeFailed,
				Err: &model.ProviderError{Provider: "dexscreener", StatusCode: 503}}
		}
		return reconcile.Result{Outcome: reconcile.OutcomeNoData, Err: model.ErrNoDataAfterCall}
	}}

	sum, err := newScheduler(store, p, nil, Options{Workers: 2}).RunTier(context.Background(), highTier, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.NoData)
	assert.Equal(t, map[string]int{"provider_unavailable": 1, "no_data_after_call": 1}, sum.ErrorsByKind)

	for _, c := range store.GetAll() {
		assert.NotNil(t, c.LastCheckedAt)
		assert.Nil(t, c.ClaimedUntil)
	}
}

func TestStoreOutageAbortsAndReleasesClaims(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000), liquid(2, 50_000), liquid(3, 50_000))
	store.FailPatches(errors.New("connection refused"))

	m := metrics.New()
	s := New(store, &stubPipeline{}, nil, m, Options{Workers: 1}, zap.NewNop())

	sum, err := s.RunTier(context.Background(), highTier, 0)
	require.Error(t, err)
	require.NotNil(t, sum)
	assert.True(t, sum.Aborted)
	assert.Contains(t, sum.Error, "connection refused")
	assert.GreaterOrEqual(t, sum.Released, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunAborted.WithLabelValues("high", "reconcile")))

	for _, c := range store.GetAll() {
		assert.Nil(t, c.ClaimedUntil, "call %d lease released", c.ID)
	}
	assert.Equal(t, StateIdle, s.State("high"))
}

func TestRunDeadlineStopsNewClaims(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000), liquid(2, 50_000), liquid(3, 50_000))
	p := &stubPipeline{delay: 80 * time.Millisecond}
	s := newScheduler(store, p, nil, Options{Workers: 1, RunDeadline: 20 * time.Millisecond, TokenTimeout: time.Second})

	sum, err := s.RunTier(context.Background(), highTier, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Claimed)
	assert.Equal(t, 1, sum.Processed, "in-flight call finishes past the deadline")

	for _, c := range store.GetAll() {
		assert.Nil(t, c.ClaimedUntil)
	}
}

func TestRunTierPublishesEvents(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000))
	rec := notify.NewRecorder(4)
	p := &stubPipeline{fn: func(c model.Call) reconcile.Result {
		return reconcile.Result{Outcome: reconcile.OutcomeUpdated, NewAth: true,
			Events: []model.Event{{Type: model.EventNewATH, CallID: c.ID}}}
	}}

	sum, err := newScheduler(store, p, rec, Options{Workers: 1}).RunTier(context.Background(), highTier, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NewAths)

	events := rec.Drain()
	require.Len(t, events, 1)
	assert.Equal(t, model.EventNewATH, events[0].Type)
}

func TestDue(t *testing.T) {
	assert.True(t, Due(1, 3))
	assert.True(t, Due(0, 3))
	assert.True(t, Due(4, 0))
	assert.False(t, Due(4, 3))
	assert.True(t, Due(4, 8))
}

func TestDaemonRunsJobsOnCadence(t *testing.T) {
	var every1, every3 atomic.Int32
	d := &Daemon{
		Interval: 10 * time.Millisecond,
		Logger:   zap.NewNop(),
		Jobs: []Job{
			{Name: "high", Every: 1, Run: func(context.Context) error { every1.Add(1); return nil }},
			{Name: "low", Every: 3, Run: func(context.Context) error { every3.Add(1); return nil }},
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 75*time.Millisecond)
	defer cancel()
	require.NoError(t, d.Start(ctx))

	assert.GreaterOrEqual(t, every1.Load(), int32(4))
	assert.GreaterOrEqual(t, every3.Load(), int32(1))
	assert.Less(t, every3.Load(), every1.Load())
}

// vanishingStore loses one row between selection and persist.
type vanishingStore struct {
	*memorystore.MemoryCallStore
	gone int64
}

func (s *vanishingStore) Patch(ctx context.Context, id int64, p model.CallPatch) error {
	if id == s.gone {
		return storage.ErrNotFound
	}
	return s.MemoryCallStore.Patch(ctx, id, p)
}

func TestDeletedRowIsAPerCallFailure(t *testing.T) {
	mem := memorystore.NewCallStore()
	for id := int64(1); id <= 20; id++ {
		mem.Add(liquid(id, 50_000))
	}
	store := &vanishingStore{MemoryCallStore: mem, gone: 1}
	s := New(store, &stubPipeline{}, nil, nil, Options{Workers: 1}, zap.NewNop())

	sum, err := s.RunTier(context.Background(), highTier, 0)
	require.NoError(t, err)
	assert.False(t, sum.Aborted)
	assert.Equal(t, 20, sum.Processed)
	assert.Equal(t, 19, sum.Updated)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.ErrorsByKind["other"])
	assert.Zero(t, sum.Released)

	for _, c := range mem.GetAll() {
		if c.ID == 1 {
			continue
		}
		assert.NotNil(t, c.LastCheckedAt, "call %d processed", c.ID)
		assert.Nil(t, c.ClaimedUntil, "call %d released", c.ID)
	}
}

func TestRunTierCountsPriceDiscrepancies(t *testing.T) {
	store := memorystore.NewCallStore(liquid(1, 50_000), liquid(2, 50_000), liquid(3, 50_000))
	p := &stubPipeline{fn: func(c model.Call) reconcile.Result {
		return reconcile.Result{Outcome: reconcile.OutcomeUpdated, PriceDiscrepancy: c.ID != 2}
	}}

	sum, err := newScheduler(store, p, nil, Options{Workers: 2}).RunTier(context.Background(), highTier, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Updated)
	assert.Equal(t, 2, sum.Discrepancies)
}
