// Package scheduler runs tiered reconciliation batches: select calls, claim
// each under a lease, process them on a bounded worker pool and persist a
// column-scoped patch per call.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"athsync/config"
	"athsync/internal/metrics"
	"athsync/internal/model"
	"athsync/internal/notify"
	"athsync/internal/reconcile"
	"athsync/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const persistTimeout = 15 * time.Second

// Pipeline is satisfied by *reconcile.Processor.
type Pipeline interface {
	Process(ctx context.Context, call model.Call) reconcile.Result
}

type Options struct {
	Workers          int
	RunDeadline      time.Duration
	TokenTimeout     time.Duration
	LeaseTimeout     time.Duration
	DeadRecheckAfter time.Duration
}

func OptionsFromConfig(cfg config.SchedulerConfig) Options {
	return Options{
		Workers:          cfg.Workers,
		RunDeadline:      cfg.RunDeadline,
		TokenTimeout:     cfg.TokenTimeout,
		LeaseTimeout:     cfg.LeaseTimeout,
		DeadRecheckAfter: cfg.DeadRecheckAfter,
	}
}

type Scheduler struct {
	store   storage.CallStore
	proc    Pipeline
	sink    notify.Sink
	metrics *metrics.Metrics
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
	states  *states
}

func New(store storage.CallStore, proc Pipeline, sink notify.Sink, m *metrics.Metrics,
	opts Options, logger *zap.Logger) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 5 * time.Minute
	}
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Scheduler{
		store:   store,
		proc:    proc,
		sink:    sink,
		metrics: m,
		opts:    opts,
		logger:  logger.With(zap.String("component", "scheduler")),
		now:     time.Now,
		states:  newStates(),
	}
}

// SetClock replaces the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// State reports the current phase of tier.
func (s *Scheduler) State(tier string) TierState {
	return s.states.get(tier)
}

// RunTier processes up to maxCalls calls of tier (tier.BatchSize when maxCalls <= 0).
// Per-call failures are counted in the summary; a store failure aborts the
// run, releases the outstanding leases and is returned alongside the summary.
func (s *Scheduler) RunTier(ctx context.Context, tier config.TierConfig, maxCalls int) (*Summary, error) {
	if err := s.states.begin(tier.Name); err != nil {
		return nil, fmt.Errorf("tier %s: %w", tier.Name, err)
	}
	defer s.states.set(tier.Name, StateIdle)

	started := s.now().UTC()
	sum := newSummary(uuid.NewString(), tier.Name, started)
	log := s.logger.With(zap.String("tier", tier.Name), zap.String("run_id", sum.RunID))

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.RunDeadline > 0 {
		runCtx, cancel = context.WithTimeout(ctx, s.opts.RunDeadline)
	}
	defer cancel()

	limit := maxCalls
	if limit <= 0 {
		limit = tier.BatchSize
	}
	q := storage.TierQuery{
		MinLiquidityUSD: tier.MinLiquidityUSD,
		MaxLiquidityUSD: tier.MaxLiquidityUSD,
		Now:             started,
		Limit:           limit,
	}
	if s.opts.DeadRecheckAfter > 0 {
		q.DeadBefore = started.Add(-s.opts.DeadRecheckAfter)
	}

	backlog, err := s.store.Count(runCtx, q)
	if err != nil {
		return s.abort(ctx, sum, nil, fmt.Errorf("count tier population: %w", err), log)
	}
	sum.Backlog = backlog

	leases := storage.NewLeases(s.store, s.opts.LeaseTimeout)
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(s.opts.Workers)

	loader := &CallLoader{Store: s.store, Logger: log}
	callCh := make(chan model.Call, s.opts.Workers)
	loadErr := make(chan error, 1)
	go func() { loadErr <- loader.LoadCalls(gctx, q, callCh) }()

	s.states.set(tier.Name, StateProcessing)
	for call := range callCh {
		sum.incSelected()
		if gctx.Err() != nil {
			// Deadline fired or the run aborted: no new claims.
			sum.incSkipped()
			continue
		}
		call := call
		g.Go(func() error {
			return s.runOne(ctx, gctx, tier.Name, call, leases, sum, log)
		})
	}
	err = errors.Join(<-loadErr, g.Wait())

	s.states.set(tier.Name, StatePersisting)
	if err != nil {
		return s.abort(ctx, sum, leases, err, log)
	}

	took := s.now().Sub(started)
	sum.finish(took, nil)
	s.metrics.ObserveRun(tier.Name, "reconcile", took, false)
	log.Info("tier run finished",
		zap.Int("selected", sum.Selected),
		zap.Int("claimed", sum.Claimed),
		zap.Int("updated", sum.Updated),
		zap.Int("failed", sum.Failed),
		zap.Int("backlog", sum.Backlog),
		zap.Duration("took", took))
	return sum, nil
}

// runOne claims and processes a single call. parent is the caller's context:
// processing is bounded by the token timeout rather than the run deadline.
func (s *Scheduler) runOne(parent, gctx context.Context, tier string, call model.Call,
	leases *storage.Leases, sum *Summary, log *zap.Logger) error {
	if gctx.Err() != nil {
		sum.incSkipped()
		return nil
	}

	ok, err := leases.Claim(gctx, call.ID, s.now().UTC())
	if err != nil {
		if gctx.Err() != nil || errors.Is(err, storage.ErrNotFound) {
			sum.incSkipped()
			return nil
		}
		return err
	}
	if !ok {
		log.Debug("call already claimed, skipping", zap.Int64("call_id", call.ID))
		sum.incSkipped()
		return nil
	}
	sum.incClaimed()

	tokenCtx, cancel := s.tokenContext(parent)
	res := s.proc.Process(tokenCtx, call)
	cancel()

	persistCtx, cancelPersist := context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
	defer cancelPersist()
	if err := s.store.Patch(persistCtx, call.ID, res.Patch); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("persist call %d: %w", call.ID, err)
		}
		// row deleted between selection and persist
		log.Warn("call vanished before persist", zap.Int64("call_id", call.ID))
		leases.Done(call.ID)
		sum.record(reconcile.Result{Outcome: reconcile.OutcomeFailed, Err: err})
		s.metrics.ObserveToken(tier, string(reconcile.OutcomeFailed))
		return nil
	}
	leases.Done(call.ID)

	sum.record(res)
	s.metrics.ObserveToken(tier, string(res.Outcome))
	s.publish(persistCtx, res.Events, log)
	return nil
}

func (s *Scheduler) tokenContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.opts.TokenTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.opts.TokenTimeout)
}

func (s *Scheduler) publish(ctx context.Context, events []model.Event, log *zap.Logger) {
	for _, e := range events {
		if err := s.sink.Publish(ctx, e); err != nil {
			log.Warn("failed to publish event",
				zap.String("type", string(e.Type)),
				zap.Int64("call_id", e.CallID),
				zap.Error(err))
		}
	}
}

func (s *Scheduler) abort(parent context.Context, sum *Summary, leases *storage.Leases, cause error,
	log *zap.Logger) (*Summary, error) {
	if leases != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
		n, err := leases.ReleaseAll(ctx)
		cancel()
		if err != nil {
			log.Error("failed to release claims", zap.Error(err))
		}
		sum.Released = n
	}

	took := s.now().Sub(sum.StartedAt)
	sum.finish(took, cause)
	s.metrics.ObserveRun(sum.Tier, "reconcile", took, true)
	log.Error("tier run aborted", zap.Error(cause), zap.Int("released", sum.Released))
	return sum, cause
}
