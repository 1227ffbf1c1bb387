// Package verifier re-derives stored ATH values, classifies drift and
// optionally repairs major discrepancies.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"athsync/config"
	"athsync/internal/metrics"
	"athsync/internal/model"
	"athsync/internal/notify"
	"athsync/internal/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const persistTimeout = 15 * time.Second

var (
	// ErrNoStoredAth is returned when asked to verify a call that has no ATH yet.
	ErrNoStoredAth = errors.New("call has no stored ATH")

	// ErrCallBusy is returned by Verify when another worker holds the call's lease.
	ErrCallBusy = errors.New("call is being processed elsewhere")
)

// Recomputer is satisfied by *reconcile.Processor.
type Recomputer interface {
	Recompute(ctx context.Context, call model.Call) (model.AthRecord, model.PoolCandidate, error)
}

type Options struct {
	TolerancePct float64
	MajorRatio   float64
	AutoCorrect  bool
	BatchSize    int
	Workers      int
	LeaseTimeout time.Duration
	TokenTimeout time.Duration
}

func OptionsFromConfig(v config.VerifierConfig, s config.SchedulerConfig) Options {
	return Options{
		TolerancePct: v.TolerancePct,
		MajorRatio:   v.MajorRatio,
		AutoCorrect:  v.AutoCorrect,
		BatchSize:    v.BatchSize,
		Workers:      s.Workers,
		LeaseTimeout: s.LeaseTimeout,
		TokenTimeout: s.TokenTimeout,
	}
}

type Verifier struct {
	store   storage.CallStore
	proc    Recomputer
	sink    notify.Sink
	metrics *metrics.Metrics
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

func New(store storage.CallStore, proc Recomputer, sink notify.Sink, m *metrics.Metrics,
	opts Options, logger *zap.Logger) *Verifier {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 5 * time.Minute
	}
	if opts.MajorRatio <= 1 {
		opts.MajorRatio = 10
	}
	if sink == nil {
		sink = notify.Nop{}
	}
	return &Verifier{
		store:   store,
		proc:    proc,
		sink:    sink,
		metrics: m,
		opts:    opts,
		logger:  logger.With(zap.String("component", "verifier")),
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (v *Verifier) SetClock(now func() time.Time) {
	v.now = now
}

// Summary reports a VerifyBatch run. Reports lists every non-none result.
type Summary struct {
	RunID        string                    `json:"run_id"`
	Tier         string                    `json:"tier"`
	Selected     int                       `json:"selected"`
	Claimed      int                       `json:"claimed"`
	Skipped      int                       `json:"skipped"`
	Verified     int                       `json:"verified"`
	None         int                       `json:"none"`
	Minor        int                       `json:"minor"`
	Major        int                       `json:"major"`
	MissingData  int                       `json:"missing_data"`
	Corrected    int                       `json:"corrected"`
	Failed       int                       `json:"failed"`
	ErrorsByKind map[string]int            `json:"errors_by_kind"`
	Reports      []model.DiscrepancyReport `json:"reports"`
	Released     int                       `json:"released,omitempty"`
	Aborted      bool                      `json:"aborted"`
	Error        string                    `json:"error,omitempty"`
	StartedAt    time.Time                 `json:"started_at"`
	Duration     string                    `json:"duration"`

	mu sync.Mutex
}

func (s *Summary) add(r model.DiscrepancyReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Verified++
	switch r.Classification {
	case model.DiscrepancyNone:
		s.None++
	case model.DiscrepancyMinor:
		s.Minor++
	case model.DiscrepancyMajor:
		s.Major++
	case model.DiscrepancyMissingData:
		s.MissingData++
	}
	if r.Corrected {
		s.Corrected++
	}
	if r.Classification != model.DiscrepancyNone {
		s.Reports = append(s.Reports, r)
	}
}

func (s *Summary) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Failed++
	s.ErrorsByKind[model.ErrorKind(err)]++
}

func (s *Summary) inc(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

// Verify checks a single call, persisting its result immediately.
func (v *Verifier) Verify(ctx context.Context, id int64) (model.DiscrepancyReport, error) {
	call, err := v.store.Get(ctx, id)
	if err != nil {
		return model.DiscrepancyReport{}, fmt.Errorf("get call %d: %w", id, err)
	}
	if call.AthPrice == nil {
		return model.DiscrepancyReport{}, fmt.Errorf("call %d: %w", id, ErrNoStoredAth)
	}

	leases := storage.NewLeases(v.store, v.opts.LeaseTimeout)
	ok, err := leases.Claim(ctx, id, v.now().UTC())
	if err != nil {
		return model.DiscrepancyReport{}, err
	}
	if !ok {
		return model.DiscrepancyReport{}, fmt.Errorf("call %d: %w", id, ErrCallBusy)
	}

	report, patch, checkErr := v.check(ctx, *call)
	patch.ReleaseClaim = true

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := v.store.Patch(persistCtx, id, patch); err != nil {
		return report, fmt.Errorf("persist call %d: %w", id, err)
	}
	leases.Done(id)

	if checkErr != nil {
		return report, checkErr
	}
	v.metrics.ObserveDiscrepancy(string(report.Classification))
	v.publish(persistCtx, *call, report)
	return report, nil
}

// VerifyBatch re-verifies up to maxCalls calls of tier, oldest verification
// first. Calls whose ATH did not change, including failed recomputes, are
// stamped with one bulk update at the end so they rotate to the back of the
// queue.
func (v *Verifier) VerifyBatch(ctx context.Context, tier config.TierConfig, maxCalls int) (*Summary, error) {
	started := v.now().UTC()
	sum := &Summary{
		RunID:        uuid.NewString(),
		Tier:         tier.Name,
		ErrorsByKind: make(map[string]int),
		Reports:      []model.DiscrepancyReport{},
		StartedAt:    started,
	}
	log := v.logger.With(zap.String("tier", tier.Name), zap.String("run_id", sum.RunID))

	limit := maxCalls
	if limit <= 0 {
		limit = v.opts.BatchSize
	}
	calls, err := v.store.SelectForVerify(ctx, storage.VerifyQuery{
		MinLiquidityUSD: tier.MinLiquidityUSD,
		MaxLiquidityUSD: tier.MaxLiquidityUSD,
		Now:             started,
		Limit:           limit,
	})
	if err != nil {
		return v.abort(ctx, sum, nil, nil, fmt.Errorf("select calls: %w", err), log)
	}
	sum.Selected = len(calls)

	var (
		leases  = storage.NewLeases(v.store, v.opts.LeaseTimeout)
		mu      sync.Mutex
		stamp []int64 // attempted, ATH untouched
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.opts.Workers)
	for _, call := range calls {
		call := call
		g.Go(func() error {
			ok, err := leases.Claim(gctx, call.ID, v.now().UTC())
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, storage.ErrNotFound) {
					sum.inc(&sum.Skipped)
					return nil
				}
				return err
			}
			if !ok {
				sum.inc(&sum.Skipped)
				return nil
			}
			sum.inc(&sum.Claimed)

			tokenCtx, cancel := v.tokenContext(ctx)
			report, patch, checkErr := v.check(tokenCtx, call)
			cancel()

			if checkErr != nil {
				log.Info("verification failed", zap.Int64("call_id", call.ID), zap.Error(checkErr))
				sum.fail(checkErr)
				mu.Lock()
				stamp = append(stamp, call.ID)
				mu.Unlock()
				return nil
			}

			if report.Corrected || report.Classification == model.DiscrepancyMissingData {
				patch.ReleaseClaim = true
				persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
				defer cancel()
				if err := v.store.Patch(persistCtx, call.ID, patch); err != nil {
					if !errors.Is(err, storage.ErrNotFound) {
						return fmt.Errorf("persist call %d: %w", call.ID, err)
					}
					// row deleted mid-run
					log.Warn("call vanished before persist", zap.Int64("call_id", call.ID))
					sum.fail(err)
					leases.Done(call.ID)
					return nil
				}
				leases.Done(call.ID)
			} else {
				mu.Lock()
				stamp = append(stamp, call.ID)
				mu.Unlock()
			}
			sum.add(report)
			v.metrics.ObserveDiscrepancy(string(report.Classification))
			v.publish(gctx, call, report)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return v.abort(ctx, sum, leases, stamp, err, log)
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	checkedAt := v.now().UTC()
	if len(stamp) > 0 {
		if err := v.store.PatchMany(persistCtx, stamp, model.CallPatch{AthVerifiedAt: &checkedAt, ReleaseClaim: true}); err != nil {
			return v.abort(ctx, sum, leases, nil, fmt.Errorf("stamp verified calls: %w", err), log)
		}
		for _, id := range stamp {
			leases.Done(id)
		}
	}

	took := v.now().Sub(started)
	sum.Duration = took.Round(time.Millisecond).String()
	v.metrics.ObserveRun(tier.Name, "verify", took, false)
	log.Info("verify run finished",
		zap.Int("verified", sum.Verified),
		zap.Int("minor", sum.Minor),
		zap.Int("major", sum.Major),
		zap.Int("corrected", sum.Corrected),
		zap.Int("missing_data", sum.MissingData),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

// check recomputes the ATH of call and builds the report plus the patch
// that records it. The returned error is a per-call failure.
func (v *Verifier) check(ctx context.Context, call model.Call) (model.DiscrepancyReport, model.CallPatch, error) {
	now := v.now().UTC()
	report := model.DiscrepancyReport{CallID: call.ID, Ticker: call.Ticker, CheckedAt: now}
	if call.AthPrice != nil {
		report.StoredAth = *call.AthPrice
	}
	patch := model.CallPatch{}

	rec, cand, err := v.proc.Recompute(ctx, call)
	report.Pool = cand.Address
	switch {
	case errors.Is(err, model.ErrNoDataAfterCall):
		report.Classification = model.DiscrepancyMissingData
		patch.AthVerifiedAt = &now
		patch.ReviewReason = model.Ptr(model.ReviewMissingData)
		return report, patch, nil
	case err != nil:
		// failed attempts are stamped too; selection is oldest ath_verified_at first
		patch.AthVerifiedAt = &now
		return report, patch, err
	}

	report.RecomputedAth = rec.AthPrice
	report.Classification, report.DeltaPercent = Classify(report.StoredAth, rec.AthPrice, v.opts.TolerancePct, v.opts.MajorRatio)
	if math.IsInf(report.DeltaPercent, 0) {
		report.DeltaPercent = 0
	}
	patch.AthVerifiedAt = &now

	log := v.logger.With(zap.Int64("call_id", call.ID), zap.String("ticker", call.Ticker))
	switch report.Classification {
	case model.DiscrepancyMajor:
		if v.opts.AutoCorrect {
			patch.SetAth(rec)
			if pinned := call.Pinned(); pinned == nil || *pinned != cand.Address {
				patch.PoolAddress = model.Ptr(cand.Address)
			}
			report.Corrected = true
		}
		log.Warn("major ATH discrepancy",
			zap.Float64("stored", report.StoredAth),
			zap.Float64("recomputed", report.RecomputedAth),
			zap.String("pool", cand.Address),
			zap.Bool("corrected", report.Corrected))
	case model.DiscrepancyMinor:
		log.Info("minor ATH discrepancy",
			zap.Float64("stored", report.StoredAth),
			zap.Float64("recomputed", report.RecomputedAth),
			zap.Float64("delta_pct", report.DeltaPercent))
	}
	return report, patch, nil
}

func (v *Verifier) tokenContext(parent context.Context) (context.Context, context.CancelFunc) {
	if v.opts.TokenTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, v.opts.TokenTimeout)
}

func (v *Verifier) publish(ctx context.Context, call model.Call, report model.DiscrepancyReport) {
	if report.Classification == model.DiscrepancyNone {
		return
	}
	r := report
	e := model.Event{Type: model.EventDiscrepancy, CallID: call.ID, Ticker: call.Ticker,
		Network: call.Network, Report: &r, EmittedAt: report.CheckedAt}
	if err := v.sink.Publish(ctx, e); err != nil {
		v.logger.Warn("failed to publish discrepancy", zap.Int64("call_id", call.ID), zap.Error(err))
	}
}

// abort releases outstanding leases. Calls already verified but not yet
// stamped get their ath_verified_at written with the release.
func (v *Verifier) abort(parent context.Context, sum *Summary, leases *storage.Leases, stamp []int64,
	cause error, log *zap.Logger) (*Summary, error) {
	if leases != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), persistTimeout)
		if len(stamp) > 0 {
			now := v.now().UTC()
			if err := v.store.PatchMany(ctx, stamp, model.CallPatch{AthVerifiedAt: &now, ReleaseClaim: true}); err == nil {
				for _, id := range stamp {
					leases.Done(id)
				}
			}
		}
		n, err := leases.ReleaseAll(ctx)
		cancel()
		if err != nil {
			log.Error("failed to release claims", zap.Error(err))
		}
		sum.Released = n
	}

	took := v.now().Sub(sum.StartedAt)
	sum.Duration = took.Round(time.Millisecond).String()
	sum.Aborted = true
	sum.Error = cause.Error()
	v.metrics.ObserveRun(sum.Tier, "verify", took, true)
	log.Error("verify run aborted", zap.Error(cause))
	return sum, cause
}
