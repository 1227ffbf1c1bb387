// Package reconcile runs the per-call pipeline: resolve pool, price it,
// fetch candles and derive the ATH. It produces a column-scoped patch and
// leaves persistence to the caller.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"athsync/internal/ath"
	"athsync/internal/market"
	"athsync/internal/model"

	"go.uber.org/zap"
)

// Outcome is the per-call result class reported in run summaries.
type Outcome string

const (
	OutcomeUpdated Outcome = "updated"
	OutcomeDead    Outcome = "dead"
	OutcomeNoData  Outcome = "no_data"
	OutcomeInvalid Outcome = "invalid"
	OutcomeFailed  Outcome = "failed"
)

// PoolResolver is satisfied by *pool.Resolver.
type PoolResolver interface {
	Resolve(ctx context.Context, contract, network string, pinned *string) (model.PoolCandidate, error)
}

// MarketData is satisfied by *market.Client.
type MarketData interface {
	CurrentPrice(ctx context.Context, network, pool, contract string) (model.PriceResult, error)
	CheckedPrice(ctx context.Context, network, pool, contract string, reference float64) (model.PriceResult, error)
	Candles(ctx context.Context, network, pool, contract string, g model.Granularity, since time.Time) ([]model.Candle, string, error)
}

// Result is what happened to one call. Patch always advances
// last_checked_at and releases the lease, also on failure.
type Result struct {
	Outcome Outcome
	Err     error
	Patch   model.CallPatch
	Pool    string
	Ath     *model.AthRecord
	NewAth  bool
	Revived bool
	Events  []model.Event

	// PriceDiscrepancy is set when the providers disagreed on the current
	// price and one quote was discarded.
	PriceDiscrepancy bool
}

type Processor struct {
	resolver PoolResolver
	market   MarketData
	windows  market.Windows
	logger   *zap.Logger
	now      func() time.Time
}

func NewProcessor(resolver PoolResolver, md MarketData, windows market.Windows, logger *zap.Logger) *Processor {
	return &Processor{
		resolver: resolver,
		market:   md,
		windows:  windows,
		logger:   logger.With(zap.String("component", "reconcile")),
		now:      time.Now,
	}
}

// SetClock replaces the time source.
func (p *Processor) SetClock(now func() time.Time) {
	p.now = now
}

// Process runs the pipeline for call. Per-call failures are reported in the
// result, never returned: the caller persists Patch either way.
func (p *Processor) Process(ctx context.Context, call model.Call) Result {
	now := p.now().UTC()
	res := Result{Patch: model.CallPatch{LastCheckedAt: &now, ReleaseClaim: true}}

	log := p.logger.With(
		zap.Int64("call_id", call.ID),
		zap.String("ticker", call.Ticker),
		zap.String("network", call.Network))

	if !validEntry(call.EntryPrice) {
		res.Outcome, res.Err = OutcomeInvalid, model.ErrInvalidEntryPrice
		res.Patch.ReviewReason = model.Ptr(model.ReviewInvalidEntryPrice)
		log.Warn("invalid entry price, flagged for review", zap.Float64("entry_price", call.EntryPrice))
		return res
	}

	cand, err := p.resolver.Resolve(ctx, call.ContractAddress, call.Network, call.Pinned())
	if err != nil {
		var nlp *model.NoLiquidPoolError
		if errors.As(err, &nlp) {
			return p.noLiquidity(ctx, call, nlp, res, now, log)
		}
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("resolve pool: %w", err)
		log.Info("pool resolution failed", zap.Error(err))
		return res
	}
	res.Pool = cand.Address
	log = log.With(zap.String("pool", cand.Address))

	var reference float64
	if call.CurrentPrice != nil {
		reference = *call.CurrentPrice
	}
	price, err := p.market.CheckedPrice(ctx, call.Network, cand.Address, call.ContractAddress, reference)
	if err != nil {
		if errors.Is(err, model.ErrAllProvidersDead) {
			return p.markDead(call, res, now, log)
		}
		res.Outcome, res.Err = OutcomeFailed, fmt.Errorf("current price: %w", err)
		log.Info("price lookup failed", zap.Error(err))
		return res
	}
	if price.Rejected != nil {
		res.PriceDiscrepancy = true
		log.Warn("outlier quote discarded",
			zap.String("kept", price.Provider),
			zap.Float64("kept_price_usd", price.PriceUSD),
			zap.String("rejected", price.Rejected.Provider),
			zap.Float64("rejected_price_usd", price.Rejected.PriceUSD))
	}
	applyPrice(&res.Patch, price)
	if pinned := call.Pinned(); pinned == nil || *pinned != cand.Address {
		res.Patch.PoolAddress = model.Ptr(cand.Address)
	}
	if call.IsDead {
		res.Revived = true
		res.Patch.IsDead = model.Ptr(false)
		res.Patch.DeadCheckedAt = &now
		res.Events = append(res.Events, event(model.EventRevived, call, now))
		log.Info("dead token revived", zap.String("provider", price.Provider))
	}

	rec, err := p.compute(ctx, call, cand.Address, now)
	switch {
	case errors.Is(err, model.ErrNoDataAfterCall):
		res.Outcome, res.Err = OutcomeNoData, err
		log.Info("no candles at or after call yet")
		return res
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, err
		log.Info("candle fetch failed", zap.Error(err))
		return res
	}

	res.Outcome = OutcomeUpdated
	res.Ath = &rec
	if ath.Improves(rec, call.AthPrice) {
		res.Patch.SetAth(rec)
		if call.AthPrice != nil {
			res.NewAth = true
			e := event(model.EventNewATH, call, now)
			e.Ath = &rec
			res.Events = append(res.Events, e)
			log.Info("new ATH",
				zap.String("ath_price", ath.FormatPrice(rec.AthPrice)),
				zap.Float64("roi_pct", rec.AthRoiPercent))
		}
	}
	if call.ReviewReason != nil && *call.ReviewReason == model.ReviewMissingData {
		res.Patch.ClearReview = true
	}
	return res
}

// Recompute derives the ATH from scratch without touching stored values.
// The verifier uses it; the returned pool is the one the ATH came from.
func (p *Processor) Recompute(ctx context.Context, call model.Call) (model.AthRecord, model.PoolCandidate, error) {
	if !validEntry(call.EntryPrice) {
		return model.AthRecord{}, model.PoolCandidate{}, model.ErrInvalidEntryPrice
	}
	cand, err := p.resolver.Resolve(ctx, call.ContractAddress, call.Network, call.Pinned())
	if err != nil {
		return model.AthRecord{}, model.PoolCandidate{}, fmt.Errorf("resolve pool: %w", err)
	}
	rec, err := p.compute(ctx, call, cand.Address, p.now().UTC())
	if err != nil {
		return model.AthRecord{}, cand, err
	}
	return rec, cand, nil
}

func (p *Processor) compute(ctx context.Context, call model.Call, pool string, now time.Time) (model.AthRecord, error) {
	g := market.SelectGranularity(call.CallTimestamp, now, p.windows)
	since := call.CallTimestamp.Truncate(g.Duration())

	candles, provider, err := p.market.Candles(ctx, call.Network, pool, call.ContractAddress, g, since)
	if err != nil {
		return model.AthRecord{}, fmt.Errorf("candles: %w", err)
	}
	rec, err := ath.Compute(candles, call.CallTimestamp, call.EntryPrice)
	if err != nil {
		return model.AthRecord{}, err
	}
	rec.LastCheckedAt = now

	p.logger.Debug("ath computed",
		zap.Int64("call_id", call.ID),
		zap.String("provider", provider),
		zap.String("granularity", string(g)),
		zap.Int("candles", len(candles)))
	return rec, nil
}

// noLiquidity checks the best or pinned pool across every provider. Only a
// unanimous zero/no-liquidity answer marks the call dead.
func (p *Processor) noLiquidity(ctx context.Context, call model.Call, nlp *model.NoLiquidPoolError,
	res Result, now time.Time, log *zap.Logger) Result {
	res.Outcome, res.Err = OutcomeFailed, nlp

	addr := ""
	if nlp.Best != nil {
		addr = nlp.Best.Address
	} else if pinned := call.Pinned(); pinned != nil {
		addr = *pinned
	}
	if addr == "" {
		log.Info("no pools listed for token")
		return res
	}
	res.Pool = addr

	price, err := p.market.CurrentPrice(ctx, call.Network, addr, call.ContractAddress)
	switch {
	case errors.Is(err, model.ErrAllProvidersDead):
		return p.markDead(call, res, now, log.With(zap.String("pool", addr)))
	case err != nil:
		log.Info("dead check inconclusive", zap.String("pool", addr), zap.Error(err))
	default:
		// Priced but below the liquidity floor: keep the quote fresh.
		applyPrice(&res.Patch, price)
		log.Info("pool below liquidity floor",
			zap.String("pool", addr),
			zap.Float64("liquidity_usd", price.LiquidityUSD),
			zap.Float64("min_usd", nlp.MinUSD))
	}
	return res
}

func (p *Processor) markDead(call model.Call, res Result, now time.Time, log *zap.Logger) Result {
	res.Outcome, res.Err = OutcomeDead, model.ErrAllProvidersDead
	res.Patch.IsDead = model.Ptr(true)
	res.Patch.DeadCheckedAt = &now
	if !call.IsDead {
		res.Events = append(res.Events, event(model.EventDead, call, now))
		log.Info("token marked dead")
	}
	return res
}

func applyPrice(patch *model.CallPatch, price model.PriceResult) {
	patch.CurrentPrice = model.Ptr(price.PriceUSD)
	patch.LiquidityUSD = model.Ptr(price.LiquidityUSD)
	patch.PriceProvider = model.Ptr(price.Provider)
	if price.MarketCap > 0 {
		patch.MarketCap = model.Ptr(price.MarketCap)
	}
}

func event(t model.EventType, call model.Call, now time.Time) model.Event {
	return model.Event{Type: t, CallID: call.ID, Ticker: call.Ticker, Network: call.Network, EmittedAt: now}
}

func validEntry(p float64) bool {
	return p > 0 && !math.IsInf(p, 1)
}
