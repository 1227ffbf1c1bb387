package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"athsync/config"
	"athsync/internal/market"
	"athsync/internal/memorystore"
	"athsync/internal/metrics"
	"athsync/internal/model"
	"athsync/internal/notify"
	"athsync/internal/pool"
	"athsync/internal/reconcile"
	"athsync/internal/scheduler"
	"athsync/internal/storage"
	"athsync/internal/verifier"
	"athsync/logger"
	"athsync/pkg/dexscreener"
	"athsync/pkg/geckoterminal"
	"athsync/pkg/network"
	"athsync/pkg/storage/postgres"
	"athsync/pkg/storage/postgrest"
	"athsync/pkg/storage/rediscache"

	"go.uber.org/zap"
)

// app holds everything a command needs, built once from config.
type app struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics
	store   storage.CallStore
	sink    notify.Sink
	sched   *scheduler.Scheduler
	verify  *verifier.Verifier

	closers []func() error
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	if err := a.openStore(ctx, opts); err != nil {
		a.close()
		return nil, err
	}

	md, sources, err := a.marketData(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	resolver := pool.NewResolver(sources, cfg.Scheduler.MinPoolLiquidityUSD, log)
	windows := market.Windows{Minute: cfg.Scheduler.MinuteWindow, Hour: cfg.Scheduler.HourWindow}
	proc := reconcile.NewProcessor(resolver, md, windows, log)

	a.sink = a.openSink(ctx)

	a.sched = scheduler.New(a.store, proc, a.sink, a.metrics, scheduler.OptionsFromConfig(cfg.Scheduler), log)
	a.verify = verifier.New(a.store, proc, a.sink, a.metrics, verifier.OptionsFromConfig(cfg.Verifier, cfg.Scheduler), log)
	return a, nil
}

func (a *app) openStore(ctx context.Context, opts *rootOptions) error {
	env := a.cfg.Log.Environment

	backend := a.cfg.Store.Backend
	if opts.dryRun {
		backend = "memory"
	}

	switch backend {
	case "memory":
		store := memorystore.NewCallStore()
		if opts.seedPath != "" {
			calls, err := readSeed(opts.seedPath)
			if err != nil {
				return err
			}
			for _, c := range calls {
				store.Add(c)
			}
		}
		a.store = store
		a.log.Info("using in-memory call store", zap.Int("calls", len(store.GetAll())))
	case "postgres":
		client, err := postgres.Open(a.cfg.Postgres, env)
		if err != nil {
			return err
		}
		if !client.IsHealthy(ctx) {
			_ = client.Close()
			return fmt.Errorf("postgres at %s is not reachable", a.cfg.Postgres.Host)
		}
		a.store = client
		a.closers = append(a.closers, client.Close)
	default:
		pr := a.cfg.Store.PostgREST
		a.store = postgrest.NewClient(pr.BaseURL, pr.Table, pr.Key(env), pr.Timeout)
	}
	return nil
}

// marketData builds the providers in configured fallback order behind a
// shared rate limit and breaker policy.
func (a *app) marketData(ctx context.Context) (*market.Client, []pool.Source, error) {
	pcfg := a.cfg.Providers
	policy := market.NewPolicy(a.cfg.Policy, a.log, a.metrics)

	var providers []market.Provider
	for _, name := range pcfg.Order {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case network.DexScreener:
			if !pcfg.DexScreener.Enabled {
				continue
			}
			c := pcfg.DexScreener
			policy.Register(network.DexScreener, c.RPS, c.Burst)
			rest := dexscreener.NewRESTClient(c.BaseURL, c.Timeout, c.UserAgent)
			providers = append(providers, market.NewDexScreener(rest, policy, a.log))
		case network.GeckoTerminal:
			if !pcfg.GeckoTerminal.Enabled {
				continue
			}
			c := pcfg.GeckoTerminal
			policy.Register(network.GeckoTerminal, c.RPS, c.Burst)
			rest := geckoterminal.NewRESTClient(c.BaseURL, c.Timeout, c.UserAgent)
			providers = append(providers, market.NewGeckoTerminal(rest, policy, a.log))
		default:
			return nil, nil, fmt.Errorf("unknown provider %q in providers.order", name)
		}
	}
	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("no market data provider enabled")
	}

	cache, err := a.candleCache(ctx)
	if err != nil {
		return nil, nil, err
	}

	client := market.NewClient(providers, a.log,
		market.WithCache(cache),
		market.WithMetrics(a.metrics),
		market.WithOutlierRatio(a.cfg.Providers.OutlierRatio))

	sources := make([]pool.Source, len(providers))
	for i, p := range providers {
		sources[i] = p
	}
	return client, sources, nil
}

func (a *app) candleCache(ctx context.Context) (market.CandleCache, error) {
	if a.cfg.Cache.Backend != "redis" {
		return memorystore.NewCandleStore(a.cfg.Cache.TTL), nil
	}
	rc, err := rediscache.New(ctx, a.cfg.Cache.Redis, a.cfg.Cache.TTL, a.log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rc.Close)
	return rc, nil
}

// openSink connects the websocket publisher. An unreachable endpoint is
// logged and replaced by Nop; notifications never block reconciliation.
func (a *app) openSink(ctx context.Context) notify.Sink {
	if a.cfg.Notify.URL == "" {
		return notify.Nop{}
	}
	ws := notify.NewWSClient(a.cfg.Notify.URL, a.cfg.Notify.WriteTimeout, a.log)
	ws.SetMessageHandler(notify.LogAcks(a.log))
	if err := ws.Connect(ctx); err != nil {
		a.log.Warn("notification sink unavailable, events will be dropped", zap.Error(err))
		return notify.Nop{}
	}
	a.closers = append(a.closers, ws.Close)
	return ws
}

// pushMetrics is best effort; a failed push never fails the run.
func (a *app) pushMetrics(command string) {
	mc := a.cfg.Metrics
	if err := a.metrics.Push(mc.PushgatewayURL, mc.Job, map[string]string{"command": command}); err != nil {
		a.log.Warn("metrics push failed", zap.Error(err))
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	_ = a.log.Sync()
}

func readSeed(path string) ([]model.Call, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var calls []model.Call
	if err := json.Unmarshal(raw, &calls); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return calls, nil
}
