// Package metrics holds the Prometheus instruments shared by the provider
// policy, scheduler and verifier.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics is safe to use as a nil pointer; every recorder is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	ProviderRequests *prometheus.CounterVec   // provider, result
	ProviderLatency  *prometheus.HistogramVec // provider
	TokensProcessed  *prometheus.CounterVec   // tier, outcome
	RunDuration      *prometheus.HistogramVec // tier, mode
	RunAborted       *prometheus.CounterVec   // tier, mode
	Discrepancies    *prometheus.CounterVec   // classification
	CandleCache      *prometheus.CounterVec   // result
}

// New creates the instruments on a dedicated registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		ProviderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athsync",
			Name:      "provider_requests_total",
			Help:      "Upstream market-data requests by provider and result.",
		}, []string{"provider", "result"}),

		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "athsync",
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of upstream market-data requests.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"provider"}),

		TokensProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athsync",
			Name:      "tokens_processed_total",
			Help:      "Calls processed by tier and outcome.",
		}, []string{"tier", "outcome"}),

		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "athsync",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a scheduler or verifier run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"tier", "mode"}),

		RunAborted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athsync",
			Name:      "runs_aborted_total",
			Help:      "Runs aborted by a store or configuration failure.",
		}, []string{"tier", "mode"}),

		Discrepancies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athsync",
			Name:      "ath_discrepancies_total",
			Help:      "Verifier classifications.",
		}, []string{"classification"}),

		CandleCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "athsync",
			Name:      "candle_cache_lookups_total",
			Help:      "Candle cache lookups by result (hit/miss).",
		}, []string{"result"}),
	}
}

// Registry exposes the underlying registry for HTTP exposition or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveProvider(provider, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(took.Seconds())
}

func (m *Metrics) ObserveToken(tier, outcome string) {
	if m == nil {
		return
	}
	m.TokensProcessed.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) ObserveRun(tier, mode string, took time.Duration, aborted bool) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(tier, mode).Observe(took.Seconds())
	if aborted {
		m.RunAborted.WithLabelValues(tier, mode).Inc()
	}
}

func (m *Metrics) ObserveDiscrepancy(classification string) {
	if m == nil {
		return
	}
	m.Discrepancies.WithLabelValues(classification).Inc()
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CandleCache.WithLabelValues(result).Inc()
}

// Push sends the registry to a Prometheus Pushgateway. Cron-triggered runs
// exit before a scrape could happen.
func (m *Metrics) Push(url, job string, grouping map[string]string) error {
	if m == nil || url == "" {
		return nil
	}
	p := push.New(url, job).Gatherer(m.registry)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	if err := p.Push(); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
