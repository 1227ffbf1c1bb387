package market

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"athsync/config"
	"athsync/internal/metrics"
	"athsync/internal/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Policy is the single rate-limit, circuit-breaker and retry policy shared
// by every worker. Limits are per provider, not per worker, so they hold
// under any degree of parallelism.
type Policy struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	breakers map[string]*gobreaker.CircuitBreaker

	cfg     config.PolicyConfig
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPolicy(cfg config.PolicyConfig, logger *zap.Logger, m *metrics.Metrics) *Policy {
	return &Policy{
		limiters: make(map[string]*rate.Limiter),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "policy")),
		metrics:  m,
	}
}

// Register installs the limiter and breaker for provider. rps <= 0 means unlimited.
func (p *Policy) Register(provider string, rps float64, burst int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	p.limiters[provider] = rate.NewLimiter(limit, burst)

	failures := p.cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	p.breakers[provider] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     p.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// A 404 means the service answered; it says nothing about its health.
		IsSuccessful: func(err error) bool {
			return err == nil || statusOf(err) == http.StatusNotFound
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("provider circuit changed",
				zap.String("provider", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

func (p *Policy) get(provider string) (*rate.Limiter, *gobreaker.CircuitBreaker) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.limiters[provider], p.breakers[provider]
}

func (p *Policy) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.cfg.InitialBackoff > 0 {
		b.InitialInterval = p.cfg.InitialBackoff
	}
	if p.cfg.MaxBackoff > 0 {
		b.MaxInterval = p.cfg.MaxBackoff
	}
	b.MaxElapsedTime = 0 // bounded by retry count and context instead
	return backoff.WithMaxRetries(b, p.cfg.MaxRetries)
}

// Do runs op under provider's limiter and breaker, retrying transient
// failures with exponential backoff. Every returned error that is not a
// caller bug satisfies errors.Is(err, model.ErrProviderUnavailable).
func (p *Policy) Do(ctx context.Context, provider string, op func(ctx context.Context) error) error {
	limiter, breaker := p.get(provider)
	if limiter == nil {
		p.Register(provider, 0, 1)
		limiter, breaker = p.get(provider)
	}

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(&model.ProviderError{Provider: provider, Err: err})
		}

		start := time.Now()
		_, err := breaker.Execute(func() (interface{}, error) {
			return nil, op(ctx)
		})
		p.metrics.ObserveProvider(provider, resultLabel(err), time.Since(start))

		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(&model.ProviderError{Provider: provider, Err: err})
		case !retryable(ctx, err):
			return backoff.Permanent(asProviderError(provider, err))
		}

		p.logger.Debug("provider request failed, retrying",
			zap.String("provider", provider),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return asProviderError(provider, err)
	}, backoff.WithContext(p.newBackOff(), ctx))

	if err == nil {
		return nil
	}
	return asProviderError(provider, err)
}

// retryable covers transport errors, 404, 408, 429 and 5xx. Decode errors
// and other 4xx are permanent.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false
	}

	switch status := statusOf(err); {
	case status == 0:
		return true
	case status == http.StatusNotFound, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	}
	return false
}

func statusOf(err error) int {
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return pe.StatusCode
	}
	return 0
}

func asProviderError(provider string, err error) error {
	var pe *model.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &model.ProviderError{Provider: provider, Err: err}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "circuit_open"
	case statusOf(err) == http.StatusNotFound:
		return "not_found"
	case statusOf(err) == http.StatusTooManyRequests:
		return "rate_limited"
	}
	return "error"
}
