package resilience

import (
	"context"
	"time"

	"github.com/leofalp/aigo/protocol"
	"github.com/leofalp/aigo/providers/observability"
)

// Config bundles the resilience patterns an Executor composes. A nil
// field disables that stage entirely.
type Config struct {
	Retry           *RetryConfig
	RateLimit       *RateLimiterConfig
	CircuitBreaker  *CircuitBreakerConfig
	Backpressure    *BackpressureConfig
	Manifest        *protocol.Manifest // drives adaptive rate-limit header names, if RateLimit is set
}

// DefaultConfig enables every resilience pattern with its package default.
func DefaultConfig() Config {
	retry := DefaultRetryConfig()
	rl := RateLimiterConfig{}
	cb := DefaultCircuitBreakerConfig()
	bp := DefaultBackpressureConfig()
	return Config{Retry: &retry, RateLimit: &rl, CircuitBreaker: &cb, Backpressure: &bp}
}

// MinimalConfig enables only basic retry.
func MinimalConfig() Config {
	retry := RetryConfig{MaxRetries: 2, MinDelay: time.Second, MaxDelay: 60 * time.Second, ExponentialBase: 2.0, Jitter: JitterFull}
	return Config{Retry: &retry}
}

// ProductionConfig enables every pattern with production-sized limits.
func ProductionConfig() Config {
	retry := RetryConfig{MaxRetries: 3, MinDelay: time.Second, MaxDelay: 30 * time.Second, ExponentialBase: 2.0, Jitter: JitterFull}
	rl := RateLimiterConfigFromRPS(10)
	cb := CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 2, CooldownSeconds: 30, HalfOpenMaxConcurrent: 1, Timeout: 30 * time.Second}
	bp := BackpressureConfig{MaxConcurrent: 10}
	return Config{Retry: &retry, RateLimit: &rl, CircuitBreaker: &cb, Backpressure: &bp}
}

// ExecutionStats reports what happened during one Executor.ExecuteWithStats call.
type ExecutionStats struct {
	Success          bool
	RetryResult      *RetryResult
	RateLimitWait    time.Duration
	CircuitState     CircuitState
	InflightAtStart  int
}

// Executor composes, in fixed order, backpressure (outermost) -> rate
// limiting -> circuit breaker -> retry (innermost), per the
// external-interface contract. Disabled stages (nil in Config) are
// skipped.
type Executor struct {
	name         string
	retry        *RetryPolicy
	rateLimiter  *AdaptiveRateLimiter
	breaker      *CircuitBreaker
	backpressure *Backpressure
	obs          observability.Provider
}

// NewExecutor constructs an Executor from cfg. name identifies this
// executor in logs, spans, and stats.
func NewExecutor(name string, cfg Config, obs observability.Provider) *Executor {
	e := &Executor{name: name, obs: obs}
	if cfg.Retry != nil {
		e.retry = NewRetryPolicy(*cfg.Retry)
	}
	if cfg.RateLimit != nil {
		e.rateLimiter = NewAdaptiveRateLimiter(*cfg.RateLimit, cfg.Manifest)
	}
	if cfg.CircuitBreaker != nil {
		e.breaker = NewCircuitBreaker(*cfg.CircuitBreaker)
	}
	if cfg.Backpressure != nil {
		e.backpressure = NewBackpressure(*cfg.Backpressure)
	}
	return e
}

// Name returns the executor's identifier.
func (e *Executor) Name() string { return e.name }

// CircuitState returns the current circuit breaker state, or "disabled"
// if no circuit breaker is configured.
func (e *Executor) CircuitState() CircuitState {
	if e.breaker == nil {
		return "disabled"
	}
	return e.breaker.State()
}

// CurrentInflight returns the current in-flight count, or 0 if no
// backpressure gate is configured.
func (e *Executor) CurrentInflight() int {
	if e.backpressure == nil {
		return 0
	}
	return e.backpressure.CurrentInflight()
}

// RateLimiter exposes the executor's adaptive rate limiter, so callers
// can feed it response headers after each round trip via
// UpdateFromHeaders. Returns nil if rate limiting is disabled.
func (e *Executor) RateLimiter() *AdaptiveRateLimiter { return e.rateLimiter }

// OnRetryFunc is invoked before each retry wait.
type OnRetryFunc func(attempt int, err error, delay time.Duration)

// Execute runs op through every configured resilience stage and returns
// its result.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) (any, error), onRetry OnRetryFunc) (any, error) {
	if e.obs != nil {
		var span observability.Span
		ctx, span = e.obs.StartSpan(ctx, "resilience.executor.execute", observability.String("executor.name", e.name))
		defer span.End()
	}

	if e.backpressure == nil {
		return e.executeInner(ctx, op, onRetry)
	}
	release, err := e.backpressure.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return e.executeInner(ctx, op, onRetry)
}

func (e *Executor) executeInner(ctx context.Context, op func(ctx context.Context) (any, error), onRetry OnRetryFunc) (any, error) {
	if e.rateLimiter != nil {
		if _, err := e.rateLimiter.Acquire(ctx); err != nil {
			return nil, err
		}
	}

	runRetried := func() (any, error) {
		return e.executeWithRetry(ctx, op, onRetry)
	}

	if e.breaker == nil {
		return runRetried()
	}

	var result any
	err := e.breaker.Execute(ctx, func() error {
		v, opErr := runRetried()
		result = v
		return opErr
	})
	return result, err
}

func (e *Executor) executeWithRetry(ctx context.Context, op func(ctx context.Context) (any, error), onRetry OnRetryFunc) (any, error) {
	if e.retry == nil {
		return op(ctx)
	}
	result := e.retry.Execute(ctx, func() (any, error) { return op(ctx) }, onRetry)
	if result.Success {
		return result.Value, nil
	}
	return nil, result.Err
}

// ExecuteWithStats behaves like Execute but additionally returns
// diagnostic counters: the rate-limit wait incurred, the circuit state at
// call time, and the retry outcome.
func (e *Executor) ExecuteWithStats(ctx context.Context, op func(ctx context.Context) (any, error), onRetry OnRetryFunc) (any, ExecutionStats, error) {
	stats := ExecutionStats{CircuitState: e.CircuitState(), InflightAtStart: e.CurrentInflight()}

	run := func() (any, error) {
		if e.rateLimiter != nil {
			wait, err := e.rateLimiter.Acquire(ctx)
			stats.RateLimitWait = wait
			if err != nil {
				return nil, err
			}
		}

		retryAndReport := func() (any, error) {
			if e.retry == nil {
				return op(ctx)
			}
			rr := e.retry.Execute(ctx, func() (any, error) { return op(ctx) }, onRetry)
			stats.RetryResult = &rr
			if rr.Success {
				return rr.Value, nil
			}
			return nil, rr.Err
		}

		if e.breaker == nil {
			return retryAndReport()
		}
		stats.CircuitState = e.breaker.State()
		var result any
		err := e.breaker.Execute(ctx, func() error {
			v, opErr := retryAndReport()
			result = v
			return opErr
		})
		return result, err
	}

	var (
		result any
		err    error
	)
	if e.backpressure != nil {
		var release release
		release, err = e.backpressure.Acquire(ctx)
		if err != nil {
			return nil, stats, err
		}
		result, err = run()
		release()
	} else {
		result, err = run()
	}

	stats.Success = err == nil
	return result, stats, err
}

// Stats aggregates component-level statistics for introspection/metrics.
type Stats struct {
	Name            string
	RateLimiter     *RateLimiterStats
	CircuitBreaker  *CircuitStats
	Backpressure    *BackpressureStats
}

// RateLimiterStats summarizes an AdaptiveRateLimiter's current state.
type RateLimiterStats struct {
	AvailableTokens float64
	IsLimited       bool
	Server          ServerState
}

// GetStats returns a snapshot of every enabled component's statistics.
func (e *Executor) GetStats() Stats {
	s := Stats{Name: e.name}
	if e.rateLimiter != nil {
		s.RateLimiter = &RateLimiterStats{
			AvailableTokens: e.rateLimiter.AvailableTokens(),
			IsLimited:       e.rateLimiter.IsLimited(),
			Server:          e.rateLimiter.ServerState(),
		}
	}
	if e.breaker != nil {
		stats := e.breaker.Stats()
		s.CircuitBreaker = &stats
	}
	if e.backpressure != nil {
		stats := e.backpressure.Stats()
		s.Backpressure = &stats
	}
	return s
}

// Reset returns every configured component to its initial state.
func (e *Executor) Reset() {
	if e.breaker != nil {
		e.breaker.Reset()
	}
}
