package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/leofalp/aigo/protocol"
)

// JitterStrategy selects how randomness is applied to a computed backoff
// delay.
type JitterStrategy string

const (
	JitterNone  JitterStrategy = "none"
	JitterFull  JitterStrategy = "full"
	JitterEqual JitterStrategy = "equal"
)

// RetryConfig configures exponential backoff retry.
type RetryConfig struct {
	MaxRetries        int
	MinDelay          time.Duration
	MaxDelay          time.Duration
	Jitter            JitterStrategy
	ExponentialBase   float64
	RetryOnHTTPStatus map[int]bool
}

// DefaultRetryConfig returns the package's baseline retry settings.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		MinDelay:        time.Second,
		MaxDelay:        60 * time.Second,
		Jitter:          JitterFull,
		ExponentialBase: 2.0,
		RetryOnHTTPStatus: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true,
		},
	}
}

// NoRetryConfig disables retries entirely.
func NoRetryConfig() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxRetries = 0
	return cfg
}

// RetryResult reports the outcome of a retried operation.
type RetryResult struct {
	Success      bool
	Value        any
	Err          error
	Attempts     int
	TotalDelay   time.Duration
}

// RetryPolicy executes an operation with exponential backoff, honoring a
// Retry-After hint from a *protocol.Error when present.
type RetryPolicy struct {
	cfg RetryConfig
}

// NewRetryPolicy constructs a RetryPolicy.
func NewRetryPolicy(cfg RetryConfig) *RetryPolicy { return &RetryPolicy{cfg: cfg} }

// CalculateDelay computes the backoff for the given 0-based attempt
// number. If retryAfter is non-zero, it overrides the computed delay, so
// a server-declared Retry-After always wins over the backoff schedule.
func (p *RetryPolicy) CalculateDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}

	base := float64(p.cfg.MinDelay) * math.Pow(p.cfg.ExponentialBase, float64(attempt))
	if max := float64(p.cfg.MaxDelay); base > max {
		base = max
	}

	var delay float64
	switch p.cfg.Jitter {
	case JitterFull:
		delay = rand.Float64() * base
	case JitterEqual:
		delay = base/2 + rand.Float64()*(base/2)
	default:
		delay = base
	}
	return time.Duration(delay)
}

// ShouldRetry reports whether err should trigger another attempt, given
// the 0-based attempt number that just failed.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.cfg.MaxRetries {
		return false
	}
	pe, ok := protocol.As(err)
	if !ok {
		return false
	}
	if p.cfg.RetryOnHTTPStatus[pe.Context.HTTPStatus] {
		return true
	}
	return pe.Retryable()
}

// retryAfterOf extracts a Retry-After duration from err, if any.
func retryAfterOf(err error) time.Duration {
	pe, ok := protocol.As(err)
	if !ok || pe.Context.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(pe.Context.RetryAfter * float64(time.Second))
}

// Execute runs op, retrying on retryable failures per the policy. onRetry,
// if non-nil, is invoked before each wait with the 1-based attempt number,
// the error that triggered it, and the computed delay.
func (p *RetryPolicy) Execute(ctx context.Context, op func() (any, error), onRetry func(attempt int, err error, delay time.Duration)) RetryResult {
	var totalDelay time.Duration
	attempt := 0

	for {
		value, err := op()
		if err == nil {
			return RetryResult{Success: true, Value: value, Attempts: attempt + 1, TotalDelay: totalDelay}
		}

		attempt++
		if !p.ShouldRetry(err, attempt-1) {
			return RetryResult{Success: false, Err: err, Attempts: attempt, TotalDelay: totalDelay}
		}

		delay := p.CalculateDelay(attempt-1, retryAfterOf(err))
		totalDelay += delay
		if onRetry != nil {
			onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return RetryResult{Success: false, Err: ctx.Err(), Attempts: attempt, TotalDelay: totalDelay}
		}
	}
}
