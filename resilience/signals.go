package resilience

import "time"

// InflightSnapshot captures a Backpressure gate's concurrency headroom at
// one instant.
type InflightSnapshot struct {
	MaxConcurrent int
	Available     int
	InUse         int
	Peak          int
}

// Utilization returns InUse/MaxConcurrent, or 0 for an unbounded gate.
func (s InflightSnapshot) Utilization() float64 {
	if s.MaxConcurrent <= 0 {
		return 0
	}
	return float64(s.InUse) / float64(s.MaxConcurrent)
}

// RateLimiterSnapshot captures an AdaptiveRateLimiter's token-bucket state.
type RateLimiterSnapshot struct {
	TokensAvailable float64
	MaxTokens       float64
	RefillRate      float64
	IsThrottled     bool
}

// Utilization returns the fraction of the bucket currently drained, or 0
// for an unbounded limiter.
func (s RateLimiterSnapshot) Utilization() float64 {
	if s.MaxTokens <= 0 {
		return 0
	}
	return 1 - s.TokensAvailable/s.MaxTokens
}

// CircuitBreakerSnapshot captures a CircuitBreaker's failure-tracking state.
type CircuitBreakerSnapshot struct {
	State             CircuitState
	FailureCount      int64
	FailureThreshold  int
	SuccessCount      int64
	CooldownRemaining time.Duration
}

// IsOpen reports whether the breaker is rejecting calls outright.
func (s CircuitBreakerSnapshot) IsOpen() bool { return s.State == CircuitOpen }

// IsClosed reports whether the breaker is passing every call through.
func (s CircuitBreakerSnapshot) IsClosed() bool { return s.State == CircuitClosed }

// IsHalfOpen reports whether the breaker is probing with bounded concurrency.
func (s CircuitBreakerSnapshot) IsHalfOpen() bool { return s.State == CircuitHalfOpen }

// Signals aggregates every configured resilience stage's current state
// into one snapshot. A nil field means that stage isn't configured on the
// Executor the snapshot came from. This exists for orchestration
// decisions that need more than Execute's pass/fail outcome, namely
// scoring candidates in a FallbackChain by how healthy each one currently
// looks rather than by static weight alone.
type Signals struct {
	Inflight       *InflightSnapshot
	RateLimiter    *RateLimiterSnapshot
	CircuitBreaker *CircuitBreakerSnapshot
}

// IsHealthy reports whether every configured signal currently looks
// usable: the breaker isn't open, the rate limiter isn't throttled, and
// the backpressure gate has a free slot. A Signals with nothing
// configured is vacuously healthy.
func (s Signals) IsHealthy() bool {
	if s.CircuitBreaker != nil && s.CircuitBreaker.IsOpen() {
		return false
	}
	if s.RateLimiter != nil && s.RateLimiter.IsThrottled {
		return false
	}
	if s.Inflight != nil && s.Inflight.MaxConcurrent > 0 && s.Inflight.Available <= 0 {
		return false
	}
	return true
}

// HealthScore averages a 0.0-1.0 score across every configured signal: 1.0
// for a closed breaker, idle rate limiter, and empty backpressure gate,
// scaled down toward 0.0 as each degrades. A stage the Executor doesn't
// configure contributes nothing to the average; an Executor with no
// stages configured scores 1.0, since it has nothing to report as
// unhealthy.
func (s Signals) HealthScore() float64 {
	var total float64
	var count int

	if s.CircuitBreaker != nil {
		switch s.CircuitBreaker.State {
		case CircuitOpen:
			total += 0.0
		case CircuitHalfOpen:
			total += 0.5
		default:
			total += 1.0
		}
		count++
	}
	if s.RateLimiter != nil {
		score := 1 - s.RateLimiter.Utilization()
		if s.RateLimiter.IsThrottled {
			score = 0
		}
		total += clamp01(score)
		count++
	}
	if s.Inflight != nil {
		total += clamp01(1 - s.Inflight.Utilization())
		count++
	}

	if count == 0 {
		return 1.0
	}
	return total / float64(count)
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

// Signals returns a snapshot of every configured component's current
// state, for callers that need richer input than CircuitState or
// CurrentInflight alone (FallbackChain target scoring, health endpoints).
func (e *Executor) Signals() Signals {
	var s Signals

	if e.backpressure != nil {
		max := e.backpressure.MaxConcurrent()
		inUse := e.backpressure.CurrentInflight()
		available := 0
		if max > 0 {
			available = max - inUse
			if available < 0 {
				available = 0
			}
		}
		s.Inflight = &InflightSnapshot{MaxConcurrent: max, Available: available, InUse: inUse, Peak: e.backpressure.PeakInflight()}
	}

	if e.rateLimiter != nil {
		maxTokens, refillRate := e.rateLimiter.Capacity()
		s.RateLimiter = &RateLimiterSnapshot{
			TokensAvailable: e.rateLimiter.AvailableTokens(),
			MaxTokens:       maxTokens,
			RefillRate:      refillRate,
			IsThrottled:     e.rateLimiter.IsLimited() && e.rateLimiter.AvailableTokens() < 1,
		}
	}

	if e.breaker != nil {
		stats := e.breaker.Stats()
		s.CircuitBreaker = &CircuitBreakerSnapshot{
			State:             e.breaker.State(),
			FailureCount:      stats.FailedRequests,
			FailureThreshold:  e.breaker.cfg.FailureThreshold,
			SuccessCount:      stats.SuccessRequests,
			CooldownRemaining: e.breaker.GetTimeUntilRetry(),
		}
	}

	return s
}
