package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/leofalp/aigo/protocol"
)

// CircuitState is one of the three states a CircuitBreaker can be in.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitBreakerConfig configures failure/success thresholds and cooldown.
type CircuitBreakerConfig struct {
	FailureThreshold      int
	SuccessThreshold      int
	CooldownSeconds       float64
	HalfOpenMaxConcurrent int
	Timeout               time.Duration
}

// DefaultCircuitBreakerConfig returns the package's baseline thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		CooldownSeconds:       30,
		HalfOpenMaxConcurrent: 1,
		Timeout:               30 * time.Second,
	}
}

// CircuitStats is a snapshot of lifetime counters.
type CircuitStats struct {
	TotalRequests    int64
	FailedRequests   int64
	RejectedRequests int64
	SuccessRequests  int64
}

// CircuitOpenError is returned (wrapped as a protocol.Error of kind
// KindCircuitOpen) when the circuit rejects a call outright.
type CircuitOpenError struct {
	TimeUntilRetry time.Duration
}

func (e *CircuitOpenError) Error() string {
	return "circuit breaker is open"
}

// CircuitBreaker implements the three-state machine described in the
// external-interface contract: Closed -> Open on failure_count >=
// threshold; Open -> HalfOpen lazily, on the next call once the cooldown
// has elapsed; HalfOpen -> Closed on success_count >= threshold;
// HalfOpen -> Open on any failure. The state-transition decision is taken
// under a mutex; the guarded operation itself always runs outside the
// lock. Concurrency while half-open is bounded by a semaphore sized
// HalfOpenMaxConcurrent.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	openedAt        time.Time
	halfOpenSlots   chan struct{}
	stats           CircuitStats
}

// NewCircuitBreaker constructs a CircuitBreaker starting in the Closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.HalfOpenMaxConcurrent <= 0 {
		cfg.HalfOpenMaxConcurrent = 1
	}
	return &CircuitBreaker{
		cfg:           cfg,
		state:         CircuitClosed,
		halfOpenSlots: make(chan struct{}, cfg.HalfOpenMaxConcurrent),
	}
}

// State returns the current circuit state, lazily transitioning
// Open -> HalfOpen if the cooldown has elapsed.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.checkStateTransitionLocked()
	return cb.state
}

// checkStateTransitionLocked lazily moves Open -> HalfOpen once the
// cooldown window has elapsed. Caller must hold cb.mu.
func (cb *CircuitBreaker) checkStateTransitionLocked() {
	if cb.state != CircuitOpen {
		return
	}
	if time.Since(cb.openedAt) >= time.Duration(cb.cfg.CooldownSeconds*float64(time.Second)) {
		cb.transitionLocked(CircuitHalfOpen)
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) {
	cb.state = to
	switch to {
	case CircuitOpen:
		cb.openedAt = time.Now()
		cb.successCount = 0
	case CircuitHalfOpen:
		cb.successCount = 0
		cb.failureCount = 0
	case CircuitClosed:
		cb.failureCount = 0
		cb.successCount = 0
	}
}

// GetTimeUntilRetry reports how long until an Open circuit becomes
// eligible for a HalfOpen probe. Zero if not Open.
func (cb *CircuitBreaker) GetTimeUntilRetry() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitOpen {
		return 0
	}
	cooldown := time.Duration(cb.cfg.CooldownSeconds * float64(time.Second))
	remaining := cooldown - time.Since(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Execute runs op, gated by the breaker's current state. When Open (and
// the cooldown has not elapsed), it rejects immediately with
// KindCircuitOpen. When HalfOpen, it bounds concurrent probes to
// HalfOpenMaxConcurrent and rejects overflow the same way.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func() error) error {
	cb.mu.Lock()
	cb.checkStateTransitionLocked()
	state := cb.state
	cb.stats.TotalRequests++

	if state == CircuitOpen {
		cb.stats.RejectedRequests++
		timeUntilRetry := cb.cfg.CooldownSeconds*float64(time.Second) - float64(time.Since(cb.openedAt))
		cb.mu.Unlock()
		return protocol.Wrap(protocol.KindCircuitOpen, "circuit breaker is open", &CircuitOpenError{TimeUntilRetry: time.Duration(timeUntilRetry)})
	}
	cb.mu.Unlock()

	if state == CircuitHalfOpen {
		select {
		case cb.halfOpenSlots <- struct{}{}:
			defer func() { <-cb.halfOpenSlots }()
		default:
			cb.mu.Lock()
			cb.stats.RejectedRequests++
			cb.mu.Unlock()
			return protocol.New(protocol.KindCircuitOpen, "circuit breaker is half-open and at its concurrent-probe limit")
		}
	}

	err := cb.runWithTimeout(ctx, op)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.stats.FailedRequests++
		cb.recordFailureLocked()
	} else {
		cb.stats.SuccessRequests++
		cb.recordSuccessLocked()
	}
	return err
}

func (cb *CircuitBreaker) runWithTimeout(ctx context.Context, op func() error) error {
	if cb.cfg.Timeout <= 0 {
		return op()
	}
	ctx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- op() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return protocol.Wrap(protocol.KindTransportTimeout, "circuit breaker: operation timed out", ctx.Err())
	}
}

// recordSuccessLocked must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccessLocked() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(CircuitClosed)
		}
	case CircuitClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	}
}

// recordFailureLocked must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailureLocked() {
	switch cb.state {
	case CircuitHalfOpen:
		cb.transitionLocked(CircuitOpen)
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transitionLocked(CircuitOpen)
		}
	}
}

// Stats returns a snapshot of the breaker's lifetime counters.
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Reset returns the breaker to Closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(CircuitClosed)
	cb.stats = CircuitStats{}
}
