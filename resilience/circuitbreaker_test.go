package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/aigo/protocol"
)

func retryableErr() error {
	return protocol.New(protocol.KindServerError, "boom")
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, CooldownSeconds: 60, HalfOpenMaxConcurrent: 1})

	err1 := cb.Execute(context.Background(), func() error { return retryableErr() })
	require.Error(t, err1)
	assert.Equal(t, CircuitClosed, cb.State())

	err2 := cb.Execute(context.Background(), func() error { return retryableErr() })
	require.Error(t, err2)
	assert.Equal(t, CircuitOpen, cb.State())

	err3 := cb.Execute(context.Background(), func() error { return nil })
	require.Error(t, err3)
	pe, ok := protocol.As(err3)
	require.True(t, ok)
	assert.Equal(t, protocol.KindCircuitOpen, pe.Kind)
}

func TestCircuitBreakerHalfOpenRecoversToClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, CooldownSeconds: 0, HalfOpenMaxConcurrent: 1})

	_ = cb.Execute(context.Background(), func() error { return retryableErr() })
	// With a 0s cooldown State() would already report HalfOpen, so the trip
	// itself is checked on the stored state.
	assert.Equal(t, CircuitOpen, cb.state)

	// Cooldown is 0s, so the very next State()/Execute() call sees HalfOpen.
	err := cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerHalfOpenReopensOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, CooldownSeconds: 0, HalfOpenMaxConcurrent: 1})

	_ = cb.Execute(context.Background(), func() error { return retryableErr() })
	// The stored state is checked: with a 0s cooldown State() reports HalfOpen.
	assert.Equal(t, CircuitOpen, cb.state)

	err := cb.Execute(context.Background(), func() error { return retryableErr() })
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.state)
}

func TestCircuitBreakerClosedSuccessDecrementsFailureCountBySoftReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, CooldownSeconds: 60, HalfOpenMaxConcurrent: 1})

	// fail, fail, success, fail, fail: a full reset on the success would
	// leave failureCount at 2 after the last fail and never trip. A soft
	// decrement-by-one leaves failureCount at 1, then 2, then 3 -> open.
	require.Error(t, cb.Execute(context.Background(), func() error { return retryableErr() }))
	require.Error(t, cb.Execute(context.Background(), func() error { return retryableErr() }))
	assert.Equal(t, CircuitClosed, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())

	require.Error(t, cb.Execute(context.Background(), func() error { return retryableErr() }))
	assert.Equal(t, CircuitClosed, cb.State())

	err := cb.Execute(context.Background(), func() error { return retryableErr() })
	require.Error(t, err)
	assert.Equal(t, CircuitOpen, cb.State())
}

func TestCircuitBreakerClosedSuccessDoesNotUnderflowFailureCount(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, CooldownSeconds: 60, HalfOpenMaxConcurrent: 1})

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())

	require.Error(t, cb.Execute(context.Background(), func() error { return retryableErr() }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreakerStatsAndReset(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	_ = cb.Execute(context.Background(), func() error { return nil })
	_ = cb.Execute(context.Background(), func() error { return errors.New("plain error, not classified") })

	stats := cb.Stats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)

	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
	assert.Equal(t, CircuitStats{}, cb.Stats())
}

func TestCircuitBreakerTimeout(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 5, SuccessThreshold: 1, CooldownSeconds: 30, HalfOpenMaxConcurrent: 1, Timeout: 10 * time.Millisecond})

	err := cb.Execute(context.Background(), func() error {
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	require.Error(t, err)
	pe, ok := protocol.As(err)
	require.True(t, ok)
	assert.Equal(t, protocol.KindTransportTimeout, pe.Kind)
}
