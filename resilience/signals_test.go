package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalsHealthScoreAllHealthyIsOne(t *testing.T) {
	s := Signals{
		CircuitBreaker: &CircuitBreakerSnapshot{State: CircuitClosed},
		RateLimiter:    &RateLimiterSnapshot{TokensAvailable: 10, MaxTokens: 10},
		Inflight:       &InflightSnapshot{MaxConcurrent: 10, Available: 10, InUse: 0},
	}
	assert.Equal(t, 1.0, s.HealthScore())
	assert.True(t, s.IsHealthy())
}

func TestSignalsHealthScoreOpenBreakerIsZeroContribution(t *testing.T) {
	s := Signals{CircuitBreaker: &CircuitBreakerSnapshot{State: CircuitOpen}}
	assert.Equal(t, 0.0, s.HealthScore())
	assert.False(t, s.IsHealthy())
}

func TestSignalsHealthScoreHalfOpenBreakerIsHalfway(t *testing.T) {
	s := Signals{CircuitBreaker: &CircuitBreakerSnapshot{State: CircuitHalfOpen}}
	assert.Equal(t, 0.5, s.HealthScore())
	assert.True(t, s.IsHealthy())
}

func TestSignalsHealthScoreThrottledRateLimiterIsUnhealthy(t *testing.T) {
	s := Signals{RateLimiter: &RateLimiterSnapshot{TokensAvailable: 0, MaxTokens: 10, IsThrottled: true}}
	assert.Equal(t, 0.0, s.HealthScore())
	assert.False(t, s.IsHealthy())
}

func TestSignalsHealthScoreSaturatedBackpressureIsUnhealthy(t *testing.T) {
	s := Signals{Inflight: &InflightSnapshot{MaxConcurrent: 5, Available: 0, InUse: 5}}
	assert.False(t, s.IsHealthy())
	assert.Equal(t, 0.0, s.HealthScore())
}

func TestSignalsHealthScoreNothingConfiguredIsOne(t *testing.T) {
	s := Signals{}
	assert.Equal(t, 1.0, s.HealthScore())
	assert.True(t, s.IsHealthy())
}

func TestSignalsHealthScoreAveragesAcrossConfiguredStages(t *testing.T) {
	s := Signals{
		CircuitBreaker: &CircuitBreakerSnapshot{State: CircuitClosed},   // 1.0
		RateLimiter:    &RateLimiterSnapshot{TokensAvailable: 5, MaxTokens: 10}, // 0.5
	}
	assert.InDelta(t, 0.75, s.HealthScore(), 0.001)
}

func TestExecutorSignalsReflectsConfiguredStages(t *testing.T) {
	cfg := Config{
		CircuitBreaker: &CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, CooldownSeconds: 30, HalfOpenMaxConcurrent: 1},
		RateLimit:      &RateLimiterConfig{RequestsPerSecond: 5, BurstSize: 5},
		Backpressure:   &BackpressureConfig{MaxConcurrent: 3},
	}
	e := NewExecutor("signals-test", cfg, nil)

	s := e.Signals()
	require.NotNil(t, s.CircuitBreaker)
	require.NotNil(t, s.RateLimiter)
	require.NotNil(t, s.Inflight)

	assert.Equal(t, CircuitClosed, s.CircuitBreaker.State)
	assert.Equal(t, 2, s.CircuitBreaker.FailureThreshold)
	assert.Equal(t, 5.0, s.RateLimiter.MaxTokens)
	assert.Equal(t, 3, s.Inflight.MaxConcurrent)
	assert.Equal(t, 3, s.Inflight.Available)
	assert.True(t, s.IsHealthy())
}

func TestExecutorSignalsNoStagesConfigured(t *testing.T) {
	e := NewExecutor("bare", Config{}, nil)
	s := e.Signals()
	assert.Nil(t, s.CircuitBreaker)
	assert.Nil(t, s.RateLimiter)
	assert.Nil(t, s.Inflight)
	assert.True(t, s.IsHealthy())
}

func TestExecutorSignalsReflectInflightUsage(t *testing.T) {
	cfg := Config{Backpressure: &BackpressureConfig{MaxConcurrent: 2}}
	e := NewExecutor("inflight-test", cfg, nil)

	release, err := e.backpressure.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	s := e.Signals()
	require.NotNil(t, s.Inflight)
	assert.Equal(t, 1, s.Inflight.InUse)
	assert.Equal(t, 1, s.Inflight.Available)
}

func TestExecutorSignalsReflectPeakInflightAfterRelease(t *testing.T) {
	cfg := Config{Backpressure: &BackpressureConfig{MaxConcurrent: 2}}
	e := NewExecutor("peak-test", cfg, nil)

	r1, err := e.backpressure.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := e.backpressure.Acquire(context.Background())
	require.NoError(t, err)
	r1()
	r2()

	s := e.Signals()
	require.NotNil(t, s.Inflight)
	assert.Equal(t, 0, s.Inflight.InUse)
	assert.Equal(t, 2, s.Inflight.Peak)
}

func TestExecutorSignalsBreakerOpensAfterFailures(t *testing.T) {
	cfg := Config{CircuitBreaker: &CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, CooldownSeconds: 30, HalfOpenMaxConcurrent: 1, Timeout: time.Second}}
	e := NewExecutor("breaker-test", cfg, nil)

	_, _ = e.Execute(context.Background(), func(ctx context.Context) (any, error) {
		return nil, assertErr
	}, nil)

	s := e.Signals()
	require.NotNil(t, s.CircuitBreaker)
	assert.True(t, s.CircuitBreaker.IsOpen())
	assert.False(t, s.IsHealthy())
	assert.Equal(t, 0.0, s.HealthScore())
}

var assertErr = errFixture{}

type errFixture struct{}

func (errFixture) Error() string { return "fixture failure" }
