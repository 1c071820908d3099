package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/aigo/protocol"
)

func TestRetryPolicySucceedsAfterTransientFailures(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{
		MaxRetries: 3, MinDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond,
		Jitter: JitterNone, ExponentialBase: 2.0,
	})

	attempts := 0
	result := policy.Execute(context.Background(), func() (any, error) {
		attempts++
		if attempts < 3 {
			return nil, protocol.New(protocol.KindServerError, "transient")
		}
		return "ok", nil
	}, nil)

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Value)
	assert.Equal(t, 3, result.Attempts)
}

func TestRetryPolicyStopsOnNonRetryableError(t *testing.T) {
	policy := NewRetryPolicy(DefaultRetryConfig())
	attempts := 0
	result := policy.Execute(context.Background(), func() (any, error) {
		attempts++
		return nil, protocol.New(protocol.KindBadRequest, "nope")
	}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyExhaustsMaxRetries(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 2, MinDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: JitterNone, ExponentialBase: 2.0})
	attempts := 0
	result := policy.Execute(context.Background(), func() (any, error) {
		attempts++
		return nil, protocol.New(protocol.KindServerError, "still failing")
	}, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}

func TestRetryPolicyRetryAfterOverridesComputedDelay(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 5, MinDelay: time.Hour, MaxDelay: time.Hour, Jitter: JitterNone, ExponentialBase: 2.0})
	delay := policy.CalculateDelay(0, 5*time.Millisecond)
	assert.Equal(t, 5*time.Millisecond, delay)
}

func TestRetryPolicyJitterFullStaysWithinBase(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MinDelay: 100 * time.Millisecond, MaxDelay: time.Second, Jitter: JitterFull, ExponentialBase: 2.0})
	for i := 0; i < 20; i++ {
		delay := policy.CalculateDelay(0, 0)
		assert.GreaterOrEqual(t, delay, time.Duration(0))
		assert.LessOrEqual(t, delay, 100*time.Millisecond)
	}
}

func TestRetryPolicyContextCancellationAbortsWait(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{MaxRetries: 3, MinDelay: time.Second, MaxDelay: time.Second, Jitter: JitterNone, ExponentialBase: 2.0})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := policy.Execute(ctx, func() (any, error) {
		return nil, protocol.New(protocol.KindServerError, "fail")
	}, nil)

	require.False(t, result.Success)
	assert.ErrorIs(t, result.Err, context.Canceled)
}
