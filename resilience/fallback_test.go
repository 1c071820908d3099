package resilience

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/aigo/protocol"
)

func TestFallbackChainTriesInWeightOrder(t *testing.T) {
	chain := NewFallbackChain(DefaultFallbackConfig())
	var tried []string
	chain.AddTarget("low", func(ctx context.Context) (any, error) {
		tried = append(tried, "low")
		return "low-result", nil
	}, 1, true)
	chain.AddTarget("high", func(ctx context.Context) (any, error) {
		tried = append(tried, "high")
		return nil, protocol.New(protocol.KindServerError, "fail")
	}, 10, true)

	result := chain.Execute(context.Background(), nil)
	assert.True(t, result.Success)
	assert.Equal(t, "low-result", result.Value)
	assert.Equal(t, []string{"high", "low"}, tried)
	assert.Equal(t, "low", result.TargetUsed)
}

func TestFallbackChainAbortsOnNonFallbackableError(t *testing.T) {
	chain := NewFallbackChain(DefaultFallbackConfig())
	calledSecond := false
	chain.AddTarget("first", func(ctx context.Context) (any, error) {
		return nil, protocol.New(protocol.KindBadRequest, "not fallbackable")
	}, 10, true)
	chain.AddTarget("second", func(ctx context.Context) (any, error) {
		calledSecond = true
		return "ok", nil
	}, 1, true)

	result := chain.Execute(context.Background(), nil)
	assert.False(t, result.Success)
	assert.False(t, calledSecond)
	assert.Equal(t, []string{"first"}, result.TargetsTried)
}

func TestFallbackChainSkipsDisabledTargets(t *testing.T) {
	chain := NewFallbackChain(DefaultFallbackConfig())
	chain.AddTarget("disabled", func(ctx context.Context) (any, error) {
		return "should not run", nil
	}, 100, false)
	chain.AddTarget("enabled", func(ctx context.Context) (any, error) {
		return "ran", nil
	}, 1, true)

	result := chain.Execute(context.Background(), nil)
	assert.True(t, result.Success)
	assert.Equal(t, "ran", result.Value)
}

func TestFallbackChainNoEnabledTargets(t *testing.T) {
	chain := NewFallbackChain(DefaultFallbackConfig())
	result := chain.Execute(context.Background(), nil)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Errors["_chain"], ErrNoEnabledTargets)
}

func TestFallbackChainPrefersHealthierLowerWeightTarget(t *testing.T) {
	chain := NewFallbackChain(DefaultFallbackConfig())
	var tried []string
	chain.AddTargetWithSignals("degraded", func(ctx context.Context) (any, error) {
		tried = append(tried, "degraded")
		return "degraded-result", nil
	}, 10, true, func() Signals {
		return Signals{CircuitBreaker: &CircuitBreakerSnapshot{State: CircuitOpen}}
	})
	chain.AddTargetWithSignals("healthy", func(ctx context.Context) (any, error) {
		tried = append(tried, "healthy")
		return "healthy-result", nil
	}, 5, true, func() Signals {
		return Signals{CircuitBreaker: &CircuitBreakerSnapshot{State: CircuitClosed}}
	})

	result := chain.Execute(context.Background(), nil)
	assert.True(t, result.Success)
	assert.Equal(t, "healthy-result", result.Value)
	assert.Equal(t, []string{"healthy"}, tried)
}

func TestFallbackRegistryRoutesToNamedChain(t *testing.T) {
	reg := NewFallbackRegistry()
	chain := NewFallbackChain(DefaultFallbackConfig())
	chain.AddTarget("only", func(ctx context.Context) (any, error) { return "chat-ok", nil }, 1, true)
	reg.Register("chat", chain)

	result, err := reg.Execute(context.Background(), "chat", nil)
	require.NoError(t, err)
	assert.True(t, result.Success)

	_, err = reg.Execute(context.Background(), "unknown", nil)
	assert.Error(t, err)
}
