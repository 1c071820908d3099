package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolCallAccumulatorOpenAIFragmentsByIndex(t *testing.T) {
	acc := NewToolCallAccumulator()

	f1 := &Frame{Data: map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"index": float64(0), "id": "call_1", "function": map[string]any{"name": "get_weather", "arguments": "{\"lo"}},
		}}}},
	}}
	acc.Transform(f1)

	f2 := &Frame{Data: map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"index": float64(0), "function": map[string]any{"arguments": "c\":\"sf\"}"}},
		}}}},
	}}
	touched := acc.Transform(f2)

	require.Len(t, touched, 1)
	assert.Equal(t, "call_1", touched[0].ID)
	assert.Equal(t, "get_weather", touched[0].Name)
	assert.Equal(t, `{"loc":"sf"}`, touched[0].Arguments)
	assert.True(t, touched[0].IsComplete)

	got, ok := f2.Data["_accumulated_tool_call"].(*AccumulatedToolCall)
	require.True(t, ok)
	assert.Equal(t, "call_1", got.ID)
}

func TestToolCallAccumulatorAnthropicStartThenDelta(t *testing.T) {
	acc := NewToolCallAccumulator()

	start := &Frame{Data: map[string]any{
		"type":  "content_block_start",
		"index": float64(2),
		"content_block": map[string]any{
			"type": "tool_use", "id": "toolu_1", "name": "lookup",
		},
	}}
	acc.Transform(start)

	delta := &Frame{Data: map[string]any{
		"type":  "content_block_delta",
		"index": float64(2),
		"delta": map[string]any{"type": "input_json_delta", "partial_json": "{\"q\":\"x\"}"},
	}}
	touched := acc.Transform(delta)

	require.Len(t, touched, 1)
	assert.Equal(t, "toolu_1", touched[0].ID)
	assert.Equal(t, "lookup", touched[0].Name)
	assert.True(t, touched[0].IsComplete)
}

func TestToolCallAccumulatorDoesNotMergeDifferentIDsMissingIndex(t *testing.T) {
	acc := NewToolCallAccumulator()

	f1 := &Frame{Data: map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"id": "call_a", "function": map[string]any{"arguments": "{\"a\":1}"}},
		}}}},
	}}
	acc.Transform(f1)

	f2 := &Frame{Data: map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"id": "call_b", "function": map[string]any{"arguments": "{\"b\":2}"}},
		}}}},
	}}
	acc.Transform(f2)

	a, ok := acc.byID["call_a"]
	require.True(t, ok)
	b, ok := acc.byID["call_b"]
	require.True(t, ok)
	assert.NotSame(t, a, b)
	assert.Equal(t, `{"a":1}`, a.Arguments)
	assert.Equal(t, `{"b":2}`, b.Arguments)
}

func TestToolCallAccumulatorResetClearsState(t *testing.T) {
	acc := NewToolCallAccumulator()
	f := &Frame{Data: map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"tool_calls": []any{
			map[string]any{"index": float64(0), "id": "x", "function": map[string]any{"arguments": "{}"}},
		}}}},
	}}
	acc.Transform(f)
	_, ok := acc.Get(0)
	require.True(t, ok)

	acc.Reset()
	_, ok = acc.Get(0)
	assert.False(t, ok)
}

func TestToolCallAccumulatorIgnoresNonToolCallFrame(t *testing.T) {
	acc := NewToolCallAccumulator()
	f := &Frame{Data: map[string]any{"choices": []any{map[string]any{"delta": map[string]any{"content": "hello"}}}}}
	touched := acc.Transform(f)
	assert.Nil(t, touched)
}
