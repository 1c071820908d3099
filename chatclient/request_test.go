package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeManifest struct {
	mappings map[string]string
	tools    bool
}

func (f fakeManifest) ParameterName(standard string) string {
	if name, ok := f.mappings[standard]; ok {
		return name
	}
	return standard
}

func (f fakeManifest) SupportsTools() bool { return f.tools }

func TestChatParamsPayloadMapsParameters(t *testing.T) {
	m := fakeManifest{mappings: map[string]string{"max_tokens": "max_tokens_to_sample"}, tools: true}
	temp := 0.7
	maxTokens := 256
	msgs := []Message{NewTextMessage(RoleUser, "hi")}

	params := ChatParams{Model: "claude-x", Temperature: &temp, MaxTokens: &maxTokens}
	body := params.payload(&msgs, m)

	assert.Equal(t, "claude-x", body["model"])
	assert.Equal(t, 0.7, body["temperature"])
	assert.Equal(t, 256, body["max_tokens_to_sample"])
	_, hasBare := body["max_tokens"]
	assert.False(t, hasBare)
}

func TestChatParamsPayloadOmitsToolsWhenUnsupported(t *testing.T) {
	m := fakeManifest{tools: false}
	msgs := []Message{NewTextMessage(RoleUser, "hi")}
	params := ChatParams{Tools: []ToolDefinition{{Name: "get_weather"}}}

	body := params.payload(&msgs, m)
	_, hasTools := body["tools"]
	assert.False(t, hasTools)
}

func TestChatParamsPayloadIncludesToolsWhenSupported(t *testing.T) {
	m := fakeManifest{tools: true}
	msgs := []Message{NewTextMessage(RoleUser, "hi")}
	params := ChatParams{Tools: []ToolDefinition{{Name: "get_weather", Description: "looks up weather"}}}

	body := params.payload(&msgs, m)
	tools, ok := body["tools"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	fn, ok := tools[0]["function"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "get_weather", fn["name"])
}

func TestChatParamsPayloadWiresNamedToolChoice(t *testing.T) {
	m := fakeManifest{}
	msgs := []Message{NewTextMessage(RoleUser, "hi")}
	params := ChatParams{ToolChoice: &ToolChoice{Mode: "named", Name: "get_weather"}}

	body := params.payload(&msgs, m)
	choice, ok := body["tool_choice"].(map[string]any)
	require.True(t, ok)
	fn, ok := choice["function"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "get_weather", fn["name"])
}

func TestChatParamsPayloadMergesExtraFields(t *testing.T) {
	m := fakeManifest{}
	msgs := []Message{NewTextMessage(RoleUser, "hi")}
	params := ChatParams{Extra: map[string]any{"top_k": 40}}

	body := params.payload(&msgs, m)
	assert.Equal(t, 40, body["top_k"])
}
