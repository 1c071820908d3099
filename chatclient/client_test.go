package chatclient

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/aigo/protocol"
	"github.com/leofalp/aigo/resilience"
)

func openAIManifest(baseURL string) *protocol.Manifest {
	return &protocol.Manifest{
		ID: "test-openai",
		Endpoint: protocol.Endpoint{
			BaseURL:  baseURL,
			ChatPath: "/v1/chat/completions",
		},
		Auth:         protocol.Auth{Type: "bearer", TokenEnv: "CLIENT_TEST_TOKEN"},
		Capabilities: protocol.Capabilities{Streaming: true, Tools: true},
	}
}

func TestClientChatParsesNonStreamingResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{
			"model": "gpt-x",
			"choices": [{"finish_reason": "stop", "message": {"content": "hi there"}}],
			"usage": {"prompt_tokens": 4, "completion_tokens": 2, "total_tokens": 6}
		}`))
	}))
	defer srv.Close()

	t.Setenv("CLIENT_TEST_TOKEN", "tok")
	c := New(openAIManifest(srv.URL))

	resp, err := c.Chat(t.Context(), []Message{NewTextMessage(RoleUser, "hello")}, ChatParams{Model: "gpt-x"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
	assert.GreaterOrEqual(t, resp.Stats.Duration(), time.Duration(0))
}

func TestClientChatRejectsDanglingToolResult(t *testing.T) {
	c := New(openAIManifest("http://unused.invalid"))
	msgs := []Message{
		{Role: RoleTool, Blocks: []ContentBlock{
			{Type: BlockToolResult, ToolResultForID: "missing", ResultContent: "x"},
		}},
	}
	_, err := c.Chat(t.Context(), msgs, ChatParams{})
	require.Error(t, err)
}

func TestClientChatStreamEmitsContentAndEndEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher, _ := w.(http.Flusher)
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		_, _ = w.Write([]byte("data: {\"choices\":[{\"finish_reason\":\"stop\"}]}\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := New(openAIManifest(srv.URL))
	result, err := c.ChatStream(t.Context(), []Message{NewTextMessage(RoleUser, "hi")}, ChatParams{Model: "gpt-x"})
	require.NoError(t, err)

	var content string
	var sawMetadata, sawEnd bool
	for ev := range result.Events {
		if ev.IsContentDelta() {
			content += ev.AsContentDelta().Content
		}
		if ev.IsMetadata() {
			sawMetadata = true
		}
		if ev.IsStreamEnd() {
			sawEnd = true
		}
	}

	assert.Equal(t, "hello", content)
	assert.True(t, sawMetadata)
	assert.True(t, sawEnd)
}

func TestClientChatStreamAssemblesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"loc\":"}}]}}]}` + "\n\n"))
		_, _ = w.Write([]byte(`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"sf\"}"}}]}}]}` + "\n\n"))
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	c := New(openAIManifest(srv.URL))
	result, err := c.ChatStream(t.Context(), []Message{NewTextMessage(RoleUser, "weather in sf?")}, ChatParams{Model: "gpt-x"})
	require.NoError(t, err)

	for range result.Events {
	}

	calls := result.Assembler.Finalize()
	require.Len(t, calls, 1)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.Equal(t, "sf", calls[0].Arguments["loc"])
}

func TestClientPropertiesReflectConfiguration(t *testing.T) {
	c := New(openAIManifest("http://unused.invalid"))
	assert.Equal(t, "test-openai", c.ModelID())
	assert.Equal(t, "test-openai", c.ProviderID())
	assert.False(t, c.IsResilient())
	assert.Equal(t, resilience.CircuitState("disabled"), c.CircuitState())
	assert.Equal(t, 0, c.CurrentInflight())
	assert.NoError(t, c.Close())
}
