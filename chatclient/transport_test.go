package chatclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/aigo/protocol"
)

func testManifest(baseURL string) *protocol.Manifest {
	return &protocol.Manifest{
		ID: "test-provider",
		Endpoint: protocol.Endpoint{
			BaseURL:  baseURL,
			ChatPath: "/v1/chat/completions",
		},
		Auth: protocol.Auth{Type: "bearer", TokenEnv: "TEST_PROVIDER_TOKEN"},
	}
}

func TestTransportPostSendsAuthAndHeaders(t *testing.T) {
	var gotAuth, gotContentType, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_PROVIDER_TOKEN", "secret-token")
	transport := NewTransport(testManifest(srv.URL))

	resp, err := transport.Post(t.Context(), "/v1/chat/completions", map[string]any{"model": "x"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer secret-token", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "application/json", gotAccept)
	assert.JSONEq(t, `{"ok": true}`, string(resp.Body))
}

func TestTransportPostClassifiesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limited"}`))
	}))
	defer srv.Close()

	transport := NewTransport(testManifest(srv.URL))
	_, err := transport.Post(t.Context(), "/v1/chat/completions", map[string]any{})
	require.Error(t, err)

	pe, ok := protocol.As(err)
	require.True(t, ok)
	assert.Equal(t, protocol.KindRateLimited, pe.Kind)
	assert.Equal(t, http.StatusTooManyRequests, pe.Context.HTTPStatus)
	assert.Equal(t, float64(2), pe.Context.RetryAfter)
}

func TestTransportPostCredentialOverrideWinsOverEnv(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	t.Setenv("TEST_PROVIDER_TOKEN", "env-token")
	transport := NewTransport(testManifest(srv.URL), WithCredentialOverride("override-token"))

	_, err := transport.Post(t.Context(), "/v1/chat/completions", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "Bearer override-token", gotAuth)
}

func TestTransportOpenStreamReturnsOpenBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"delta\": \"hi\"}\n\n"))
	}))
	defer srv.Close()

	transport := NewTransport(testManifest(srv.URL))
	stream, err := transport.OpenStream(t.Context(), "/v1/chat/completions", map[string]any{"stream": true})
	require.NoError(t, err)
	defer stream.Close()

	body, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Contains(t, string(body), "delta")
}

func TestTransportOpenStreamClassifiesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error": "bad key"}`))
	}))
	defer srv.Close()

	transport := NewTransport(testManifest(srv.URL))
	_, err := transport.OpenStream(t.Context(), "/v1/chat/completions", map[string]any{})
	require.Error(t, err)
	pe, ok := protocol.As(err)
	require.True(t, ok)
	assert.Equal(t, protocol.KindAuthentication, pe.Kind)
}
