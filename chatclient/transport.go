package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/leofalp/aigo/internal/config"
	"github.com/leofalp/aigo/internal/utils"
	"github.com/leofalp/aigo/protocol"
	"github.com/leofalp/aigo/providers/observability"
)

const libraryUserAgent = "aigo-chatclient/1.0"

const connectTimeout = 10 * time.Second

// HTTPResponse is the result of a non-streaming Transport.Post call.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// ScopedByteStream is an open streaming HTTP response body. The caller
// MUST call Close on every exit path (success, error, cancellation);
// Transport.OpenStream never closes it for them.
type ScopedByteStream struct {
	io.Reader
	resp *http.Response
}

// Close releases the underlying HTTP connection.
func (s *ScopedByteStream) Close() error {
	return s.resp.Body.Close()
}

// TransportOption configures a Transport.
type TransportOption func(*Transport)

// WithHTTPClient overrides the *http.Client a Transport uses (e.g. a
// caller-supplied connection pool via a Connection-pool collaborator).
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) { t.client = c }
}

// WithCredentialOverride sets an explicit credential, taking priority
// over the Manifest's declared environment variable.
func WithCredentialOverride(credential string) TransportOption {
	return func(t *Transport) { t.credentialOverride = credential }
}

// WithTransportTimeout overrides the per-request timeout, taking priority over
// any environment variable and the Manifest's declared default.
func WithTransportTimeout(d time.Duration) TransportOption {
	return func(t *Transport) { t.explicitTimeout = d }
}

// WithTransportObservability attaches an observability.Provider so every
// request/response is traced and logged like the rest of the client.
func WithTransportObservability(p observability.Provider) TransportOption {
	return func(t *Transport) { t.obs = p }
}

// Transport performs the one HTTP call a Manifest's chat endpoint needs,
// per §4.2: header composition, timeout resolution, proxy defaults, and
// error classification are all driven by the Manifest plus environment
// overrides, grounded on internal/utils's DoPostSync/DoPostStream idiom
// but generalized across providers instead of hardwired to one.
type Transport struct {
	manifest *protocol.Manifest
	client   *http.Client
	obs      observability.Provider

	credentialOverride string
	explicitTimeout    time.Duration
}

// NewTransport builds a Transport for manifest. A *http.Client is built
// lazily per effective timeout unless WithHTTPClient supplies one
// directly (in which case the caller owns timeout/proxy configuration).
func NewTransport(manifest *protocol.Manifest, opts ...TransportOption) *Transport {
	t := &Transport{manifest: manifest}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// effectiveTimeout resolves explicit > environment override > Manifest
// default, per §4.2.
func (t *Transport) effectiveTimeout() time.Duration {
	if t.explicitTimeout > 0 {
		return t.explicitTimeout
	}
	if d, ok := config.TransportTimeout(); ok {
		return d
	}
	return time.Duration(t.manifest.EffectiveTimeoutMs()) * time.Millisecond
}

// httpClient returns the configured client, or builds one honoring the
// resolved timeout, the fixed 10s connect timeout, and the proxy policy
// (direct unless AI_HTTP_TRUST_ENV opts in).
func (t *Transport) httpClient() *http.Client {
	if t.client != nil {
		return t.client
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	rt := &http.Transport{DialContext: dialer.DialContext}
	if config.TrustEnvProxy() {
		if proxyURLStr := config.ProxyURL(); proxyURLStr != "" {
			if fixed, err := url.Parse(proxyURLStr); err == nil {
				rt.Proxy = http.ProxyURL(fixed)
			}
		} else {
			rt.Proxy = http.ProxyFromEnvironment
		}
	}
	return &http.Client{Transport: rt, Timeout: t.effectiveTimeout()}
}

func (t *Transport) authHeader() (name, value string) {
	credential := config.Credential(t.credentialOverride, t.manifest.Auth.TokenEnv)
	if credential == "" {
		return "", ""
	}
	return t.manifest.AuthHeaderName(), t.manifest.FormatAuthValue(credential)
}

func (t *Transport) baseHeaders(req *http.Request, accept string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", libraryUserAgent)
	if name, value := t.authHeader(); name != "" {
		req.Header.Set(name, value)
	}
}

// Post performs a single JSON-bodied POST to manifest.Endpoint.BaseURL+path.
func (t *Transport) Post(ctx context.Context, path string, body map[string]any) (*HTTPResponse, error) {
	var span observability.Span
	if t.obs != nil {
		ctx, span = t.obs.StartSpan(ctx, observability.SpanLLMRequest,
			observability.String(observability.AttrLLMEndpoint, t.manifest.Endpoint.BaseURL+path))
		defer span.End()
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindValidation, "failed to marshal request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.manifest.Endpoint.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransportConnect, "failed to build request", err)
	}
	t.baseHeaders(req, "application/json")

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return nil, t.classifyNetworkError(err)
	}
	defer utils.CloseWithLog(resp.Body)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransportConnect, "failed to read response body", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, t.classifyHTTPError(resp.StatusCode, respBody, resp.Header)
	}

	if t.obs != nil {
		t.obs.Debug(ctx, "transport post completed", observability.Int(observability.AttrHTTPStatusCode, resp.StatusCode))
	}

	return &HTTPResponse{StatusCode: resp.StatusCode, Body: respBody, Headers: resp.Header}, nil
}

// OpenStream performs a POST expecting an event-stream response, leaving
// the body open for the pipeline Decoder to read. The caller must Close
// the returned ScopedByteStream on every exit path.
func (t *Transport) OpenStream(ctx context.Context, path string, body map[string]any) (*ScopedByteStream, error) {
	var span observability.Span
	if t.obs != nil {
		ctx, span = t.obs.StartSpan(ctx, observability.SpanLLMRequest,
			observability.String(observability.AttrLLMEndpoint, t.manifest.Endpoint.BaseURL+path),
			observability.Bool("streaming", true))
		defer span.End()
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, protocol.Wrap(protocol.KindValidation, "failed to marshal request body", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.manifest.Endpoint.BaseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, protocol.Wrap(protocol.KindTransportConnect, "failed to build request", err)
	}
	t.baseHeaders(req, "text/event-stream")

	resp, err := t.httpClient().Do(req)
	if err != nil {
		return nil, t.classifyNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer utils.CloseWithLog(resp.Body)
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return nil, t.classifyHTTPError(resp.StatusCode, errBody, resp.Header)
	}

	if t.obs != nil {
		t.obs.Debug(ctx, "transport stream opened", observability.Int(observability.AttrHTTPStatusCode, resp.StatusCode))
	}

	return &ScopedByteStream{Reader: resp.Body, resp: resp}, nil
}

func (t *Transport) classifyNetworkError(err error) error {
	if ue, ok := err.(*url.Error); ok && ue.Timeout() {
		return protocol.Wrap(protocol.KindTransportTimeout, "request timed out", err)
	}
	return protocol.Wrap(protocol.KindTransportConnect, "request failed", err)
}

// classifyHTTPError derives an ErrorKind from the Manifest's declared
// classification table (falling back to the conventional HTTP-status
// mapping), extracting Retry-After and a provider request id verbatim.
func (t *Transport) classifyHTTPError(status int, body []byte, headers http.Header) error {
	kind := protocol.ClassifyHTTPStatus(t.manifest, status)
	e := &protocol.Error{
		Kind:    kind,
		Message: fmt.Sprintf("provider returned status %d: %s", status, utils.TruncateString(string(body), 500)),
		Context: protocol.Context{
			Provider:   t.manifest.ID,
			Endpoint:   t.manifest.Endpoint.BaseURL,
			HTTPStatus: status,
			RequestID:  firstHeader(headers, "x-request-id", "request-id"),
			RetryAfter: parseRetryAfter(headers.Get("Retry-After")),
		},
	}
	return e
}

func firstHeader(h http.Header, names ...string) string {
	for _, n := range names {
		if v := h.Get(n); v != "" {
			return v
		}
	}
	return ""
}

func parseRetryAfter(v string) float64 {
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t).Seconds()
	}
	return 0
}
