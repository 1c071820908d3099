package chatclient

import (
	"bufio"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/leofalp/aigo/pipeline"
	"github.com/leofalp/aigo/protocol"
	"github.com/leofalp/aigo/providers/observability"
	"github.com/leofalp/aigo/resilience"
	"github.com/leofalp/aigo/toolcall"
)

// ClientOption configures a Client via the functional-options pattern.
type ClientOption func(*Client)

// WithResilience attaches a resilience.Executor built from cfg. Without
// this option the client dispatches every call directly through
// Transport, with no retry/rate-limit/circuit-breaker/backpressure.
func WithResilience(cfg resilience.Config) ClientOption {
	return func(c *Client) { c.executorCfg = &cfg }
}

// WithClientObservability attaches an observability.Provider propagated
// to the Transport and Executor alike.
func WithClientObservability(p observability.Provider) ClientOption {
	return func(c *Client) { c.obs = p }
}

// WithClientCredential sets an explicit credential override, taking
// priority over the Manifest's declared environment variable.
func WithClientCredential(credential string) ClientOption {
	return func(c *Client) { c.credentialOverride = credential }
}

// WithHTTPClientOption passes a TransportOption straight through to the
// Transport this Client builds.
func WithHTTPClientOption(opt TransportOption) ClientOption {
	return func(c *Client) { c.transportOpts = append(c.transportOpts, opt) }
}

// Client is the orchestrator wiring a Manifest, Transport, resilience
// Executor, and streaming Pipeline behind the two public operations,
// Chat and ChatStream. A Client exclusively owns its Manifest reference,
// Transport, and Executor; each ChatStream call gets its own Pipeline
// stage instances (Decoder/Selector/Accumulator/EventMapper), since
// those carry per-request state.
type Client struct {
	manifest  *protocol.Manifest
	transport *Transport
	executor  *resilience.Executor
	obs       observability.Provider

	executorCfg        *resilience.Config
	credentialOverride string
	transportOpts      []TransportOption
}

// New builds a Client for manifest.
func New(manifest *protocol.Manifest, opts ...ClientOption) *Client {
	c := &Client{manifest: manifest}
	for _, opt := range opts {
		opt(c)
	}

	transportOpts := append([]TransportOption{}, c.transportOpts...)
	if c.credentialOverride != "" {
		transportOpts = append(transportOpts, WithCredentialOverride(c.credentialOverride))
	}
	if c.obs != nil {
		transportOpts = append(transportOpts, WithTransportObservability(c.obs))
	}
	c.transport = NewTransport(manifest, transportOpts...)

	if c.executorCfg != nil {
		cfg := *c.executorCfg
		cfg.Manifest = manifest
		c.executor = resilience.NewExecutor(manifest.ID, cfg, c.obs)
	}
	return c
}

// ModelID returns the provider identifier this Client's Manifest declares.
func (c *Client) ModelID() string { return c.manifest.ID }

// ProviderID is an alias for ModelID.
func (c *Client) ProviderID() string { return c.manifest.ID }

// Manifest returns the Manifest this Client was built from.
func (c *Client) Manifest() *protocol.Manifest { return c.manifest }

// IsResilient reports whether a resilience.Executor is wired in.
func (c *Client) IsResilient() bool { return c.executor != nil }

// CircuitState returns the Executor's circuit state, or "disabled" if
// the client carries no Executor.
func (c *Client) CircuitState() resilience.CircuitState {
	if c.executor == nil {
		return "disabled"
	}
	return c.executor.CircuitState()
}

// CurrentInflight returns the Executor's in-flight count, or 0 if the
// client carries no Executor.
func (c *Client) CurrentInflight() int {
	if c.executor == nil {
		return 0
	}
	return c.executor.CurrentInflight()
}

// GetResilienceStats returns the Executor's stats snapshot, or the zero
// value if no Executor is configured.
func (c *Client) GetResilienceStats() resilience.Stats {
	if c.executor == nil {
		return resilience.Stats{}
	}
	return c.executor.GetStats()
}

// ResetResilience returns the Executor's circuit breaker to its initial
// state. A no-op if no Executor is configured.
func (c *Client) ResetResilience() {
	if c.executor != nil {
		c.executor.Reset()
	}
}

// Close releases resources the Client holds. The Transport's underlying
// http.Client is pooled by net/http itself, so there is nothing further
// to release today; the method exists so callers have one stable place
// to call as the client's lifetime ends.
func (c *Client) Close() error { return nil }

// dispatch runs op either directly or through the configured Executor.
func (c *Client) dispatch(ctx context.Context, op func(ctx context.Context) (any, error)) (any, resilience.ExecutionStats, error) {
	if c.executor == nil {
		v, err := op(ctx)
		return v, resilience.ExecutionStats{Success: err == nil}, err
	}
	return c.executor.ExecuteWithStats(ctx, op, c.logRetry)
}

func (c *Client) logRetry(attempt int, err error, delay time.Duration) {
	if c.obs == nil {
		return
	}
	c.obs.Debug(context.Background(), "chatclient retry scheduled",
		observability.Int("retry.attempt", attempt),
		observability.Duration("retry.delay", delay),
		observability.Error(err))
}

// Chat issues a non-streaming chat completion request and returns the
// parsed, provider-agnostic response.
func (c *Client) Chat(ctx context.Context, messages []Message, params ChatParams) (*CompleteResponse, error) {
	if err := ValidateToolResultReferences(messages); err != nil {
		return nil, err
	}
	params.Stream = false
	body := params.payload(&messages, c.manifest)

	stats := CallStats{StartedAt: time.Now()}

	result, _, err := c.dispatch(ctx, func(ctx context.Context) (any, error) {
		return c.transport.Post(ctx, c.manifest.ChatEndpointPath(), body)
	})
	stats.EndedAt = time.Now()
	if err != nil {
		return nil, err
	}

	httpResp := result.(*HTTPResponse)
	var raw map[string]any
	if err := json.Unmarshal(httpResp.Body, &raw); err != nil {
		return nil, protocol.Wrap(protocol.KindPipelineDecode, "failed to parse response body as JSON", err)
	}

	resp, err := parseResponse(raw)
	if err != nil {
		return nil, err
	}
	stats.Usage = resp.Usage
	resp.Stats = stats
	return resp, nil
}

// StreamResult is ChatStream's return value: the lazy unified event
// sequence, plus the cross-event Tool-call Assembler fed as events are
// observed (call Finalize after Events is exhausted to get the
// assembled ToolCalls), the per-call stats, and the cancellation token
// governing the underlying stream.
type StreamResult struct {
	Events    func(yield func(pipeline.StreamingEvent) bool)
	Assembler *toolcall.Assembler
	Stats     *CallStats
	Cancel    *CancelToken
}

// ChatStream issues a streaming chat completion request and returns a
// lazy sequence of unified StreamingEvents, threading the raw byte
// stream through Decoder -> Selector -> Accumulator -> EventMapper per
// request (each stage is a fresh instance; nothing is shared across
// calls).
func (c *Client) ChatStream(ctx context.Context, messages []Message, params ChatParams) (*StreamResult, error) {
	if err := ValidateToolResultReferences(messages); err != nil {
		return nil, err
	}
	params.Stream = true
	body := params.payload(&messages, c.manifest)

	token := NewCancelToken(ctx)
	requestID := uuid.NewString()

	result, _, err := c.dispatch(token.Context(), func(ctx context.Context) (any, error) {
		return c.transport.OpenStream(ctx, c.manifest.ChatEndpointPath(), body)
	})
	if err != nil {
		token.Cancel(ReasonError)
		return nil, err
	}
	stream := result.(*ScopedByteStream)

	decoder := pipeline.NewDecoder(c.manifest.Streaming.Decoder)
	selector := pipeline.NewSelector(c.manifest)
	accumulator := pipeline.NewToolCallAccumulator()
	mapper := pipeline.NewEventMapper(c.manifest)
	statefulAccumulation := c.manifest.Streaming.Accumulator.StatefulToolParsing

	assembler := toolcall.New()
	indexToID := make(map[int]string)
	stats := &CallStats{StartedAt: time.Now()}

	events := func(yield func(pipeline.StreamingEvent) bool) {
		defer stream.Close()
		defer token.Cancel(ReasonUserRequest)

		reader := bufio.NewReader(stream)
		for frame := range decoder.Decode(reader) {
			select {
			case <-token.Done():
				if !yield(pipeline.NewStreamError(protocol.New(protocol.KindTransportConnect, "stream cancelled"), requestID)) {
					return
				}
				return
			default:
			}

			if !selector.Select(frame) {
				continue
			}
			if statefulAccumulation {
				accumulator.Transform(&frame)
			}

			ev, ok := mapper.Map(frame)
			if !ok {
				continue
			}
			feedAssembler(assembler, indexToID, ev)
			recordStats(stats, ev)

			if !yield(ev) {
				return
			}
			if ev.IsStreamEnd() || ev.IsStreamError() {
				return
			}
		}

		end := pipeline.NewStreamEnd("")
		recordStats(stats, end)
		yield(end)
	}

	return &StreamResult{Events: events, Assembler: assembler, Stats: stats, Cancel: token}, nil
}

// feedAssembler resolves a PartialToolCall's id before handing the
// fragment to the Assembler, since several providers only carry the
// tool_call id on the ToolCallStarted chunk and send empty-id fragments
// for the rest of that call's index. indexToID remembers the mapping
// the way pipeline.ToolCallAccumulator does per-frame.
func feedAssembler(a *toolcall.Assembler, indexToID map[int]string, ev pipeline.StreamingEvent) {
	switch {
	case ev.IsToolCallStarted():
		started := ev.AsToolCallStarted()
		indexToID[started.Index] = started.ToolCallID
		a.OnStarted(started.ToolCallID, started.ToolName, started.Index)
	case ev.IsPartialToolCall():
		partial := ev.AsPartialToolCall()
		id := partial.ToolCallID
		if id == "" {
			id = indexToID[partial.Index]
		} else {
			indexToID[partial.Index] = id
		}
		a.OnPartial(id, partial.Arguments, partial.Index)
	}
}

func recordStats(stats *CallStats, ev pipeline.StreamingEvent) {
	if stats.FirstTokenAt.IsZero() && (ev.IsContentDelta() || ev.IsToolCallStarted()) {
		stats.FirstTokenAt = time.Now()
	}
	if ev.IsMetadata() {
		meta := ev.AsMetadata()
		if meta.Usage != nil {
			stats.Usage = usageFromMap(meta.Usage)
		}
	}
	if ev.IsStreamEnd() || ev.IsStreamError() {
		stats.EndedAt = time.Now()
	}
}

func usageFromMap(m map[string]any) *Usage {
	return parseUsage(m)
}
