package pipeline

import (
	"github.com/leofalp/aigo/protocol"
)

// EventMapper turns a selected Frame into zero or one StreamingEvent. At
// most one event is emitted per frame; a frame that maps to nothing
// (e.g. a keepalive) yields ok=false.
type EventMapper interface {
	Map(frame Frame) (StreamingEvent, bool)
}

// NewEventMapper builds the EventMapper for a Manifest: an explicit
// event_map rule set takes priority, then the anthropic_sse decoder
// format selects AnthropicEventMapper, otherwise DefaultEventMapper with
// the manifest's configured (or OpenAI-default) paths.
func NewEventMapper(m *protocol.Manifest) EventMapper {
	if len(m.Streaming.EventMap) > 0 {
		return NewProtocolEventMapper(m)
	}
	if m.Streaming.Decoder.Format == "anthropic_sse" {
		return NewAnthropicEventMapper()
	}
	return NewDefaultEventMapper(m.Streaming.ContentPath, m.Streaming.ToolCallPath, m.Streaming.UsagePath)
}

// ProtocolEventMapper dispatches a frame through a Manifest's declared
// event_map rules, in order, emitting the first rule that matches.
type ProtocolEventMapper struct {
	manifest *protocol.Manifest
}

// NewProtocolEventMapper builds a rule-driven mapper from m's (already
// predicate-compiled) event_map.
func NewProtocolEventMapper(m *protocol.Manifest) *ProtocolEventMapper {
	return &ProtocolEventMapper{manifest: m}
}

func (p *ProtocolEventMapper) Map(frame Frame) (StreamingEvent, bool) {
	for i, rule := range p.manifest.Streaming.EventMap {
		matcher := p.manifest.RuleMatcher(i)
		if matcher == nil || !matcher.Eval(frame.Data) {
			continue
		}
		if ev, ok := buildRuleEvent(rule, frame.Data); ok {
			return ev, true
		}
	}
	return StreamingEvent{}, false
}

func buildRuleEvent(rule protocol.EventMapRule, data map[string]any) (StreamingEvent, bool) {
	field := func(name string) string {
		path, ok := rule.Fields[name]
		if !ok {
			return ""
		}
		v, ok := lookupPath(data, path)
		if !ok {
			return ""
		}
		s, _ := v.(string)
		return s
	}
	intField := func(name string) int {
		path, ok := rule.Fields[name]
		if !ok {
			return 0
		}
		v, ok := lookupPath(data, path)
		if !ok {
			return 0
		}
		n, _ := toInt(v)
		return n
	}

	switch rule.Emit {
	case string(EventContentDelta):
		return NewContentDelta(field("content"), intField("sequence_id")), true
	case string(EventThinkingDelta):
		return NewThinkingDelta(field("thinking"), field("tool_consideration")), true
	case string(EventToolCallStarted):
		return NewToolCallStarted(field("tool_call_id"), field("tool_name"), intField("index")), true
	case string(EventPartialToolCall):
		return NewPartialToolCall(field("tool_call_id"), field("arguments"), intField("index"), isCompleteJSON(field("arguments"))), true
	case string(EventToolCallEnded):
		return NewToolCallEnded(field("tool_call_id"), intField("index")), true
	case string(EventMetadata):
		return NewMetadata(nil, field("finish_reason"), field("stop_reason")), true
	case string(EventFinalCandidate):
		return NewFinalCandidate(intField("candidate_index"), field("finish_reason")), true
	case string(EventStreamEnd):
		return NewStreamEnd(field("finish_reason")), true
	case string(EventStreamError):
		return NewStreamError(protocol.New(protocol.KindPipelineDecode, field("error")), field("event_id")), true
	default:
		return StreamingEvent{}, false
	}
}

// lookupPath resolves a "$.a.b[0].c"-style path against a decoded frame.
// It is the same small path language protocol.Predicate uses, exposed
// here for EventMapRule field extraction.
func lookupPath(data map[string]any, path string) (any, bool) {
	return protocol.LookupPath(data, path)
}

// DefaultEventMapper implements the OpenAI-compatible chat-completions
// streaming shape directly, without a declared event_map: content at
// ContentPath, tool-call fragments at ToolCallPath, finish_reason at
// $.choices[0].finish_reason, usage at UsagePath. It tracks per-index
// "have we emitted ToolCallStarted yet" state so each tool call gets
// exactly one Started event.
type DefaultEventMapper struct {
	contentPath  string
	toolCallPath string
	usagePath    string
	started      map[int]bool
}

// NewDefaultEventMapper builds a mapper with OpenAI-shape defaults for any
// path left empty.
func NewDefaultEventMapper(contentPath, toolCallPath, usagePath string) *DefaultEventMapper {
	if contentPath == "" {
		contentPath = "$.choices[0].delta.content"
	}
	if toolCallPath == "" {
		toolCallPath = "$.choices[0].delta.tool_calls"
	}
	if usagePath == "" {
		usagePath = "$.usage"
	}
	return &DefaultEventMapper{contentPath: contentPath, toolCallPath: toolCallPath, usagePath: usagePath, started: make(map[int]bool)}
}

func (d *DefaultEventMapper) Map(frame Frame) (StreamingEvent, bool) {
	if content, ok := lookupPath(frame.Data, d.contentPath); ok {
		if s, ok := content.(string); ok && s != "" {
			return NewContentDelta(s, 0), true
		}
	}

	if toolCalls, ok := lookupPath(frame.Data, d.toolCallPath); ok {
		if arr, ok := toolCalls.([]any); ok && len(arr) > 0 {
			tcMap, _ := arr[0].(map[string]any)
			index, _ := toInt(tcMap["index"])
			if !d.started[index] {
				if id, hasID := tcMap["id"].(string); hasID && id != "" {
					d.started[index] = true
					var name string
					if fn, ok := tcMap["function"].(map[string]any); ok {
						name, _ = fn["name"].(string)
					}
					return NewToolCallStarted(id, name, index), true
				}
			}
			if fn, ok := tcMap["function"].(map[string]any); ok {
				if args, ok := fn["arguments"].(string); ok {
					id, _ := tcMap["id"].(string)
					return NewPartialToolCall(id, args, index, isCompleteJSON(args)), true
				}
			}
		}
	}

	if choices, ok := lookupPath(frame.Data, "$.choices"); ok {
		if arr, ok := choices.([]any); ok && len(arr) > 0 {
			choice, _ := arr[0].(map[string]any)
			if reason, ok := choice["finish_reason"].(string); ok && reason != "" {
				return NewMetadata(nil, reason, ""), true
			}
		}
	}

	if usage, ok := lookupPath(frame.Data, d.usagePath); ok {
		if m, ok := usage.(map[string]any); ok {
			return NewMetadata(m, "", ""), true
		}
	}

	return StreamingEvent{}, false
}

// AnthropicEventMapper dispatches directly on an Anthropic content-block
// event's "type" field, the shape produced by AnthropicSSEDecoder.
type AnthropicEventMapper struct{}

// NewAnthropicEventMapper builds the Anthropic-specific mapper.
func NewAnthropicEventMapper() *AnthropicEventMapper { return &AnthropicEventMapper{} }

func (AnthropicEventMapper) Map(frame Frame) (StreamingEvent, bool) {
	data := frame.Data
	typ, _ := data["type"].(string)

	switch typ {
	case "error":
		errObj, _ := data["error"].(map[string]any)
		msg, _ := errObj["message"].(string)
		return NewStreamError(protocol.New(protocol.KindServerError, msg), ""), true

	case "content_block_start":
		block, _ := data["content_block"].(map[string]any)
		if block != nil && block["type"] == "tool_use" {
			id, _ := block["id"].(string)
			name, _ := block["name"].(string)
			idx, _ := toInt(data["index"])
			return NewToolCallStarted(id, name, idx), true
		}
		return StreamingEvent{}, false

	case "content_block_delta":
		delta, _ := data["delta"].(map[string]any)
		if delta == nil {
			return StreamingEvent{}, false
		}
		idx, _ := toInt(data["index"])
		switch delta["type"] {
		case "text_delta":
			text, _ := delta["text"].(string)
			return NewContentDelta(text, idx), true
		case "thinking_delta":
			thinking, _ := delta["thinking"].(string)
			return NewThinkingDelta(thinking, ""), true
		case "input_json_delta":
			partial, _ := delta["partial_json"].(string)
			return NewPartialToolCall("", partial, idx, isCompleteJSON(partial)), true
		default:
			return StreamingEvent{}, false
		}

	case "content_block_stop":
		idx, _ := toInt(data["index"])
		return NewToolCallEnded("", idx), true

	case "message_delta":
		delta, _ := data["delta"].(map[string]any)
		var stopReason string
		if delta != nil {
			stopReason, _ = delta["stop_reason"].(string)
		}
		usage, _ := data["usage"].(map[string]any)
		return NewMetadata(usage, "", stopReason), true

	case "message_stop":
		return NewStreamEnd(""), true

	default:
		return StreamingEvent{}, false
	}
}
