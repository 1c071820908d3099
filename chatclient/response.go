package chatclient

import (
	"encoding/json"
	"time"

	"github.com/leofalp/aigo/protocol"
)

// Usage mirrors the token-accounting fields both well-known response
// shapes carry, under different key names.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompleteResponse is the non-streaming Chat result: parsed content,
// any tool calls the model requested, and bookkeeping fields.
type CompleteResponse struct {
	Content      string
	ToolCalls    []ToolCallResult
	FinishReason string
	Model        string
	Usage        *Usage
	Stats        CallStats
}

// ToolCallResult is one tool invocation the model requested in a
// non-streaming response.
type ToolCallResult struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// CallStats records per-call timing as plain fields a caller reads after
// the call completes, rather than a stateful recorder object with
// record_start/record_end-style methods: no observer pattern is needed
// when there's one writer and one reader.
type CallStats struct {
	StartedAt    time.Time
	EndedAt      time.Time
	FirstTokenAt time.Time
	Usage        *Usage
}

// Duration returns the wall-clock time the call took, or zero if the
// call hasn't ended yet.
func (s CallStats) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// TimeToFirstToken returns the latency to the first streamed token, or
// zero if none was recorded (non-streaming calls, or a call that never
// produced output).
func (s CallStats) TimeToFirstToken() time.Duration {
	if s.FirstTokenAt.IsZero() {
		return 0
	}
	return s.FirstTokenAt.Sub(s.StartedAt)
}

// parseResponse decodes a raw JSON response body using the two
// well-known shapes as fallbacks in order: OpenAI-style
// (choices[0].message.{content,tool_calls}, choices[0].finish_reason),
// then Anthropic-style (content list, stop_reason).
func parseResponse(raw map[string]any) (*CompleteResponse, error) {
	if resp, ok := parseOpenAIShape(raw); ok {
		return resp, nil
	}
	if resp, ok := parseAnthropicShape(raw); ok {
		return resp, nil
	}
	return nil, protocol.New(protocol.KindPipelineDecode, "response matched neither the OpenAI nor the Anthropic response shape")
}

func parseOpenAIShape(raw map[string]any) (*CompleteResponse, bool) {
	choices, ok := raw["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil, false
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil, false
	}
	message, ok := choice["message"].(map[string]any)
	if !ok {
		return nil, false
	}

	resp := &CompleteResponse{}
	if content, ok := message["content"].(string); ok {
		resp.Content = content
	}
	if fr, ok := choice["finish_reason"].(string); ok {
		resp.FinishReason = fr
	}
	if model, ok := raw["model"].(string); ok {
		resp.Model = model
	}
	resp.Usage = parseUsage(raw["usage"])
	resp.ToolCalls = parseOpenAIToolCalls(message["tool_calls"])
	return resp, true
}

func parseOpenAIToolCalls(v any) []ToolCallResult {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]ToolCallResult, 0, len(list))
	for _, item := range list {
		tc, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fn, _ := tc["function"].(map[string]any)
		result := ToolCallResult{}
		if id, ok := tc["id"].(string); ok {
			result.ID = id
		}
		if fn != nil {
			if name, ok := fn["name"].(string); ok {
				result.Name = name
			}
			if args, ok := fn["arguments"].(string); ok {
				var obj map[string]any
				if json.Unmarshal([]byte(args), &obj) == nil {
					result.Arguments = obj
				}
			}
		}
		out = append(out, result)
	}
	return out
}

func parseAnthropicShape(raw map[string]any) (*CompleteResponse, bool) {
	content, ok := raw["content"].([]any)
	if !ok {
		return nil, false
	}
	resp := &CompleteResponse{}
	if sr, ok := raw["stop_reason"].(string); ok {
		resp.FinishReason = sr
	}
	if model, ok := raw["model"].(string); ok {
		resp.Model = model
	}
	resp.Usage = parseUsage(raw["usage"])

	for _, item := range content {
		block, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch block["type"] {
		case "text":
			if text, ok := block["text"].(string); ok {
				resp.Content += text
			}
		case "tool_use":
			tc := ToolCallResult{}
			if id, ok := block["id"].(string); ok {
				tc.ID = id
			}
			if name, ok := block["name"].(string); ok {
				tc.Name = name
			}
			if input, ok := block["input"].(map[string]any); ok {
				tc.Arguments = input
			}
			resp.ToolCalls = append(resp.ToolCalls, tc)
		}
	}
	return resp, true
}

func parseUsage(v any) *Usage {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	u := &Usage{}
	if pt, ok := numberField(m, "prompt_tokens", "input_tokens"); ok {
		u.PromptTokens = pt
	}
	if ct, ok := numberField(m, "completion_tokens", "output_tokens"); ok {
		u.CompletionTokens = ct
	}
	if tt, ok := numberField(m, "total_tokens"); ok {
		u.TotalTokens = tt
	} else {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
	return u
}

func numberField(m map[string]any, names ...string) (int, bool) {
	for _, name := range names {
		if v, ok := m[name]; ok {
			if f, ok := v.(float64); ok {
				return int(f), true
			}
		}
	}
	return 0, false
}
