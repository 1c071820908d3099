package pipeline

import (
	"encoding/json"
	"strconv"
)

// AccumulatedToolCall is the in-progress state of one tool call's
// arguments, rebuilt frame-by-frame.
type AccumulatedToolCall struct {
	Index      int
	ID         string
	Name       string
	Arguments  string
	IsComplete bool
}

// ToolCallAccumulator rebuilds tool-call arguments that a provider streams
// as successive string fragments, annotating each Frame in place with the
// accumulated state seen so far under AccumulatedToolCall. It extracts
// from both shapes seen in the wild: OpenAI's
// choices[*].delta.tool_calls[*] and Anthropic's
// content_block_start/content_block_delta pair.
//
// Entries are keyed primarily by tool-call id; index is used only as a
// tiebreaker when no id has been seen yet for that position, so two
// unrelated fragments that both omit an index never get merged just
// because they default to the same index.
type ToolCallAccumulator struct {
	byID    map[string]*AccumulatedToolCall
	byIndex map[int]*AccumulatedToolCall
}

// NewToolCallAccumulator constructs an empty accumulator.
func NewToolCallAccumulator() *ToolCallAccumulator {
	return &ToolCallAccumulator{
		byID:    make(map[string]*AccumulatedToolCall),
		byIndex: make(map[int]*AccumulatedToolCall),
	}
}

// Reset clears all accumulated state.
func (a *ToolCallAccumulator) Reset() {
	a.byID = make(map[string]*AccumulatedToolCall)
	a.byIndex = make(map[int]*AccumulatedToolCall)
}

// Get returns the accumulated state for index, if any exists purely by
// index lookup (used by callers that never saw an id for this call).
func (a *ToolCallAccumulator) Get(index int) (*AccumulatedToolCall, bool) {
	v, ok := a.byIndex[index]
	return v, ok
}

// toolCallFragment is one piece of tool-call information extracted from a
// single Frame: any subset of the fields may be present on a given chunk.
type toolCallFragment struct {
	index      int
	hasIndex   bool
	id         string
	name       string
	argsChunk  string
}

// Transform extracts any tool-call fragments present in frame, merges them
// into accumulated state, and annotates frame.Data in place under the
// "_accumulated_tool_call" key so downstream EventMappers can read the
// running state without re-deriving it.
func (a *ToolCallAccumulator) Transform(frame *Frame) []*AccumulatedToolCall {
	fragments := extractToolCallFragments(frame.Data)
	if len(fragments) == 0 {
		return nil
	}

	var touched []*AccumulatedToolCall
	for _, frag := range fragments {
		acc := a.resolve(frag)
		if frag.id != "" && acc.ID == "" {
			acc.ID = frag.id
		}
		if frag.name != "" {
			acc.Name = frag.name
		}
		acc.Arguments += frag.argsChunk
		acc.IsComplete = isCompleteJSON(acc.Arguments)
		touched = append(touched, acc)
	}

	if frame.Data != nil && len(touched) > 0 {
		frame.Data["_accumulated_tool_call"] = touched[len(touched)-1]
	}
	return touched
}

func (a *ToolCallAccumulator) resolve(frag toolCallFragment) *AccumulatedToolCall {
	if frag.id != "" {
		if acc, ok := a.byID[frag.id]; ok {
			return acc
		}
		acc := &AccumulatedToolCall{ID: frag.id, Index: frag.index}
		a.byID[frag.id] = acc
		if frag.hasIndex {
			a.byIndex[frag.index] = acc
		}
		return acc
	}

	if frag.hasIndex {
		if acc, ok := a.byIndex[frag.index]; ok {
			return acc
		}
		acc := &AccumulatedToolCall{Index: frag.index}
		a.byIndex[frag.index] = acc
		return acc
	}

	// Neither id nor index: a single anonymous bucket, keyed by a sentinel
	// that can never collide with a real index.
	const anonymousIndex = -1
	if acc, ok := a.byIndex[anonymousIndex]; ok {
		return acc
	}
	acc := &AccumulatedToolCall{Index: anonymousIndex}
	a.byIndex[anonymousIndex] = acc
	return acc
}

func isCompleteJSON(s string) bool {
	if s == "" {
		return false
	}
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractToolCallFragments tries, in order, the OpenAI delta shape and
// the two Anthropic content-block shapes.
func extractToolCallFragments(data map[string]any) []toolCallFragment {
	if frags := extractOpenAIFragments(data); len(frags) > 0 {
		return frags
	}
	if frag, ok := extractAnthropicStartFragment(data); ok {
		return []toolCallFragment{frag}
	}
	if frag, ok := extractAnthropicDeltaFragment(data); ok {
		return []toolCallFragment{frag}
	}
	return nil
}

func extractOpenAIFragments(data map[string]any) []toolCallFragment {
	choices, _ := data["choices"].([]any)
	var frags []toolCallFragment
	for _, c := range choices {
		choice, _ := c.(map[string]any)
		delta, _ := choice["delta"].(map[string]any)
		if delta == nil {
			continue
		}
		toolCalls, _ := delta["tool_calls"].([]any)
		for _, tc := range toolCalls {
			tcMap, _ := tc.(map[string]any)
			if tcMap == nil {
				continue
			}
			frag := toolCallFragment{}
			if idxRaw, ok := tcMap["index"]; ok {
				if idx, ok := toInt(idxRaw); ok {
					frag.index = idx
					frag.hasIndex = true
				}
			}
			if id, ok := tcMap["id"].(string); ok {
				frag.id = id
			}
			if fn, ok := tcMap["function"].(map[string]any); ok {
				if name, ok := fn["name"].(string); ok {
					frag.name = name
				}
				if args, ok := fn["arguments"].(string); ok {
					frag.argsChunk = args
				}
			}
			frags = append(frags, frag)
		}
	}
	return frags
}

func extractAnthropicStartFragment(data map[string]any) (toolCallFragment, bool) {
	if data["type"] != "content_block_start" {
		return toolCallFragment{}, false
	}
	block, _ := data["content_block"].(map[string]any)
	if block == nil || block["type"] != "tool_use" {
		return toolCallFragment{}, false
	}
	frag := toolCallFragment{}
	if id, ok := block["id"].(string); ok {
		frag.id = id
	}
	if name, ok := block["name"].(string); ok {
		frag.name = name
	}
	if idxRaw, ok := data["index"]; ok {
		if idx, ok := toInt(idxRaw); ok {
			frag.index = idx
			frag.hasIndex = true
		}
	}
	return frag, true
}

func extractAnthropicDeltaFragment(data map[string]any) (toolCallFragment, bool) {
	if data["type"] != "content_block_delta" {
		return toolCallFragment{}, false
	}
	delta, _ := data["delta"].(map[string]any)
	if delta == nil || delta["type"] != "input_json_delta" {
		return toolCallFragment{}, false
	}
	frag := toolCallFragment{}
	if chunk, ok := delta["partial_json"].(string); ok {
		frag.argsChunk = chunk
	}
	if idxRaw, ok := data["index"]; ok {
		if idx, ok := toInt(idxRaw); ok {
			frag.index = idx
			frag.hasIndex = true
		}
	}
	return frag, true
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	default:
		return 0, false
	}
}
