// Package chatclient is the public surface: it wires a Manifest, a
// Transport, a resilience Executor, and a streaming Pipeline together
// behind the two operations callers actually use, Chat and ChatStream.
package chatclient

import "github.com/leofalp/aigo/protocol"

// Role is a Message's sender, one of the four the wire protocol knows.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// BlockType discriminates a ContentBlock's payload.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockAudio      BlockType = "audio"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one piece of a Message's content. Exactly the fields
// relevant to Type are populated; the rest are zero.
type ContentBlock struct {
	Type BlockType

	// Text holds BlockText's body.
	Text string

	// Image/Audio: either Base64 or URL is set, never both.
	Base64    string
	URL       string
	MediaType string

	// ToolUse
	ToolUseID string
	ToolName  string
	ToolInput map[string]any

	// ToolResult
	ToolResultForID string
	ResultContent   string
	IsError         bool
}

// Message is one turn of a conversation: a role plus either a bare text
// body (Text non-empty, Blocks nil) or an ordered list of content blocks.
type Message struct {
	Role   Role
	Text   string
	Blocks []ContentBlock
}

// NewTextMessage builds a plain-text Message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Text: text}
}

// ToolUseIDs returns the tool_use ids present in this message's blocks,
// in order.
func (m Message) ToolUseIDs() []string {
	var ids []string
	for _, b := range m.Blocks {
		if b.Type == BlockToolUse {
			ids = append(ids, b.ToolUseID)
		}
	}
	return ids
}

// ValidateToolResultReferences checks the invariant that every tool_result
// block in msgs references a tool_use id seen earlier in the same
// conversation (a prior message, or an earlier block of the same message).
func ValidateToolResultReferences(msgs []Message) error {
	seen := make(map[string]bool)
	for _, msg := range msgs {
		for _, b := range msg.Blocks {
			switch b.Type {
			case BlockToolUse:
				seen[b.ToolUseID] = true
			case BlockToolResult:
				if !seen[b.ToolResultForID] {
					return protocol.New(protocol.KindValidation,
						"tool_result references unknown tool_use id "+b.ToolResultForID)
				}
			}
		}
	}
	return nil
}

// wireContent serializes a Message's content the way Client orchestration
// requires: bare text stays a string, a block list dumps each block to its
// provider-agnostic wire shape (providers/openai-vs-anthropic differences
// are the Manifest's concern, applied later by the payload builder).
func (m Message) wireContent() any {
	if m.Blocks == nil {
		return m.Text
	}
	out := make([]map[string]any, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		out = append(out, b.wire())
	}
	return out
}

func (b ContentBlock) wire() map[string]any {
	switch b.Type {
	case BlockText:
		return map[string]any{"type": "text", "text": b.Text}
	case BlockImage:
		src := map[string]any{"media_type": b.MediaType}
		if b.Base64 != "" {
			src["base64"] = b.Base64
		} else {
			src["url"] = b.URL
		}
		return map[string]any{"type": "image", "source": src}
	case BlockAudio:
		src := map[string]any{}
		if b.Base64 != "" {
			src["base64"] = b.Base64
		} else {
			src["url"] = b.URL
		}
		return map[string]any{"type": "audio", "source": src}
	case BlockToolUse:
		return map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": b.ToolInput}
	case BlockToolResult:
		return map[string]any{"type": "tool_result", "tool_use_id": b.ToolResultForID, "content": b.ResultContent, "is_error": b.IsError}
	default:
		return map[string]any{"type": string(b.Type)}
	}
}
