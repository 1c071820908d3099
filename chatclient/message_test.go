package chatclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leofalp/aigo/protocol"
)

func TestNewTextMessageHasNoBlocks(t *testing.T) {
	m := NewTextMessage(RoleUser, "hello")
	assert.Equal(t, RoleUser, m.Role)
	assert.Equal(t, "hello", m.Text)
	assert.Nil(t, m.Blocks)
	assert.Equal(t, "hello", m.wireContent())
}

func TestMessageToolUseIDsCollectsInOrder(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "let me check"},
			{Type: BlockToolUse, ToolUseID: "call_1", ToolName: "get_weather"},
			{Type: BlockToolUse, ToolUseID: "call_2", ToolName: "get_time"},
		},
	}
	assert.Equal(t, []string{"call_1", "call_2"}, m.ToolUseIDs())
}

func TestValidateToolResultReferencesAcceptsKnownID(t *testing.T) {
	msgs := []Message{
		{Role: RoleAssistant, Blocks: []ContentBlock{
			{Type: BlockToolUse, ToolUseID: "call_1", ToolName: "get_weather"},
		}},
		{Role: RoleTool, Blocks: []ContentBlock{
			{Type: BlockToolResult, ToolResultForID: "call_1", ResultContent: "72F"},
		}},
	}
	assert.NoError(t, ValidateToolResultReferences(msgs))
}

func TestValidateToolResultReferencesRejectsUnknownID(t *testing.T) {
	msgs := []Message{
		{Role: RoleTool, Blocks: []ContentBlock{
			{Type: BlockToolResult, ToolResultForID: "call_missing", ResultContent: "72F"},
		}},
	}
	err := ValidateToolResultReferences(msgs)
	require.Error(t, err)
	pe, ok := protocol.As(err)
	require.True(t, ok)
	assert.Equal(t, protocol.KindValidation, pe.Kind)
}

func TestMessageWireContentSerializesBlocks(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		Blocks: []ContentBlock{
			{Type: BlockText, Text: "sure"},
			{Type: BlockToolUse, ToolUseID: "call_1", ToolName: "get_weather", ToolInput: map[string]any{"loc": "sf"}},
		},
	}
	content, ok := m.wireContent().([]map[string]any)
	require.True(t, ok)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0]["type"])
	assert.Equal(t, "sure", content[0]["text"])
	assert.Equal(t, "call_1", content[1]["id"])
	assert.Equal(t, "get_weather", content[1]["name"])
}

func TestContentBlockWireToolResult(t *testing.T) {
	b := ContentBlock{Type: BlockToolResult, ToolResultForID: "call_1", ResultContent: "72F", IsError: true}
	wire := b.wire()
	assert.Equal(t, "tool_result", wire["type"])
	assert.Equal(t, "call_1", wire["tool_use_id"])
	assert.Equal(t, true, wire["is_error"])
}

func TestContentBlockWireImagePrefersBase64(t *testing.T) {
	b := ContentBlock{Type: BlockImage, Base64: "abc123", URL: "https://example.com/x.png", MediaType: "image/png"}
	wire := b.wire()
	src, ok := wire["source"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc123", src["base64"])
	_, hasURL := src["url"]
	assert.False(t, hasURL)
}
