package chatclient

// ToolDefinition describes one callable tool the model may invoke.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON-schema shaped
}

// ToolChoice constrains which tool (if any) the model must call.
type ToolChoice struct {
	Mode string // "auto" | "none" | "required" | "named"
	Name string // set when Mode == "named"
}

// ChatParams carries every request-shaping knob the public contracts
// accept, independent of any particular provider's parameter names.
// Manifest.ParameterName maps each field onto the wire name at payload
// build time.
type ChatParams struct {
	Model         string
	Temperature   *float64
	MaxTokens     *int
	TopP          *float64
	StopSequences []string
	Tools         []ToolDefinition
	ToolChoice    *ToolChoice
	Stream        bool

	// Extra carries provider-specific pass-through fields the caller
	// wants merged verbatim into the request payload.
	Extra map[string]any
}

// payload builds the wire-shape JSON body for one request: messages
// serialized per Message.wireContent, parameters mapped through the
// Manifest's parameter_mappings, and tools dumped when the provider
// declares tool support.
func (p ChatParams) payload(m *[]Message, manifest manifestLike) map[string]any {
	body := map[string]any{
		"model":    p.Model,
		"messages": wireMessages(*m),
		"stream":   p.Stream,
	}
	if p.Temperature != nil {
		body[manifest.ParameterName("temperature")] = *p.Temperature
	}
	if p.MaxTokens != nil {
		body[manifest.ParameterName("max_tokens")] = *p.MaxTokens
	}
	if p.TopP != nil {
		body[manifest.ParameterName("top_p")] = *p.TopP
	}
	if len(p.StopSequences) > 0 {
		body[manifest.ParameterName("stop")] = p.StopSequences
	}
	if len(p.Tools) > 0 && manifest.SupportsTools() {
		body["tools"] = wireTools(p.Tools)
	}
	if p.ToolChoice != nil {
		body[manifest.ParameterName("tool_choice")] = wireToolChoice(*p.ToolChoice)
	}
	for k, v := range p.Extra {
		body[k] = v
	}
	return body
}

// manifestLike is the subset of *protocol.Manifest the payload builder
// needs; named so request.go doesn't import protocol just to spell the
// concrete type.
type manifestLike interface {
	ParameterName(standardName string) string
	SupportsTools() bool
}

func wireMessages(msgs []Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, map[string]any{
			"role":    string(m.Role),
			"content": m.wireContent(),
		})
	}
	return out
}

func wireTools(tools []ToolDefinition) []map[string]any {
	out := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return out
}

func wireToolChoice(tc ToolChoice) any {
	if tc.Mode == "named" {
		return map[string]any{"type": "function", "function": map[string]any{"name": tc.Name}}
	}
	return tc.Mode
}
