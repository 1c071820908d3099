// Package toolcall assembles the tool calls the pipeline emitted as
// StreamingEvents over the course of a stream into finished, fully-parsed
// calls ready to execute.
package toolcall

import (
	"encoding/json"

	"github.com/kaptinlin/jsonrepair"

	"github.com/leofalp/aigo/protocol"
)

// Fragment is one tool call's accumulating state across the lifetime of
// a stream.
type Fragment struct {
	ID              string
	Name            string
	ArgumentsBuffer string
	Index           int
}

// FinishedCall is a Fragment's terminal, parsed form: Arguments holds the
// decoded object when ArgumentsBuffer parsed as a JSON object; otherwise
// ArgumentsRaw keeps the original string so a caller can decide what to
// do with a malformed or non-object payload rather than losing it.
type FinishedCall struct {
	ID           string
	Name         string
	Index        int
	Arguments    map[string]any
	ArgumentsRaw string
}

// Assembler collects ToolCallStarted/PartialToolCall events, keyed by
// tool-call id, preserving the order calls were first seen so a caller
// can replay them deterministically. Finalize parses each call's
// accumulated argument buffer as JSON once the stream ends.
type Assembler struct {
	fragments map[string]*Fragment
	order     []string
}

// New constructs an empty Assembler.
func New() *Assembler {
	return &Assembler{fragments: make(map[string]*Fragment)}
}

// OnStarted registers (or merges a late-arriving name into) the call
// named id at index.
func (a *Assembler) OnStarted(id, name string, index int) {
	frag, ok := a.fragments[id]
	if !ok {
		frag = &Fragment{ID: id, Name: name, Index: index}
		a.fragments[id] = frag
		a.order = append(a.order, id)
		return
	}
	if frag.Name == "" && name != "" {
		frag.Name = name
	}
}

// OnPartial appends an argument fragment to the call named id, creating
// it if OnStarted was never called for it (some providers emit arguments
// before any explicit "started" signal).
func (a *Assembler) OnPartial(id, argsChunk string, index int) {
	frag, ok := a.fragments[id]
	if !ok {
		frag = &Fragment{ID: id, Index: index}
		a.fragments[id] = frag
		a.order = append(a.order, id)
	}
	frag.ArgumentsBuffer += argsChunk
}

// OnName appends to a call's name across multiple fragments, for the rare
// API that streams the function name incrementally too.
func (a *Assembler) OnName(id, nameChunk string) {
	frag, ok := a.fragments[id]
	if !ok {
		frag = &Fragment{ID: id}
		a.fragments[id] = frag
		a.order = append(a.order, id)
	}
	frag.Name += nameChunk
}

// HasToolCalls reports whether any call has been registered.
func (a *Assembler) HasToolCalls() bool { return len(a.order) > 0 }

// Count returns the number of distinct tool calls seen.
func (a *Assembler) Count() int { return len(a.order) }

// Fragment returns the in-progress fragment for id, if any.
func (a *Assembler) Fragment(id string) (*Fragment, bool) {
	f, ok := a.fragments[id]
	return f, ok
}

// Finalize parses every accumulated call's argument buffer and returns
// the finished calls in first-seen order. A buffer that parses as a JSON
// object populates Arguments; a buffer that doesn't parse outright is
// given one repair pass (streamed arguments are routinely left with a
// dangling brace or trailing comma) before giving up; anything still
// malformed, or valid JSON that isn't an object, is kept verbatim in
// ArgumentsRaw so the caller can still inspect it.
func (a *Assembler) Finalize() []FinishedCall {
	calls := make([]FinishedCall, 0, len(a.order))
	for _, id := range a.order {
		frag := a.fragments[id]
		call := FinishedCall{ID: frag.ID, Name: frag.Name, Index: frag.Index}

		if obj, ok := parseArgumentsObject(frag.ArgumentsBuffer); ok {
			call.Arguments = obj
		} else {
			call.ArgumentsRaw = frag.ArgumentsBuffer
		}
		calls = append(calls, call)
	}
	return calls
}

// parseArgumentsObject parses buf as a JSON object, repairing it first if
// direct unmarshaling fails.
func parseArgumentsObject(buf string) (map[string]any, bool) {
	if buf == "" {
		return nil, false
	}
	var obj map[string]any
	if json.Unmarshal([]byte(buf), &obj) == nil {
		return obj, true
	}
	repaired, err := jsonrepair.JSONRepair(buf)
	if err != nil {
		return nil, false
	}
	if json.Unmarshal([]byte(repaired), &obj) == nil {
		return obj, true
	}
	return nil, false
}

// FinalizeAndReset finalizes, then clears all state.
func (a *Assembler) FinalizeAndReset() []FinishedCall {
	calls := a.Finalize()
	a.Reset()
	return calls
}

// Reset clears all accumulated state.
func (a *Assembler) Reset() {
	a.fragments = make(map[string]*Fragment)
	a.order = nil
}

// MultiAssembler manages one Assembler per conversation turn, for
// clients juggling multiple in-flight turns (e.g. parallel tool-calling
// agents) that must not let their fragments collide.
type MultiAssembler struct {
	turns map[string]*Assembler
}

// NewMulti constructs an empty MultiAssembler.
func NewMulti() *MultiAssembler { return &MultiAssembler{turns: make(map[string]*Assembler)} }

func (m *MultiAssembler) assemblerFor(turnID string) *Assembler {
	a, ok := m.turns[turnID]
	if !ok {
		a = New()
		m.turns[turnID] = a
	}
	return a
}

// OnStarted delegates to the Assembler for turnID.
func (m *MultiAssembler) OnStarted(turnID, id, name string, index int) {
	m.assemblerFor(turnID).OnStarted(id, name, index)
}

// OnPartial delegates to the Assembler for turnID.
func (m *MultiAssembler) OnPartial(turnID, id, argsChunk string, index int) {
	m.assemblerFor(turnID).OnPartial(id, argsChunk, index)
}

// FinalizeTurn finalizes and returns the calls for one turn, erroring if
// the turn is unknown.
func (m *MultiAssembler) FinalizeTurn(turnID string) ([]FinishedCall, error) {
	a, ok := m.turns[turnID]
	if !ok {
		return nil, protocol.New(protocol.KindValidation, "toolcall: unknown turn "+turnID)
	}
	return a.Finalize(), nil
}

// FinalizeAll finalizes every turn, keyed by turn id.
func (m *MultiAssembler) FinalizeAll() map[string][]FinishedCall {
	out := make(map[string][]FinishedCall, len(m.turns))
	for id, a := range m.turns {
		out[id] = a.Finalize()
	}
	return out
}

// Reset clears every turn's state (turns themselves remain registered,
// empty).
func (m *MultiAssembler) Reset() {
	for _, a := range m.turns {
		a.Reset()
	}
}

// ResetTurn clears a single turn's state.
func (m *MultiAssembler) ResetTurn(turnID string) {
	if a, ok := m.turns[turnID]; ok {
		a.Reset()
	}
}

// Turns returns the ids of every known turn.
func (m *MultiAssembler) Turns() []string {
	ids := make([]string, 0, len(m.turns))
	for id := range m.turns {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of known turns.
func (m *MultiAssembler) Len() int { return len(m.turns) }
