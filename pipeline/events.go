// Package pipeline implements the streaming pipeline: decoding a
// provider's wire stream into frames, selecting the frames that carry
// payload, accumulating partial tool-call arguments, and mapping frames
// onto the unified StreamingEvent bus every provider emits through.
package pipeline

// EventType is the closed tag of a StreamingEvent's variant.
type EventType string

const (
	EventContentDelta    EventType = "content_delta"
	EventThinkingDelta   EventType = "thinking_delta"
	EventToolCallStarted EventType = "tool_call_started"
	EventPartialToolCall EventType = "partial_tool_call"
	EventToolCallEnded   EventType = "tool_call_ended"
	EventMetadata        EventType = "metadata"
	EventFinalCandidate  EventType = "final_candidate"
	EventStreamEnd       EventType = "stream_end"
	EventStreamError     EventType = "stream_error"
)

// ContentDelta carries an incremental chunk of assistant text.
type ContentDelta struct {
	Content    string
	SequenceID int
}

// ThinkingDelta carries an incremental chunk of reasoning/thinking text,
// for providers that stream it separately from content.
type ThinkingDelta struct {
	Thinking         string
	ToolConsideration string
}

// ToolCallStarted announces a new tool call at a given index, emitted
// exactly once per call before any PartialToolCall for it.
type ToolCallStarted struct {
	ToolCallID string
	ToolName   string
	Index      int
}

// PartialToolCall carries an incremental fragment of a tool call's JSON
// arguments. IsComplete reports whether this event's Arguments fragment
// parses as valid JSON on its own; fragments carried by earlier events
// for the same call are not taken into account, and a true value does
// not mean the call is finished.
type PartialToolCall struct {
	ToolCallID string
	Arguments  string
	Index      int
	IsComplete bool
}

// ToolCallEnded announces that a tool call has no more argument fragments.
type ToolCallEnded struct {
	ToolCallID string
	Index      int
}

// Metadata carries out-of-band accounting: token usage and the reason a
// turn or stream concluded.
type Metadata struct {
	Usage        map[string]any
	FinishReason string
	StopReason   string
}

// FinalCandidate announces the terminal state of one candidate response
// (most providers stream exactly one).
type FinalCandidate struct {
	CandidateIndex int
	FinishReason   string
}

// StreamEnd marks the definitive end of a stream.
type StreamEnd struct {
	FinishReason string
}

// StreamError carries a terminal or recoverable error surfaced mid-stream.
type StreamError struct {
	Err     error
	EventID string
}

// StreamingEvent is the closed, append-only, order-preserving union every
// decoded frame is mapped onto. Exactly one of the typed fields is
// meaningful, selected by Type; the As* accessors panic if called against
// the wrong variant, a fail-fast contract standing in for Go's absence of
// tagged unions.
type StreamingEvent struct {
	Type EventType

	contentDelta     *ContentDelta
	thinkingDelta    *ThinkingDelta
	toolCallStarted  *ToolCallStarted
	partialToolCall  *PartialToolCall
	toolCallEnded    *ToolCallEnded
	metadata         *Metadata
	finalCandidate   *FinalCandidate
	streamEnd        *StreamEnd
	streamError      *StreamError
}

func NewContentDelta(content string, sequenceID int) StreamingEvent {
	return StreamingEvent{Type: EventContentDelta, contentDelta: &ContentDelta{Content: content, SequenceID: sequenceID}}
}

func NewThinkingDelta(thinking, toolConsideration string) StreamingEvent {
	return StreamingEvent{Type: EventThinkingDelta, thinkingDelta: &ThinkingDelta{Thinking: thinking, ToolConsideration: toolConsideration}}
}

func NewToolCallStarted(id, name string, index int) StreamingEvent {
	return StreamingEvent{Type: EventToolCallStarted, toolCallStarted: &ToolCallStarted{ToolCallID: id, ToolName: name, Index: index}}
}

func NewPartialToolCall(id, arguments string, index int, isComplete bool) StreamingEvent {
	return StreamingEvent{Type: EventPartialToolCall, partialToolCall: &PartialToolCall{ToolCallID: id, Arguments: arguments, Index: index, IsComplete: isComplete}}
}

func NewToolCallEnded(id string, index int) StreamingEvent {
	return StreamingEvent{Type: EventToolCallEnded, toolCallEnded: &ToolCallEnded{ToolCallID: id, Index: index}}
}

func NewMetadata(usage map[string]any, finishReason, stopReason string) StreamingEvent {
	return StreamingEvent{Type: EventMetadata, metadata: &Metadata{Usage: usage, FinishReason: finishReason, StopReason: stopReason}}
}

func NewFinalCandidate(candidateIndex int, finishReason string) StreamingEvent {
	return StreamingEvent{Type: EventFinalCandidate, finalCandidate: &FinalCandidate{CandidateIndex: candidateIndex, FinishReason: finishReason}}
}

func NewStreamEnd(finishReason string) StreamingEvent {
	return StreamingEvent{Type: EventStreamEnd, streamEnd: &StreamEnd{FinishReason: finishReason}}
}

func NewStreamError(err error, eventID string) StreamingEvent {
	return StreamingEvent{Type: EventStreamError, streamError: &StreamError{Err: err, EventID: eventID}}
}

func (e StreamingEvent) IsContentDelta() bool     { return e.Type == EventContentDelta }
func (e StreamingEvent) IsThinkingDelta() bool    { return e.Type == EventThinkingDelta }
func (e StreamingEvent) IsToolCallStarted() bool  { return e.Type == EventToolCallStarted }
func (e StreamingEvent) IsPartialToolCall() bool  { return e.Type == EventPartialToolCall }
func (e StreamingEvent) IsToolCallEnded() bool     { return e.Type == EventToolCallEnded }
func (e StreamingEvent) IsMetadata() bool         { return e.Type == EventMetadata }
func (e StreamingEvent) IsFinalCandidate() bool   { return e.Type == EventFinalCandidate }
func (e StreamingEvent) IsStreamEnd() bool        { return e.Type == EventStreamEnd }
func (e StreamingEvent) IsStreamError() bool      { return e.Type == EventStreamError }

// AsContentDelta returns the event's payload. Panics if Type is not EventContentDelta.
func (e StreamingEvent) AsContentDelta() ContentDelta { return mustVariant(e.contentDelta, e.Type, EventContentDelta) }

func (e StreamingEvent) AsThinkingDelta() ThinkingDelta {
	return mustVariant(e.thinkingDelta, e.Type, EventThinkingDelta)
}

func (e StreamingEvent) AsToolCallStarted() ToolCallStarted {
	return mustVariant(e.toolCallStarted, e.Type, EventToolCallStarted)
}

func (e StreamingEvent) AsPartialToolCall() PartialToolCall {
	return mustVariant(e.partialToolCall, e.Type, EventPartialToolCall)
}

func (e StreamingEvent) AsToolCallEnded() ToolCallEnded {
	return mustVariant(e.toolCallEnded, e.Type, EventToolCallEnded)
}

func (e StreamingEvent) AsMetadata() Metadata { return mustVariant(e.metadata, e.Type, EventMetadata) }

func (e StreamingEvent) AsFinalCandidate() FinalCandidate {
	return mustVariant(e.finalCandidate, e.Type, EventFinalCandidate)
}

func (e StreamingEvent) AsStreamEnd() StreamEnd { return mustVariant(e.streamEnd, e.Type, EventStreamEnd) }

func (e StreamingEvent) AsStreamError() StreamError {
	return mustVariant(e.streamError, e.Type, EventStreamError)
}

func mustVariant[T any](v *T, actual, want EventType) T {
	if actual != want || v == nil {
		panic("pipeline: StreamingEvent is of type " + string(actual) + ", not " + string(want))
	}
	return *v
}
