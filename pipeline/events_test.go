package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStreamingEventAccessorsRoundTrip(t *testing.T) {
	ev := NewContentDelta("hi", 3)
	assert.True(t, ev.IsContentDelta())
	assert.False(t, ev.IsMetadata())
	assert.Equal(t, ContentDelta{Content: "hi", SequenceID: 3}, ev.AsContentDelta())

	tc := NewToolCallStarted("id1", "get_weather", 0)
	assert.True(t, tc.IsToolCallStarted())
	assert.Equal(t, ToolCallStarted{ToolCallID: "id1", ToolName: "get_weather", Index: 0}, tc.AsToolCallStarted())
}

func TestStreamingEventAsWrongVariantPanics(t *testing.T) {
	ev := NewContentDelta("hi", 0)
	assert.Panics(t, func() {
		_ = ev.AsMetadata()
	})
}

func TestStreamingEventStreamErrorCarriesErr(t *testing.T) {
	inner := &testErr{"boom"}
	ev := NewStreamError(inner, "evt-1")
	payload := ev.AsStreamError()
	assert.Equal(t, error(inner), payload.Err)
	assert.Equal(t, "evt-1", payload.EventID)
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }
