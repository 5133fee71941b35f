package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pontoon/backend"
)

func TestReasoningCollapsesAtNextNonReasoningEvent(t *testing.T) {
	a := NewAggregator()

	assert.Empty(t, a.Translate(backend.Event{Kind: backend.EventReasoningDelta, Delta: "a"}))
	assert.Empty(t, a.Translate(backend.Event{Kind: backend.EventReasoningDelta, Delta: "b"}))

	updates := a.Translate(backend.Event{Kind: backend.EventAssistantDelta, Delta: "x"})
	require.Len(t, updates, 2)
	assert.Equal(t, UpdateThoughtChunk, updates[0].Kind)
	assert.Equal(t, "ab", updates[0].Text)
	assert.Equal(t, UpdateMessageChunk, updates[1].Kind)
	assert.Equal(t, "x", updates[1].Text)
}

func TestReasoningFlushedAtTurnEnd(t *testing.T) {
	a := NewAggregator()
	a.Translate(backend.Event{Kind: backend.EventReasoningDelta, Delta: "tail thought"})

	flush := a.FlushReasoning()
	require.NotNil(t, flush)
	assert.Equal(t, UpdateThoughtChunk, flush.Kind)
	assert.Equal(t, "tail thought", flush.Text)

	assert.Nil(t, a.FlushReasoning(), "second flush has nothing pending")
}

func TestReasoningSectionsJoinedWithBlankLine(t *testing.T) {
	a := NewAggregator()
	a.Translate(backend.Event{Kind: backend.EventReasoningDelta, Delta: "first section  \n"})
	a.Translate(backend.Event{Kind: backend.EventReasoningBreak})
	a.Translate(backend.Event{Kind: backend.EventReasoningDelta, Delta: "   "})
	a.Translate(backend.Event{Kind: backend.EventReasoningBreak})
	a.Translate(backend.Event{Kind: backend.EventReasoningDelta, Delta: "second"})

	flush := a.FlushReasoning()
	require.NotNil(t, flush)
	assert.Equal(t, "first section\n\nsecond", flush.Text)
}

func TestMessageDeltasForwardedUnbuffered(t *testing.T) {
	a := NewAggregator()
	for _, delta := range []string{"one", "two", "three"} {
		updates := a.Translate(backend.Event{Kind: backend.EventAssistantDelta, Delta: delta})
		require.Len(t, updates, 1)
		assert.Equal(t, delta, updates[0].Text)
	}
}

func TestToolCallMapping(t *testing.T) {
	a := NewAggregator()

	begin := a.Translate(backend.Event{
		Kind:     backend.EventToolCallBegin,
		ToolCall: &backend.ToolCallEvent{CallID: "call_1", Title: "Read main.go", Status: backend.ToolInProgress},
	})
	require.Len(t, begin, 1)
	assert.Equal(t, UpdateToolCall, begin[0].Kind)
	assert.Equal(t, "call_1", begin[0].ToolCall.CallID)

	end := a.Translate(backend.Event{
		Kind:     backend.EventToolCallUpdate,
		ToolCall: &backend.ToolCallEvent{CallID: "call_1", Status: backend.ToolCompleted},
	})
	require.Len(t, end, 1)
	assert.Equal(t, UpdateToolCallUpdate, end[0].Kind)
	assert.Equal(t, backend.ToolCompleted, end[0].ToolCall.Status)
}

func TestTokenCountProducesNoImmediateUpdate(t *testing.T) {
	a := NewAggregator()
	updates := a.Translate(backend.Event{
		Kind:  backend.EventTokenCount,
		Usage: &backend.TokenUsage{InputTokens: 100, OutputTokens: 20},
	})
	assert.Empty(t, updates)
	assert.Equal(t, int64(120), a.Usage().Total())
}

func TestUnknownEventKindIgnored(t *testing.T) {
	a := NewAggregator()
	assert.Empty(t, a.Translate(backend.Event{Kind: backend.EventKind("holographic_delta"), Delta: "???"}))
}

func TestReasoningFlushPositionedBeforeToolCall(t *testing.T) {
	a := NewAggregator()
	a.Translate(backend.Event{Kind: backend.EventReasoningDelta, Delta: "deciding"})

	updates := a.Translate(backend.Event{
		Kind:     backend.EventToolCallBegin,
		ToolCall: &backend.ToolCallEvent{CallID: "call_1", Status: backend.ToolInProgress},
	})
	require.Len(t, updates, 2)
	assert.Equal(t, UpdateThoughtChunk, updates[0].Kind)
	assert.Equal(t, UpdateToolCall, updates[1].Kind)
}
