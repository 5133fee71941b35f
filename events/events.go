// Package events translates backend conversation events into client update
// records. The translation is stateless per call except for one carried
// piece: the reasoning accumulator, which collapses contiguous reasoning
// deltas into a single thought update flushed at the next non-reasoning
// event or at turn end.
package events

import (
	"strings"

	"pontoon/backend"
)

// UpdateKind discriminates client update records.
type UpdateKind string

const (
	UpdateMessageChunk      UpdateKind = "agent_message_chunk"
	UpdateThoughtChunk      UpdateKind = "agent_thought_chunk"
	UpdateToolCall          UpdateKind = "tool_call"
	UpdateToolCallUpdate    UpdateKind = "tool_call_update"
	UpdatePlan              UpdateKind = "plan"
	UpdateCurrentMode       UpdateKind = "current_mode_update"
	UpdateAvailableCommands UpdateKind = "available_commands_update"
)

// CommandInfo describes one slash command offered to the client.
type CommandInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputHint   string `json:"input,omitempty"`
}

// Update is one client-bound session update.
type Update struct {
	Kind     UpdateKind
	Text     string
	ToolCall *backend.ToolCallEvent
	Plan     []backend.PlanEntry
	ModeID   string
	Commands []CommandInfo
}

// Aggregator converts an ordered stream of backend events into an ordered
// stream of updates. Not safe for concurrent use; one aggregator serves one
// turn.
type Aggregator struct {
	sections []string
	current  strings.Builder
	usage    backend.TokenUsage
}

// NewAggregator creates an aggregator for a fresh turn.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Translate maps one backend event to zero or more updates, in order. A
// non-reasoning event first flushes any accumulated reasoning so the thought
// update is positioned where the reasoning run ended. Unknown event kinds
// translate to nothing.
func (a *Aggregator) Translate(ev backend.Event) []Update {
	switch ev.Kind {
	case backend.EventReasoningDelta:
		a.current.WriteString(ev.Delta)
		return nil
	case backend.EventReasoningBreak:
		a.sectionBreak()
		return nil
	}

	var updates []Update
	if flush := a.FlushReasoning(); flush != nil {
		updates = append(updates, *flush)
	}

	switch ev.Kind {
	case backend.EventAssistantDelta:
		updates = append(updates, Update{Kind: UpdateMessageChunk, Text: ev.Delta})
	case backend.EventAssistantText:
		updates = append(updates, Update{Kind: UpdateMessageChunk, Text: ev.Text})
	case backend.EventToolCallBegin:
		updates = append(updates, Update{Kind: UpdateToolCall, ToolCall: ev.ToolCall})
	case backend.EventToolCallUpdate:
		updates = append(updates, Update{Kind: UpdateToolCallUpdate, ToolCall: ev.ToolCall})
	case backend.EventPlanUpdate:
		updates = append(updates, Update{Kind: UpdatePlan, Plan: ev.Plan})
	case backend.EventTokenCount:
		if ev.Usage != nil {
			a.usage = *ev.Usage
		}
	case backend.EventError:
		if ev.Text != "" {
			updates = append(updates, Update{Kind: UpdateMessageChunk, Text: ev.Text + "\n\n"})
		}
	}
	return updates
}

// FlushReasoning drains the accumulator into a single thought update, or nil
// when nothing is pending. Called by Translate on non-reasoning events and
// by the turn owner at turn end.
func (a *Aggregator) FlushReasoning() *Update {
	text := a.takeText()
	if text == "" {
		return nil
	}
	return &Update{Kind: UpdateThoughtChunk, Text: text}
}

// Usage returns the running token counter observed so far this turn.
func (a *Aggregator) Usage() backend.TokenUsage { return a.usage }

func (a *Aggregator) sectionBreak() {
	if a.current.Len() > 0 {
		a.sections = append(a.sections, a.current.String())
		a.current.Reset()
	}
}

// takeText joins the accumulated sections with blank lines, trimming trailing
// whitespace per section and skipping all-whitespace sections.
func (a *Aggregator) takeText() string {
	a.sectionBreak()
	var combined strings.Builder
	first := true
	for _, section := range a.sections {
		if strings.TrimSpace(section) == "" {
			continue
		}
		if !first {
			combined.WriteString("\n\n")
		}
		combined.WriteString(strings.TrimRight(section, " \t\r\n"))
		first = false
	}
	a.sections = a.sections[:0]
	return combined.String()
}
