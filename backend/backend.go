// Package backend defines the boundary to the conversational engine: an
// Engine opens Conversations, a Conversation accepts prompts and produces an
// ordered stream of Events. The rest of the bridge treats the engine as
// opaque; only the event kinds below cross the boundary.
package backend

import (
	"context"

	"pontoon/config"
)

// EventKind discriminates the events a conversation emits while working on a
// prompt. Unknown kinds must be ignored by consumers.
type EventKind string

const (
	EventAssistantDelta  EventKind = "assistant_delta"
	EventAssistantText   EventKind = "assistant_text"
	EventReasoningDelta  EventKind = "reasoning_delta"
	EventReasoningBreak  EventKind = "reasoning_break"
	EventToolCallBegin   EventKind = "tool_call_begin"
	EventToolCallUpdate  EventKind = "tool_call_update"
	EventApprovalRequest EventKind = "approval_request"
	EventPlanUpdate      EventKind = "plan_update"
	EventTokenCount      EventKind = "token_count"
	EventTurnComplete    EventKind = "turn_complete"
	EventTurnAborted     EventKind = "turn_aborted"
	EventError           EventKind = "error"
)

// ToolStatus mirrors the client-visible tool call lifecycle.
type ToolStatus string

const (
	ToolPending    ToolStatus = "pending"
	ToolInProgress ToolStatus = "in_progress"
	ToolCompleted  ToolStatus = "completed"
	ToolFailed     ToolStatus = "failed"
)

// ToolCallEvent carries the payload of tool begin/update events.
type ToolCallEvent struct {
	CallID    string
	Title     string
	Kind      string // read, edit, search, execute, fetch, other
	Status    ToolStatus
	Path      string
	Line      *int
	Terminal  bool
	Output    string
	RawInput  map[string]interface{}
	RawOutput interface{}
}

// PlanEntry is one step of a plan the engine has announced.
type PlanEntry struct {
	Content string
	Status  string // pending, in_progress, completed
}

// TokenUsage is a running total reported by the engine.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

func (u TokenUsage) Total() int64 { return u.InputTokens + u.OutputTokens }

// Decision is the answer to an approval request.
type Decision string

const (
	DecisionApproved           Decision = "approved"
	DecisionApprovedForSession Decision = "approved-for-session"
	DecisionAbort              Decision = "abort"
)

// ApprovalRequest asks the turn owner whether a tool call may proceed. The
// conversation blocks on Reply; an abandoned request must be answered with
// DecisionAbort so the engine can resume.
type ApprovalRequest struct {
	CallID string
	Title  string
	Kind   string
	Path   string
	Reply  chan Decision
}

// Event is the tagged union streamed out of a conversation. Exactly the
// fields implied by Kind are populated.
type Event struct {
	Kind     EventKind
	Delta    string
	Text     string
	ToolCall *ToolCallEvent
	Approval *ApprovalRequest
	Plan     []PlanEntry
	Usage    *TokenUsage
	Err      error
}

// InputItem is one block of a user prompt.
type InputItem struct {
	Type     string // text, image, resource
	Text     string
	MimeType string
	Data     string
}

// SessionConfig parameterizes a new conversation.
type SessionConfig struct {
	Provider       string
	Model          string
	SystemPrompt   string
	Cwd            string
	ApprovalPolicy string
	SandboxPolicy  string
	// RelayURL and RelaySession connect the conversation's file tools to the
	// bridge's filesystem relay. Any process holding both values may issue
	// relay requests for the session, so they stay on the loopback interface.
	RelayURL     string
	RelaySession string
	MCPServers   []config.MCPServer
}

// Conversation is one live exchange with the engine. SendPrompt returns a
// channel that yields events in engine order and is closed when the turn
// ends (normally, aborted, or on error).
type Conversation interface {
	SendPrompt(ctx context.Context, items []InputItem) (<-chan Event, error)
	// Interrupt asks the engine to stop producing events for the current
	// turn. Cooperative: the stream still terminates through its channel.
	Interrupt()
	// Override adjusts conversation settings between turns. Empty fields are
	// left unchanged.
	Override(ctx context.Context, o OverrideContext) error
	Close() error
}

// Engine opens conversations. Implementations wrap a concrete model
// provider.
type Engine interface {
	OpenConversation(ctx context.Context, cfg SessionConfig) (Conversation, error)
}

// OverrideContext mutates settings of an open conversation between turns.
// Engines that cannot honour an override return an error.
type OverrideContext struct {
	ApprovalPolicy string
	SandboxPolicy  string
	Model          string
}
