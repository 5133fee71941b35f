package backend

import (
	"context"

	"pontoon/tools"
)

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	ToolCallID string
	Name       string
	Args       map[string]interface{}
}

// Message is one entry in a conversation transcript. Role is system, user,
// assistant or tool. Reasoning carries the model's thinking sections when
// the provider exposes them; Usage carries the provider's token counts for
// the exchange that produced this message.
type Message struct {
	Role      string
	Content   string
	Reasoning []string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ChatClient is the provider-facing half of a conversation: one blocking
// request/response exchange per call. The conversation loop above it owns
// tool execution, approvals and event emission.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error)
	// SetModel redirects subsequent calls to a different model on the same
	// provider.
	SetModel(model string)
}
