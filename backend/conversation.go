package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"pontoon/errors"
	"pontoon/tools"
)

// Approval policy names shared with the session mode presets.
const (
	ApprovalNever     = "never"
	ApprovalOnRequest = "on-request"
	ApprovalUntrusted = "untrusted"
)

// maxToolIterations bounds the chat/tool loop of a single turn so a model
// stuck requesting tools cannot spin forever.
const maxToolIterations = 24

// chatConversation drives a ChatClient through the prompt/tool loop and
// emits the event stream the rest of the bridge consumes. One turn is active
// at a time; the caller enforces that through its own admission control.
type chatConversation struct {
	client   ChatClient
	registry *tools.Registry
	conns    []*tools.MCPConn

	mu                 sync.Mutex
	history            []Message
	approvalPolicy     string
	sandboxPolicy      string
	approvedForSession map[string]bool
	cancelTurn         context.CancelFunc

	interrupted atomic.Bool
	usage       TokenUsage
}

func newChatConversation(client ChatClient, cfg SessionConfig, registry *tools.Registry, conns []*tools.MCPConn) *chatConversation {
	c := &chatConversation{
		client:             client,
		registry:           registry,
		conns:              conns,
		approvalPolicy:     cfg.ApprovalPolicy,
		sandboxPolicy:      cfg.SandboxPolicy,
		approvedForSession: make(map[string]bool),
	}
	if cfg.SystemPrompt != "" {
		c.history = append(c.history, Message{Role: "system", Content: cfg.SystemPrompt})
	}
	return c
}

// SendPrompt appends the user input to the transcript and starts the turn
// loop. The returned channel is buffered and always drained by the turn
// owner; it closes when the turn reaches a terminal event.
func (c *chatConversation) SendPrompt(ctx context.Context, items []InputItem) (<-chan Event, error) {
	content := flattenInput(items)
	if content == "" {
		return nil, errors.New("prompt contains no usable content")
	}

	turnCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.history = append(c.history, Message{Role: "user", Content: content})
	c.cancelTurn = cancel
	c.mu.Unlock()
	c.interrupted.Store(false)

	ch := make(chan Event, 64)
	go c.run(turnCtx, cancel, ch)
	return ch, nil
}

// Interrupt requests a cooperative stop of the in-flight turn. The event
// stream still terminates through its channel with a turn_aborted event.
func (c *chatConversation) Interrupt() {
	c.interrupted.Store(true)
	c.mu.Lock()
	cancel := c.cancelTurn
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Override adjusts conversation settings between turns.
func (c *chatConversation) Override(ctx context.Context, o OverrideContext) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if o.ApprovalPolicy != "" {
		c.approvalPolicy = o.ApprovalPolicy
	}
	if o.SandboxPolicy != "" {
		c.sandboxPolicy = o.SandboxPolicy
	}
	if o.Model != "" {
		c.client.SetModel(o.Model)
	}
	return nil
}

func (c *chatConversation) Close() error {
	var firstErr error
	for _, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *chatConversation) run(ctx context.Context, cancel context.CancelFunc, ch chan<- Event) {
	defer cancel()
	defer close(ch)

	for iter := 0; iter < maxToolIterations; iter++ {
		if c.interrupted.Load() {
			ch <- Event{Kind: EventTurnAborted}
			return
		}

		msg, err := c.client.Chat(ctx, c.snapshotHistory(), c.registry.All())
		if err != nil {
			if c.interrupted.Load() || ctx.Err() != nil {
				ch <- Event{Kind: EventTurnAborted}
				return
			}
			ch <- Event{Kind: EventError, Text: err.Error(), Err: errors.WithKind(errors.KindBackendError, err)}
			ch <- Event{Kind: EventTurnAborted}
			return
		}

		for i, section := range msg.Reasoning {
			if i > 0 {
				ch <- Event{Kind: EventReasoningBreak}
			}
			ch <- Event{Kind: EventReasoningDelta, Delta: section}
		}
		if msg.Usage != nil {
			c.mu.Lock()
			c.usage.InputTokens += msg.Usage.InputTokens
			c.usage.OutputTokens += msg.Usage.OutputTokens
			running := c.usage
			c.mu.Unlock()
			ch <- Event{Kind: EventTokenCount, Usage: &running}
		}
		if msg.Content != "" {
			ch <- Event{Kind: EventAssistantDelta, Delta: msg.Content}
		}

		c.appendHistory(Message{Role: "assistant", Content: msg.Content, ToolCalls: msg.ToolCalls})

		if len(msg.ToolCalls) == 0 {
			ch <- Event{Kind: EventTurnComplete}
			return
		}
		for _, tc := range msg.ToolCalls {
			if !c.runToolCall(ctx, ch, tc) {
				ch <- Event{Kind: EventTurnAborted}
				return
			}
		}
	}

	ch <- Event{Kind: EventError, Text: fmt.Sprintf("stopping after %d tool iterations without a final answer", maxToolIterations)}
	ch <- Event{Kind: EventTurnAborted}
}

// runToolCall executes one requested tool, gated by the approval policy.
// Returns false when the turn must abort (interrupt or user rejection).
func (c *chatConversation) runToolCall(ctx context.Context, ch chan<- Event, tc ToolCall) bool {
	if c.interrupted.Load() {
		return false
	}

	if tc.Name == tools.PlanToolName {
		if entries := parsePlanEntries(tc.Args); len(entries) > 0 {
			ch <- Event{Kind: EventPlanUpdate, Plan: entries}
		}
		c.appendHistory(Message{
			Role:      "tool",
			Content:   "Plan updated.",
			ToolCalls: []ToolCall{{ToolCallID: tc.ToolCallID, Name: tc.Name}},
		})
		return true
	}

	call := &ToolCallEvent{
		CallID:   tc.ToolCallID,
		Title:    tc.Name,
		Kind:     "other",
		Status:   ToolInProgress,
		RawInput: tc.Args,
	}
	if path, ok := tc.Args["path"].(string); ok {
		call.Path = path
	}

	tool, ok := c.registry.Get(tc.Name)
	if !ok {
		ch <- Event{Kind: EventToolCallBegin, ToolCall: call}
		c.finishToolCall(ch, call, tc, "", errors.New("tool '%s' is not available", tc.Name))
		return true
	}
	call.Kind = tool.Kind()
	if call.Kind == "execute" {
		command, _ := tc.Args["command"].(string)
		call.Title, call.Kind, call.Terminal = describeCommand(command)
	}
	ch <- Event{Kind: EventToolCallBegin, ToolCall: call}

	switch c.decide(ctx, ch, tool, call) {
	case DecisionAbort:
		failed := *call
		failed.Status = ToolFailed
		failed.Output = "rejected by user"
		ch <- Event{Kind: EventToolCallUpdate, ToolCall: &failed}
		c.appendHistory(Message{
			Role:      "tool",
			Content:   "The user rejected this tool call.",
			ToolCalls: []ToolCall{{ToolCallID: tc.ToolCallID, Name: tc.Name}},
		})
		return false
	case DecisionApprovedForSession:
		c.mu.Lock()
		c.approvedForSession[tool.Name()] = true
		c.mu.Unlock()
	}

	output, err := tool.Execute(ctx, tc.Args)
	if c.interrupted.Load() {
		return false
	}
	c.finishToolCall(ch, call, tc, output, err)
	return true
}

func (c *chatConversation) finishToolCall(ch chan<- Event, call *ToolCallEvent, tc ToolCall, output string, err error) {
	done := *call
	transcript := output
	if err != nil {
		done.Status = ToolFailed
		done.Output = err.Error()
		transcript = fmt.Sprintf("Error: %v", err)
	} else {
		done.Status = ToolCompleted
		done.Output = output
		done.RawOutput = output
	}
	ch <- Event{Kind: EventToolCallUpdate, ToolCall: &done}
	c.appendHistory(Message{
		Role:      "tool",
		Content:   transcript,
		ToolCalls: []ToolCall{{ToolCallID: tc.ToolCallID, Name: tc.Name}},
	})
}

// describeCommand classifies an execute call's command string into a display
// title, a rendering kind and whether its output belongs in a terminal.
// Read/list/search commands get descriptive titles and render as plain
// content; everything else is a real command run.
func describeCommand(command string) (title, kind string, terminal bool) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "Run", "execute", true
	}
	args := fields[1:]
	lastArg := func() string {
		for i := len(args) - 1; i >= 0; i-- {
			if !strings.HasPrefix(args[i], "-") {
				return args[i]
			}
		}
		return ""
	}
	switch fields[0] {
	case "cat", "head", "tail":
		if name := lastArg(); name != "" {
			return "Read " + name, "read", false
		}
	case "ls":
		dir := lastArg()
		if dir == "" {
			dir = "."
		}
		return "List " + dir, "search", false
	case "grep", "rg":
		for _, a := range args {
			if !strings.HasPrefix(a, "-") {
				return "Search " + a, "search", false
			}
		}
	}
	return "Run " + command, "execute", true
}

// parsePlanEntries pulls plan steps out of an update_plan call. Entries
// without content are dropped; unrecognized statuses fall back to pending.
func parsePlanEntries(args map[string]interface{}) []PlanEntry {
	raw, _ := args["entries"].([]interface{})
	var entries []PlanEntry
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		content, _ := m["content"].(string)
		if content == "" {
			continue
		}
		status, _ := m["status"].(string)
		switch status {
		case "in_progress", "completed":
		default:
			status = "pending"
		}
		entries = append(entries, PlanEntry{Content: content, Status: status})
	}
	return entries
}

// decide runs the approval gate for one tool call. Tools already blessed for
// the session skip the prompt; an abandoned prompt counts as abort.
func (c *chatConversation) decide(ctx context.Context, ch chan<- Event, tool tools.Tool, call *ToolCallEvent) Decision {
	c.mu.Lock()
	policy := c.approvalPolicy
	blessed := c.approvedForSession[tool.Name()]
	c.mu.Unlock()

	if blessed || !approvalNeeded(policy, tool.Kind()) {
		return DecisionApproved
	}

	reply := make(chan Decision, 1)
	ch <- Event{Kind: EventApprovalRequest, Approval: &ApprovalRequest{
		CallID: call.CallID,
		Title:  call.Title,
		Kind:   call.Kind,
		Path:   call.Path,
		Reply:  reply,
	}}
	select {
	case d := <-reply:
		return d
	case <-ctx.Done():
		return DecisionAbort
	}
}

// approvalNeeded maps the session's approval policy to a per-tool decision:
// "never" trusts everything, "on-request" prompts for mutating tools, and
// "untrusted" prompts for anything that is not a plain read.
func approvalNeeded(policy, kind string) bool {
	switch policy {
	case ApprovalNever:
		return false
	case ApprovalUntrusted:
		return kind != "read"
	default:
		return tools.Mutating(kind)
	}
}

func (c *chatConversation) snapshotHistory() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

func (c *chatConversation) appendHistory(msg Message) {
	c.mu.Lock()
	c.history = append(c.history, msg)
	c.mu.Unlock()
}

// flattenInput joins prompt blocks into one transcript entry. Non-text
// blocks become placeholders so the model sees that something was attached.
func flattenInput(items []InputItem) string {
	var parts []string
	for _, it := range items {
		switch it.Type {
		case "text":
			if it.Text != "" {
				parts = append(parts, it.Text)
			}
		case "image":
			parts = append(parts, fmt.Sprintf("[attached image: %s]", it.MimeType))
		case "resource":
			if it.Text != "" {
				parts = append(parts, it.Text)
			} else {
				parts = append(parts, fmt.Sprintf("[attached resource: %s]", it.MimeType))
			}
		}
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n"
		}
		out += p
	}
	return out
}
