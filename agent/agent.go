// Package agent coordinates prompt turns: it owns turn admission, drives the
// backend event stream through the update translator, services approval
// requests, and reports a stop reason for every turn.
package agent

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"pontoon/backend"
	"pontoon/clientops"
	"pontoon/config"
	"pontoon/errors"
	"pontoon/events"
	"pontoon/session"
)

// StopReason is the terminal status of a prompt turn.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopCancelled StopReason = "cancelled"
	StopRefusal   StopReason = "refusal"
)

// ErrUnknownExtMethod marks extension calls whose method name has no
// handler. The transport maps it to a method-not-found response.
var ErrUnknownExtMethod = errors.New("unknown extension method")

// Notifier delivers session updates to the connected client. The transport
// layer implements it.
type Notifier interface {
	SessionUpdate(sessionID string, update events.Update)
}

// Coordinator runs turns against the backend engine on behalf of sessions.
type Coordinator struct {
	cfg      *config.Config
	store    *session.Store
	engine   backend.Engine
	queue    *clientops.Queue
	relayURL string

	mu       sync.Mutex
	notifier Notifier
	cwd      map[string]string
}

func New(cfg *config.Config, store *session.Store, engine backend.Engine, queue *clientops.Queue, relayURL string) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		store:    store,
		engine:   engine,
		queue:    queue,
		relayURL: relayURL,
		cwd:      make(map[string]string),
	}
}

// SetNotifier binds the update sink. Must be called before the first prompt.
func (c *Coordinator) SetNotifier(n Notifier) {
	c.mu.Lock()
	c.notifier = n
	c.mu.Unlock()
}

func (c *Coordinator) send(sessionID string, u events.Update) {
	c.mu.Lock()
	n := c.notifier
	c.mu.Unlock()
	if n != nil {
		n.SessionUpdate(sessionID, u)
	}
}

// NewSession registers a session with the configured defaults and announces
// the available slash commands.
func (c *Coordinator) NewSession(cwd string) (session.State, error) {
	id := "sess_" + uuid.NewString()
	relayToken := uuid.NewString()
	st, err := c.store.Create(id, relayToken, session.Mode(c.cfg.DefaultMode), c.cfg.Provider, c.cfg.Model)
	if err != nil {
		return session.State{}, err
	}
	c.mu.Lock()
	c.cwd[id] = cwd
	c.mu.Unlock()
	c.send(id, events.Update{Kind: events.UpdateAvailableCommands, Commands: AvailableCommands()})
	return st, nil
}

// LoadSession re-registers a session under a client-supplied id. Nothing is
// replayed: conversation history, if any, lives with the backend.
func (c *Coordinator) LoadSession(sessionID, cwd string) (session.State, error) {
	relayToken := uuid.NewString()
	st, err := c.store.Create(sessionID, relayToken, session.Mode(c.cfg.DefaultMode), c.cfg.Provider, c.cfg.Model)
	if err != nil {
		return session.State{}, err
	}
	c.mu.Lock()
	c.cwd[sessionID] = cwd
	c.mu.Unlock()
	c.send(sessionID, events.Update{Kind: events.UpdateAvailableCommands, Commands: AvailableCommands()})
	return st, nil
}

// Prompt runs one turn. It is the only writer of turn slots: admission,
// event pumping and release all happen here. The turn slot is released on
// every path out of this function.
func (c *Coordinator) Prompt(ctx context.Context, sessionID string, items []backend.InputItem) (StopReason, error) {
	turn, err := c.store.BeginTurn(sessionID)
	if err != nil {
		return "", err
	}
	defer c.store.EndTurn(sessionID)

	st, err := c.store.Get(sessionID)
	if err != nil {
		return "", err
	}

	if cmd, ok := slashCommand(items); ok {
		c.send(sessionID, events.Update{Kind: events.UpdateMessageChunk, Text: c.runCommand(st, cmd)})
		return StopEndTurn, nil
	}

	conv, err := c.conversation(ctx, st)
	if err != nil {
		return "", err
	}

	ch, err := conv.SendPrompt(ctx, items)
	if err != nil {
		return "", errors.WithKind(errors.KindBackendError, err)
	}

	agg := events.NewAggregator()
	terminal := backend.EventTurnComplete
	for ev := range ch {
		if ev.Kind == backend.EventApprovalRequest {
			// A cancelled turn aborts pending approvals without asking the
			// client.
			if turn.Cancelled() {
				ev.Approval.Reply <- backend.DecisionAbort
				continue
			}
			c.answerApproval(ctx, sessionID, ev.Approval)
			continue
		}
		if ev.Kind == backend.EventTurnComplete || ev.Kind == backend.EventTurnAborted {
			terminal = ev.Kind
		}
		for _, u := range agg.Translate(ev) {
			if !turn.Cancelled() {
				c.send(sessionID, u)
			}
		}
	}
	if u := agg.FlushReasoning(); u != nil && !turn.Cancelled() {
		c.send(sessionID, *u)
	}
	if usage := agg.Usage(); usage.Total() > 0 {
		c.store.SetUsage(sessionID, usage)
	}

	if turn.Cancelled() {
		return StopCancelled, nil
	}
	if terminal == backend.EventTurnAborted {
		return StopRefusal, nil
	}
	return StopEndTurn, nil
}

// Cancel flags the active turn and interrupts the backend. A cancel for an
// idle or unknown session is a no-op.
func (c *Coordinator) Cancel(sessionID string) {
	turn := c.store.ActiveTurn(sessionID)
	if turn == nil {
		return
	}
	turn.Cancel()
	if conv := c.store.Conversation(sessionID); conv != nil {
		conv.Interrupt()
	}
}

// SetMode switches the session preset, propagates the new policies to an
// open conversation, and notifies the client.
func (c *Coordinator) SetMode(ctx context.Context, sessionID string, mode session.Mode) (session.State, error) {
	st, err := c.store.SetMode(sessionID, mode)
	if err != nil {
		return session.State{}, err
	}
	if conv := c.store.Conversation(sessionID); conv != nil {
		preset, _ := session.PresetByMode(mode)
		if err := conv.Override(ctx, backend.OverrideContext{
			ApprovalPolicy: preset.Approval,
			SandboxPolicy:  preset.Sandbox,
		}); err != nil {
			return session.State{}, errors.WithKind(errors.KindBackendError, err)
		}
	}
	c.send(sessionID, events.Update{Kind: events.UpdateCurrentMode, ModeID: string(mode)})
	return st, nil
}

// SetModel switches the session model and propagates it to an open
// conversation.
func (c *Coordinator) SetModel(ctx context.Context, sessionID, modelID string) (session.State, error) {
	st, err := c.store.SetModel(sessionID, modelID)
	if err != nil {
		return session.State{}, err
	}
	if conv := c.store.Conversation(sessionID); conv != nil {
		if err := conv.Override(ctx, backend.OverrideContext{Model: st.Model}); err != nil {
			return session.State{}, errors.WithKind(errors.KindBackendError, err)
		}
	}
	return st, nil
}

// conversation returns the session's backend conversation, opening and
// caching one on first use.
func (c *Coordinator) conversation(ctx context.Context, st session.State) (backend.Conversation, error) {
	if conv := c.store.Conversation(st.ID); conv != nil {
		return conv, nil
	}

	preset, _ := session.PresetByMode(st.Mode)
	c.mu.Lock()
	cwd := c.cwd[st.ID]
	c.mu.Unlock()

	conv, err := c.engine.OpenConversation(ctx, backend.SessionConfig{
		Provider:       st.Provider,
		Model:          st.Model,
		SystemPrompt:   c.cfg.SystemPrompt,
		Cwd:            cwd,
		ApprovalPolicy: preset.Approval,
		SandboxPolicy:  preset.Sandbox,
		RelayURL:       c.relayURL,
		RelaySession:   st.RelaySession,
		MCPServers:     c.cfg.AdditionalMCPServers,
	})
	if err != nil {
		return nil, errors.WithKind(errors.KindBackendError, err)
	}
	c.store.StoreConversation(st.ID, conv)
	return conv, nil
}

// answerApproval forwards one approval request to the client and relays the
// decision back. Any failure or dismissal counts as abort so the backend
// never hangs on a reply.
func (c *Coordinator) answerApproval(ctx context.Context, sessionID string, req *backend.ApprovalRequest) {
	outcome, err := c.queue.RequestPermission(ctx, &clientops.PermissionRequest{
		SessionID: sessionID,
		CallID:    req.CallID,
		Title:     req.Title,
		ToolKind:  req.Kind,
		Path:      req.Path,
	})
	decision := backend.DecisionAbort
	if err == nil && !outcome.Cancelled {
		switch outcome.OptionID {
		case "approved":
			decision = backend.DecisionApproved
		case "approved-for-session":
			decision = backend.DecisionApprovedForSession
		}
	}
	req.Reply <- decision
}

// ExtMethod serves experimental extension calls. Unknown methods fail with a
// NotFound error the transport maps to method-not-found.
func (c *Coordinator) ExtMethod(ctx context.Context, sessionID, method string) (interface{}, error) {
	st, err := c.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	switch method {
	case "usage":
		return map[string]interface{}{
			"inputTokens":  st.Usage.InputTokens,
			"outputTokens": st.Usage.OutputTokens,
			"totalTokens":  st.Usage.Total(),
		}, nil
	case "model":
		return map[string]interface{}{"modelId": st.ModelID()}, nil
	default:
		return nil, errors.WithKind(errors.KindNotFound, errors.Wrapf(ErrUnknownExtMethod, "%q", method))
	}
}
