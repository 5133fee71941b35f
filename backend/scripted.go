package backend

import (
	"context"
	"sync"

	"pontoon/errors"
	"pontoon/tools"
)

// ScriptedClient replays a fixed sequence of assistant replies. It stands in
// for a real provider in tests and in offline smoke runs.
type ScriptedClient struct {
	mu      sync.Mutex
	replies []*Message
	calls   int
	model   string

	// Gate, when non-nil, blocks each Chat call until it receives or the
	// context ends. Cancellation tests use it to park a turn mid-flight.
	Gate chan struct{}
}

func NewScriptedClient(replies ...*Message) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

func (s *ScriptedClient) Chat(ctx context.Context, messages []Message, availableTools []tools.Tool) (*Message, error) {
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.replies) {
		return nil, errors.New("script exhausted after %d calls", s.calls)
	}
	reply := s.replies[s.calls]
	s.calls++
	return reply, nil
}

func (s *ScriptedClient) SetModel(model string) {
	s.mu.Lock()
	s.model = model
	s.mu.Unlock()
}

// Model returns the most recent SetModel value.
func (s *ScriptedClient) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// Calls returns how many Chat exchanges have happened.
func (s *ScriptedClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// ScriptedEngine wires a ScriptedClient (or any ChatClient) into the real
// conversation loop with a caller-chosen tool surface. No relay or MCP
// connections are made.
type ScriptedEngine struct {
	Client ChatClient
	Tools  []tools.Tool

	mu         sync.Mutex
	lastConfig SessionConfig
	opened     int
}

func (e *ScriptedEngine) OpenConversation(ctx context.Context, sc SessionConfig) (Conversation, error) {
	registry := tools.NewRegistry()
	for _, t := range e.Tools {
		registry.Register(t)
	}
	e.mu.Lock()
	e.lastConfig = sc
	e.opened++
	e.mu.Unlock()
	return newChatConversation(e.Client, sc, registry, nil), nil
}

// LastConfig returns the most recent session config passed to
// OpenConversation.
func (e *ScriptedEngine) LastConfig() SessionConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastConfig
}

// Opened returns how many conversations have been opened.
func (e *ScriptedEngine) Opened() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened
}
