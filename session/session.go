// Package session owns per-session state for the bridge. The Store is the
// single source of truth: every other component reads session state through
// it and only the Store mutates a record. BeginTurn is the admission gate
// that keeps at most one turn in flight per session.
package session

import (
	"sync"
	"sync/atomic"

	"pontoon/backend"
	"pontoon/config"
	"pontoon/errors"
)

// Capabilities records what the connected client can do on the agent's
// behalf. Supplied once at initialize time, read-only afterwards.
type Capabilities struct {
	ReadTextFile  bool
	WriteTextFile bool
	Terminal      bool
}

// Turn is the handle for one in-flight prompt cycle. It is owned by the
// prompt coordinator; the store only tracks whether one exists.
type Turn struct {
	SessionID string
	cancelled atomic.Bool
}

// Cancel marks the turn as cancelled. Idempotent.
func (t *Turn) Cancel() { t.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (t *Turn) Cancelled() bool { return t.cancelled.Load() }

// State is one session record. Copies handed out by the Store are snapshots;
// mutations go through Store methods.
type State struct {
	ID string
	// RelaySession correlates filesystem relay calls back to this session.
	// Distinct from ID so the relay token can be minted before the backend
	// conversation exists.
	RelaySession string
	Mode         Mode
	Provider     string
	Model        string
	Capabilities Capabilities
	Usage        backend.TokenUsage

	conversation backend.Conversation
	turn         *Turn
}

// Conversation returns the cached backend conversation, or nil before the
// first prompt.
func (s *State) Conversation() backend.Conversation { return s.conversation }

// ModelID returns the session's model in provider@model wire form.
func (s *State) ModelID() string { return FormatModelID(s.Provider, s.Model) }

// Store is the in-memory session table. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	sessions   map[string]*State
	clientCaps Capabilities
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]*State)}
}

// SetClientCapabilities records what the connected client advertised at
// initialize time. Sessions created afterwards snapshot these flags.
func (st *Store) SetClientCapabilities(caps Capabilities) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.clientCaps = caps
}

// ClientCapabilities returns the flags captured at initialize time.
func (st *Store) ClientCapabilities() Capabilities {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.clientCaps
}

// Create registers a new session. Fails with DuplicateSession when the id is
// already present and InvalidMode when the initial mode is not a preset.
func (st *Store) Create(id, relaySession string, mode Mode, provider, model string) (State, error) {
	if _, ok := PresetByMode(mode); !ok {
		return State{}, errors.NewKind(errors.KindInvalidMode, "unknown mode %q", mode)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.sessions[id]; ok {
		return State{}, errors.NewKind(errors.KindDuplicateSession, "session %q already exists", id)
	}
	s := &State{
		ID:           id,
		RelaySession: relaySession,
		Mode:         mode,
		Provider:     provider,
		Model:        model,
		Capabilities: st.clientCaps,
	}
	st.sessions[id] = s
	return *s, nil
}

// Get returns a snapshot of the session state.
func (st *Store) Get(id string) (State, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return State{}, errors.NewKind(errors.KindNotFound, "session %q not found", id)
	}
	return *s, nil
}

// ResolveRelaySession maps a relay correlation token back to its session id.
func (st *Store) ResolveRelaySession(relaySession string) (State, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.sessions {
		if s.RelaySession == relaySession {
			return *s, nil
		}
	}
	return State{}, errors.NewKind(errors.KindNotFound, "no session for relay token")
}

// SetMode switches the session's approval/sandbox preset.
func (st *Store) SetMode(id string, mode Mode) (State, error) {
	if _, ok := PresetByMode(mode); !ok {
		return State{}, errors.NewKind(errors.KindInvalidMode, "unknown mode %q", mode)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return State{}, errors.NewKind(errors.KindNotFound, "session %q not found", id)
	}
	s.Mode = mode
	return *s, nil
}

// SetModel switches the session's model. Only transitions between custom
// providers are supported: the default provider's conversations are pinned to
// their model, so switching away from or into it is rejected.
func (st *Store) SetModel(id, modelID string) (State, error) {
	provider, model, err := ParseModelID(modelID)
	if err != nil {
		return State{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return State{}, errors.NewKind(errors.KindNotFound, "session %q not found", id)
	}
	if !config.IsCustomProvider(s.Provider) || !config.IsCustomProvider(provider) {
		return State{}, errors.NewKind(errors.KindUnsupportedTransition,
			"model switching requires both the current provider %q and the target provider %q to be custom providers", s.Provider, provider)
	}
	s.Provider = provider
	s.Model = model
	return *s, nil
}

// BeginTurn atomically claims the session's single turn slot. This is the
// sole admission-control point preventing concurrent turns on one session.
func (st *Store) BeginTurn(id string) (*Turn, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[id]
	if !ok {
		return nil, errors.NewKind(errors.KindNotFound, "session %q not found", id)
	}
	if s.turn != nil {
		return nil, errors.NewKind(errors.KindTurnAlreadyActive, "session %q already has a turn in flight", id)
	}
	s.turn = &Turn{SessionID: id}
	return s.turn, nil
}

// ActiveTurn returns the in-flight turn handle, or nil when the session is
// idle or unknown.
func (st *Store) ActiveTurn(id string) *Turn {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s.turn
	}
	return nil
}

// EndTurn releases the turn slot. Idempotent; unknown sessions are ignored
// so failure paths can always release unconditionally.
func (st *Store) EndTurn(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		s.turn = nil
	}
}

// StoreConversation caches the backend conversation created lazily on the
// session's first prompt.
func (st *Store) StoreConversation(id string, conv backend.Conversation) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		s.conversation = conv
	}
}

// Conversation returns the cached conversation, or nil.
func (st *Store) Conversation(id string) backend.Conversation {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s.conversation
	}
	return nil
}

// SetUsage replaces the session's running token counter.
func (st *Store) SetUsage(id string, usage backend.TokenUsage) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		s.Usage = usage
	}
}

// IsReadOnly reports whether the session exists and is in a read-only mode.
func (st *Store) IsReadOnly(id string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return IsReadOnlyMode(s.Mode)
	}
	return false
}

// Close removes a session and closes its cached conversation, if any.
func (st *Store) Close(id string) error {
	st.mu.Lock()
	s, ok := st.sessions[id]
	if ok {
		delete(st.sessions, id)
	}
	st.mu.Unlock()
	if !ok {
		return errors.NewKind(errors.KindNotFound, "session %q not found", id)
	}
	if s.conversation != nil {
		return s.conversation.Close()
	}
	return nil
}
