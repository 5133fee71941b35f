// Package acp speaks the client protocol over stdio: newline-delimited
// JSON-RPC requests in, responses and session/update notifications out.
// Nothing but protocol frames is ever written to stdout; diagnostics go to a
// trace file behind a flag.
package acp

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"pontoon/agent"
	"pontoon/clientops"
	"pontoon/config"
	"pontoon/errors"
	"pontoon/events"
	"pontoon/session"
)

const protocolVersion = 1

// Server binds the transport to the coordinator. It owns the write lock that
// serializes every outbound frame and the pending table for requests it has
// issued to the client.
type Server struct {
	ctx   context.Context
	cfg   *config.Config
	coord *agent.Coordinator
	store *session.Store

	in        *bufio.Reader
	out       *bufio.Writer
	writeLock sync.Mutex
	trace     func(string)

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan *jsonrpcMessage

	prompts sync.WaitGroup
}

// Run serves the protocol until the input stream closes. Prompt turns run on
// their own goroutines so cancel notifications are handled while a turn
// streams.
func Run(ctx context.Context, cfg *config.Config, coord *agent.Coordinator, store *session.Store, queue *clientops.Queue, in *bufio.Reader, out *bufio.Writer, traceFlag bool) error {
	trace := func(string) {}
	if traceFlag {
		traceFile, _ := os.OpenFile("acp.trace", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if traceFile != nil {
			defer traceFile.Close()
			trace = func(msg string) {
				fmt.Fprintf(traceFile, "[%s] %s\n", time.Now().Format("15:04:05.000"), msg)
			}
		}
	}

	s := &Server{
		ctx:     ctx,
		cfg:     cfg,
		coord:   coord,
		store:   store,
		in:      in,
		out:     out,
		trace:   trace,
		pending: make(map[int64]chan *jsonrpcMessage),
	}
	coord.SetNotifier(s)

	opsCtx, cancelOps := context.WithCancel(ctx)
	defer cancelOps()
	go s.ServeClientOps(opsCtx, queue)

	trace("Run: starting protocol server")
	err := s.readLoop()
	s.prompts.Wait()
	return err
}

func (s *Server) readLoop() error {
	for {
		line, err := s.in.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				s.trace("readLoop: EOF, exiting")
				return nil
			}
			s.trace(fmt.Sprintf("readLoop: read error: %v", err))
			return errors.Wrapf(err, "protocol read error")
		}

		var msg jsonrpcMessage
		if uerr := json.Unmarshal(line, &msg); uerr != nil {
			s.trace(fmt.Sprintf("readLoop: parse error: %v", uerr))
			_ = s.writeError(nil, codeParseError, "Parse error", nil)
			continue
		}
		s.trace(fmt.Sprintf("readLoop: received %s", strings.TrimSpace(string(line))))

		if msg.Method == "" {
			// A response to one of our outbound client requests.
			s.resolvePending(&msg)
		} else {
			s.dispatch(&msg)
		}

		if err == io.EOF {
			s.trace("readLoop: EOF after final message")
			return nil
		}
	}
}

func (s *Server) dispatch(req *jsonrpcMessage) {
	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "authenticate":
		s.handleAuthenticate(req)
	case "session/new":
		s.handleSessionNew(req)
	case "session/load":
		s.handleSessionLoad(req)
	case "session/set_mode":
		s.handleSetMode(req)
	case "session/set_model":
		s.handleSetModel(req)
	case "session/prompt":
		s.handleSessionPrompt(req)
	case "session/cancel":
		s.handleSessionCancel(req)
	default:
		if strings.HasPrefix(req.Method, "_ext/") {
			s.handleExt(req)
			return
		}
		s.trace(fmt.Sprintf("dispatch: method not found: %s", req.Method))
		if req.ID != nil {
			_ = s.writeError(req.ID, codeMethodNotFound, "Method not found", nil)
		}
	}
}

// ---- Frame writing ----

func (s *Server) writeFrame(obj any) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize protocol message")
	}
	s.trace(fmt.Sprintf("writeFrame: %s", string(data)))

	s.writeLock.Lock()
	defer s.writeLock.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	if _, err := s.out.WriteString("\n"); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *Server) writeResult(id any, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return s.writeError(id, codeInternalError, "Internal error", nil)
	}
	return s.writeFrame(jsonrpcMessage{JSONRPC: "2.0", ID: id, Result: raw})
}

func (s *Server) writeError(id any, code int, msg string, data any) error {
	return s.writeFrame(jsonrpcMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

func (s *Server) writeTaxonomyError(id any, err error) error {
	code, msg, data := errorPayload(err)
	return s.writeError(id, code, msg, data)
}

func (s *Server) writeNotification(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return s.writeFrame(jsonrpcMessage{JSONRPC: "2.0", Method: method, Params: raw})
}

// SessionUpdate implements agent.Notifier.
func (s *Server) SessionUpdate(sessionID string, u events.Update) {
	supportTerminal := false
	if st, err := s.store.Get(sessionID); err == nil {
		supportTerminal = st.Capabilities.Terminal
	}
	update := renderUpdate(u, supportTerminal)
	if update == nil {
		return
	}
	_ = s.writeNotification("session/update", map[string]any{
		"sessionId": sessionID,
		"update":    update,
	})
}

// ---- Handlers ----

func parseParams[T any](req *jsonrpcMessage) (T, error) {
	var p T
	if len(req.Params) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(req.Params, &p); err != nil {
		return p, errors.Wrapf(err, "invalid params")
	}
	return p, nil
}

// authMethods advertises one method per configured provider. The method id
// is the provider id itself, which is also what authenticate matches.
func (s *Server) authMethods() []map[string]any {
	methods := []map[string]any{{
		"id":          config.DefaultProvider,
		"name":        "Anthropic",
		"description": "Authenticate with an Anthropic API key",
	}}
	ids := make([]string, 0, len(s.cfg.Providers))
	for id := range s.cfg.Providers {
		if config.IsCustomProvider(id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		p := s.cfg.Providers[id]
		name := p.Name
		if name == "" {
			name = id
		}
		methods = append(methods, map[string]any{
			"id":          id,
			"name":        name,
			"description": fmt.Sprintf("Authenticate with an API key for %s", name),
		})
	}
	return methods
}

func (s *Server) handleInitialize(req *jsonrpcMessage) {
	p, err := parseParams[initializeParams](req)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.store.SetClientCapabilities(session.Capabilities{
		ReadTextFile:  p.ClientCaps.FS.ReadTextFile,
		WriteTextFile: p.ClientCaps.FS.WriteTextFile,
		Terminal:      p.ClientCaps.Terminal,
	})

	_ = s.writeResult(req.ID, map[string]any{
		"protocolVersion": protocolVersion,
		"agentCapabilities": map[string]any{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": true,
				"image":           true,
			},
		},
		"authMethods": s.authMethods(),
	})
}

// handleAuthenticate accepts any advertised method id. Credentials are
// environment-provided; matching the id is the whole handshake.
func (s *Server) handleAuthenticate(req *jsonrpcMessage) {
	p, err := parseParams[authenticateParams](req)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	for _, m := range s.authMethods() {
		if m["id"] == p.MethodID {
			_ = s.writeResult(req.ID, nil)
			return
		}
	}
	_ = s.writeError(req.ID, codeInvalidParams, fmt.Sprintf("unknown auth method %q", p.MethodID), nil)
}

// modeState renders the session's current mode and the closed preset set.
func modeState(st session.State) map[string]any {
	var available []map[string]any
	for _, preset := range session.AvailableModes() {
		available = append(available, map[string]any{
			"id":          string(preset.ID),
			"name":        preset.Label,
			"description": preset.Description,
		})
	}
	return map[string]any{
		"currentModeId":  string(st.Mode),
		"availableModes": available,
	}
}

// modelState renders the switchable model list. Only custom-provider
// sessions can switch models, so default-provider sessions get none.
func (s *Server) modelState(st session.State) map[string]any {
	if !config.IsCustomProvider(st.Provider) {
		return nil
	}
	var available []map[string]any
	ids := make([]string, 0, len(s.cfg.Profiles))
	for name := range s.cfg.Profiles {
		ids = append(ids, name)
	}
	sort.Strings(ids)
	for _, name := range ids {
		profile := s.cfg.Profiles[name]
		if !config.IsCustomProvider(profile.Provider) {
			continue
		}
		available = append(available, map[string]any{
			"modelId": session.FormatModelID(profile.Provider, profile.Model),
			"name":    name,
		})
	}
	return map[string]any{
		"currentModelId":  st.ModelID(),
		"availableModels": available,
	}
}

func (s *Server) handleSessionNew(req *jsonrpcMessage) {
	p, err := parseParams[sessionNewParams](req)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	st, err := s.coord.NewSession(p.Cwd)
	if err != nil {
		_ = s.writeTaxonomyError(req.ID, err)
		return
	}

	result := map[string]any{
		"sessionId": st.ID,
		"modes":     modeState(st),
	}
	if models := s.modelState(st); models != nil {
		result["models"] = models
	}
	_ = s.writeResult(req.ID, result)
}

func (s *Server) handleSessionLoad(req *jsonrpcMessage) {
	p, err := parseParams[sessionLoadParams](req)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if p.SessionID == "" {
		_ = s.writeError(req.ID, codeInvalidParams, "sessionId is required", nil)
		return
	}

	st, err := s.coord.LoadSession(p.SessionID, p.Cwd)
	if err != nil {
		_ = s.writeTaxonomyError(req.ID, err)
		return
	}

	result := map[string]any{
		"modes": modeState(st),
	}
	if models := s.modelState(st); models != nil {
		result["models"] = models
	}
	_ = s.writeResult(req.ID, result)
}

func (s *Server) handleSetMode(req *jsonrpcMessage) {
	p, err := parseParams[setModeParams](req)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if _, err := s.coord.SetMode(s.ctx, p.SessionID, session.Mode(p.ModeID)); err != nil {
		_ = s.writeTaxonomyError(req.ID, err)
		return
	}
	_ = s.writeResult(req.ID, nil)
}

func (s *Server) handleSetModel(req *jsonrpcMessage) {
	p, err := parseParams[setModelParams](req)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if _, err := s.coord.SetModel(s.ctx, p.SessionID, p.ModelID); err != nil {
		_ = s.writeTaxonomyError(req.ID, err)
		return
	}
	_ = s.writeResult(req.ID, nil)
}

// handleSessionPrompt runs the turn on its own goroutine so the read loop
// stays free to process cancel notifications and client responses.
func (s *Server) handleSessionPrompt(req *jsonrpcMessage) {
	p, err := parseParams[promptParams](req)
	if err != nil {
		_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		return
	}

	s.prompts.Add(1)
	go func() {
		defer s.prompts.Done()
		stop, err := s.coord.Prompt(s.ctx, p.SessionID, toInputItems(p.Prompt))
		if err != nil {
			_ = s.writeTaxonomyError(req.ID, err)
			return
		}
		_ = s.writeResult(req.ID, map[string]any{"stopReason": string(stop)})
	}()
}

// handleSessionCancel is a notification; it never gets a response.
func (s *Server) handleSessionCancel(req *jsonrpcMessage) {
	p, err := parseParams[cancelParams](req)
	if err != nil {
		s.trace(fmt.Sprintf("handleSessionCancel: bad params: %v", err))
		return
	}
	s.coord.Cancel(p.SessionID)
}

func (s *Server) handleExt(req *jsonrpcMessage) {
	method := strings.TrimPrefix(req.Method, "_ext/")
	p, err := parseParams[extParams](req)
	if err != nil {
		if req.ID != nil {
			_ = s.writeError(req.ID, codeInvalidParams, err.Error(), nil)
		}
		return
	}

	result, err := s.coord.ExtMethod(s.ctx, p.SessionID, method)
	if req.ID == nil {
		// Extension notifications are fire-and-forget.
		return
	}
	if err != nil {
		if stderrors.Is(err, agent.ErrUnknownExtMethod) {
			_ = s.writeError(req.ID, codeMethodNotFound, err.Error(), nil)
			return
		}
		_ = s.writeTaxonomyError(req.ID, err)
		return
	}
	_ = s.writeResult(req.ID, result)
}
