package acp

import (
	"context"
	"encoding/json"
	"fmt"

	"pontoon/clientops"
	"pontoon/errors"
)

// ServeClientOps drains the operation queue, turning each op into an
// outbound JSON-RPC request to the client. Each op is served on its own
// goroutine; the pending table matches responses back by id.
func (s *Server) ServeClientOps(ctx context.Context, queue *clientops.Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-queue.Ops():
			go s.performOp(ctx, op)
		}
	}
}

func (s *Server) performOp(ctx context.Context, op *clientops.Op) {
	switch op.Kind {
	case clientops.KindRequestPermission:
		op.Resolve(s.performPermission(ctx, op.Permission))
	case clientops.KindReadTextFile:
		op.Resolve(s.performRead(ctx, op.Read))
	case clientops.KindWriteTextFile:
		op.Resolve(s.performWrite(ctx, op.Write))
	default:
		op.Resolve(clientops.Result{Err: errors.New("unknown client op kind %q", op.Kind)})
	}
}

// request issues one JSON-RPC request to the client and blocks for its
// response.
func (s *Server) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := s.nextID.Add(1)
	ch := make(chan *jsonrpcMessage, 1)
	s.pendingMu.Lock()
	s.pending[id] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, id)
		s.pendingMu.Unlock()
	}()

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to serialize %s params", method)
	}
	if err := s.writeFrame(jsonrpcMessage{JSONRPC: "2.0", ID: id, Method: method, Params: raw}); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, errors.New("%s failed: %s (code %d)", method, resp.Error.Message, resp.Error.Code)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolvePending routes a response frame to the request that issued it.
// Responses nothing is waiting for are dropped.
func (s *Server) resolvePending(msg *jsonrpcMessage) {
	idNum, ok := msg.ID.(float64)
	if !ok {
		s.trace(fmt.Sprintf("resolvePending: non-numeric response id %v", msg.ID))
		return
	}
	s.pendingMu.Lock()
	ch, ok := s.pending[int64(idNum)]
	s.pendingMu.Unlock()
	if !ok {
		s.trace(fmt.Sprintf("resolvePending: no pending request for id %v", msg.ID))
		return
	}
	ch <- msg
}

func (s *Server) performPermission(ctx context.Context, req *clientops.PermissionRequest) clientops.Result {
	options := make([]map[string]any, len(req.Options))
	for i, opt := range req.Options {
		options[i] = map[string]any{
			"optionId": opt.ID,
			"name":     opt.Name,
			"kind":     opt.Kind,
		}
	}
	toolCall := map[string]any{
		"toolCallId": req.CallID,
		"title":      req.Title,
		"kind":       req.ToolKind,
	}
	if req.Path != "" {
		toolCall["locations"] = []map[string]any{{"path": req.Path}}
	}

	raw, err := s.request(ctx, "session/request_permission", map[string]any{
		"sessionId": req.SessionID,
		"toolCall":  toolCall,
		"options":   options,
	})
	if err != nil {
		return clientops.Result{Err: err}
	}

	var result struct {
		Outcome struct {
			Outcome  string `json:"outcome"`
			OptionID string `json:"optionId"`
		} `json:"outcome"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return clientops.Result{Err: errors.Wrapf(err, "malformed permission outcome")}
	}
	return clientops.Result{Permission: &clientops.PermissionOutcome{
		OptionID:  result.Outcome.OptionID,
		Cancelled: result.Outcome.Outcome == "cancelled",
	}}
}

func (s *Server) performRead(ctx context.Context, req *clientops.ReadTextFileRequest) clientops.Result {
	params := map[string]any{
		"sessionId": req.SessionID,
		"path":      req.Path,
	}
	if req.Line > 0 {
		params["line"] = req.Line
	}
	if req.Limit > 0 {
		params["limit"] = req.Limit
	}

	raw, err := s.request(ctx, "fs/read_text_file", params)
	if err != nil {
		return clientops.Result{Err: err}
	}
	var result struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return clientops.Result{Err: errors.Wrapf(err, "malformed read result")}
	}
	return clientops.Result{Read: &clientops.ReadTextFileResult{Content: result.Content}}
}

func (s *Server) performWrite(ctx context.Context, req *clientops.WriteTextFileRequest) clientops.Result {
	_, err := s.request(ctx, "fs/write_text_file", map[string]any{
		"sessionId": req.SessionID,
		"path":      req.Path,
		"content":   req.Content,
	})
	return clientops.Result{Err: err}
}
