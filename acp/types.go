package acp

import (
	"encoding/json"

	"pontoon/backend"
	"pontoon/errors"
	"pontoon/events"
)

// ---- JSON-RPC framing types ----

type jsonrpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

const (
	codeParseError     = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
	codeRequestFailed  = -32000
)

// kindToCode maps the error taxonomy to JSON-RPC codes. Validation failures
// are invalid params; conflicts and policy rejections are request failures;
// everything opaque is internal.
func kindToCode(kind errors.Kind) int {
	switch kind {
	case errors.KindNotFound, errors.KindDuplicateSession, errors.KindInvalidMode,
		errors.KindInvalidModel, errors.KindUnsupportedTransition, errors.KindNoMatch:
		return codeInvalidParams
	case errors.KindTurnAlreadyActive, errors.KindReadOnlySession, errors.KindPermissionDenied:
		return codeRequestFailed
	default:
		return codeInternalError
	}
}

func errorPayload(err error) (int, string, any) {
	kind := errors.KindOf(err)
	var data any
	if kind != "" {
		data = map[string]string{"kind": string(kind)}
	}
	return kindToCode(kind), err.Error(), data
}

// ---- Inbound parameter shapes ----

type initializeParams struct {
	ProtocolVersion int `json:"protocolVersion"`
	ClientCaps      struct {
		FS struct {
			ReadTextFile  bool `json:"readTextFile"`
			WriteTextFile bool `json:"writeTextFile"`
		} `json:"fs"`
		Terminal bool `json:"terminal"`
	} `json:"clientCapabilities"`
}

type authenticateParams struct {
	MethodID string `json:"methodId"`
}

type sessionNewParams struct {
	Cwd        string          `json:"cwd"`
	McpServers json.RawMessage `json:"mcpServers,omitempty"`
}

type sessionLoadParams struct {
	SessionID  string          `json:"sessionId"`
	Cwd        string          `json:"cwd"`
	McpServers json.RawMessage `json:"mcpServers,omitempty"`
}

type setModeParams struct {
	SessionID string `json:"sessionId"`
	ModeID    string `json:"modeId"`
}

type setModelParams struct {
	SessionID string `json:"sessionId"`
	ModelID   string `json:"modelId"`
}

type contentBlock struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
	Resource *struct {
		URI      string `json:"uri,omitempty"`
		Text     string `json:"text,omitempty"`
		MimeType string `json:"mimeType,omitempty"`
	} `json:"resource,omitempty"`
}

type promptParams struct {
	SessionID string         `json:"sessionId"`
	Prompt    []contentBlock `json:"prompt"`
}

type cancelParams struct {
	SessionID string `json:"sessionId"`
}

type extParams struct {
	SessionID string `json:"sessionId"`
}

func toInputItems(blocks []contentBlock) []backend.InputItem {
	var items []backend.InputItem
	for _, b := range blocks {
		switch b.Type {
		case "text":
			items = append(items, backend.InputItem{Type: "text", Text: b.Text})
		case "image":
			items = append(items, backend.InputItem{Type: "image", MimeType: b.MimeType, Data: b.Data})
		case "resource":
			item := backend.InputItem{Type: "resource", MimeType: b.MimeType}
			if b.Resource != nil {
				item.Text = b.Resource.Text
				if item.MimeType == "" {
					item.MimeType = b.Resource.MimeType
				}
			}
			items = append(items, item)
		}
	}
	return items
}

// ---- Update rendering ----

func textContent(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func toolCallLocations(call *backend.ToolCallEvent) []map[string]any {
	if call.Path == "" {
		return nil
	}
	loc := map[string]any{"path": call.Path}
	if call.Line != nil {
		loc["line"] = *call.Line
	}
	return []map[string]any{loc}
}

// renderUpdate maps one translated update to the wire shape of a
// session/update notification's "update" field. supportTerminal reflects the
// client's terminal capability: command runs embed a terminal content block
// only when the client can render one.
func renderUpdate(u events.Update, supportTerminal bool) map[string]any {
	switch u.Kind {
	case events.UpdateMessageChunk:
		return map[string]any{
			"sessionUpdate": "agent_message_chunk",
			"content":       textContent(u.Text),
		}
	case events.UpdateThoughtChunk:
		return map[string]any{
			"sessionUpdate": "agent_thought_chunk",
			"content":       textContent(u.Text),
		}
	case events.UpdateToolCall:
		out := map[string]any{
			"sessionUpdate": "tool_call",
			"toolCallId":    u.ToolCall.CallID,
			"title":         u.ToolCall.Title,
			"kind":          u.ToolCall.Kind,
			"status":        string(u.ToolCall.Status),
		}
		if u.ToolCall.Terminal && supportTerminal {
			out["content"] = []map[string]any{
				{"type": "terminal", "terminalId": u.ToolCall.CallID},
			}
		}
		if locs := toolCallLocations(u.ToolCall); locs != nil {
			out["locations"] = locs
		}
		if u.ToolCall.RawInput != nil {
			out["rawInput"] = u.ToolCall.RawInput
		}
		return out
	case events.UpdateToolCallUpdate:
		out := map[string]any{
			"sessionUpdate": "tool_call_update",
			"toolCallId":    u.ToolCall.CallID,
			"status":        string(u.ToolCall.Status),
		}
		if u.ToolCall.Output != "" {
			out["content"] = []map[string]any{
				{"type": "content", "content": textContent(u.ToolCall.Output)},
			}
		}
		if u.ToolCall.RawOutput != nil {
			out["rawOutput"] = u.ToolCall.RawOutput
		}
		return out
	case events.UpdatePlan:
		entries := make([]map[string]any, len(u.Plan))
		for i, e := range u.Plan {
			entries[i] = map[string]any{
				"content":  e.Content,
				"status":   e.Status,
				"priority": "medium",
			}
		}
		return map[string]any{
			"sessionUpdate": "plan",
			"entries":       entries,
		}
	case events.UpdateCurrentMode:
		return map[string]any{
			"sessionUpdate": "current_mode_update",
			"currentModeId": u.ModeID,
		}
	case events.UpdateAvailableCommands:
		cmds := make([]map[string]any, len(u.Commands))
		for i, ci := range u.Commands {
			cmd := map[string]any{
				"name":        ci.Name,
				"description": ci.Description,
			}
			if ci.InputHint != "" {
				cmd["input"] = map[string]any{"hint": ci.InputHint}
			}
			cmds[i] = cmd
		}
		return map[string]any{
			"sessionUpdate":     "available_commands_update",
			"availableCommands": cmds,
		}
	}
	return nil
}
