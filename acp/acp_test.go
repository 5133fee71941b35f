package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pontoon/agent"
	"pontoon/backend"
	"pontoon/clientops"
	"pontoon/config"
	"pontoon/events"
	"pontoon/session"
	"pontoon/tools"
)

// testClient drives the server over in-memory pipes the way an editor would.
type testClient struct {
	t        *testing.T
	toServer *io.PipeWriter
	messages chan *jsonrpcMessage
	done     chan error
}

func startServer(t *testing.T, client backend.ChatClient, ts ...tools.Tool) *testClient {
	t.Helper()
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	cfg := &config.Config{
		Provider:    config.DefaultProvider,
		Model:       "claude-sonnet-4-0",
		DefaultMode: string(session.ModeAuto),
		Providers: map[string]config.Provider{
			"openrouter": {Name: "OpenRouter", Kind: "openai", BaseURL: "https://openrouter.test/v1", APIKeyEnv: "OPENROUTER_API_KEY"},
		},
	}
	store := session.NewStore()
	queue := clientops.NewQueue(8)
	engine := &backend.ScriptedEngine{Client: client, Tools: ts}
	coord := agent.New(cfg, store, engine, queue, "")

	tc := &testClient{
		t:        t,
		toServer: inW,
		messages: make(chan *jsonrpcMessage, 64),
		done:     make(chan error, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		tc.done <- Run(ctx, cfg, coord, store, queue, bufio.NewReader(inR), bufio.NewWriter(outW), false)
	}()
	go func() {
		scanner := bufio.NewScanner(outR)
		scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)
		for scanner.Scan() {
			var msg jsonrpcMessage
			if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
				continue
			}
			tc.messages <- &msg
		}
		close(tc.messages)
	}()

	t.Cleanup(func() {
		inW.Close()
		select {
		case <-tc.done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down")
		}
		cancel()
		outR.Close()
	})
	return tc
}

func (c *testClient) send(msg map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	_, err = c.toServer.Write(append(data, '\n'))
	require.NoError(c.t, err)
}

func (c *testClient) next() *jsonrpcMessage {
	c.t.Helper()
	select {
	case msg, ok := <-c.messages:
		require.True(c.t, ok, "server output closed unexpectedly")
		return msg
	case <-time.After(5 * time.Second):
		c.t.Fatal("timed out waiting for server message")
		return nil
	}
}

// call sends a request and collects messages until its response arrives,
// answering any server-initiated requests via respond. Notifications seen on
// the way are returned alongside the response.
func (c *testClient) call(id int, method string, params map[string]any, respond func(*jsonrpcMessage) any) (*jsonrpcMessage, []*jsonrpcMessage) {
	c.t.Helper()
	c.send(map[string]any{"jsonrpc": "2.0", "id": id, "method": method, "params": params})

	var notifications []*jsonrpcMessage
	for {
		msg := c.next()
		switch {
		case msg.Method == "" && msg.ID != nil:
			if int(msg.ID.(float64)) == id {
				return msg, notifications
			}
		case msg.Method != "" && msg.ID != nil:
			// Server-initiated request; answer it.
			require.NotNil(c.t, respond, "unexpected server request %s", msg.Method)
			c.send(map[string]any{"jsonrpc": "2.0", "id": msg.ID, "result": respond(msg)})
		default:
			notifications = append(notifications, msg)
		}
	}
}

func resultMap(t *testing.T, msg *jsonrpcMessage) map[string]any {
	t.Helper()
	require.Nil(t, msg.Error, "unexpected error: %+v", msg.Error)
	var out map[string]any
	require.NoError(t, json.Unmarshal(msg.Result, &out))
	return out
}

func updateOf(t *testing.T, msg *jsonrpcMessage) map[string]any {
	t.Helper()
	var params struct {
		Update map[string]any `json:"update"`
	}
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	return params.Update
}

func newSession(t *testing.T, c *testClient) string {
	t.Helper()
	resp, _ := c.call(2, "session/new", map[string]any{"cwd": "/work"}, nil)
	result := resultMap(t, resp)
	sid, _ := result["sessionId"].(string)
	require.NotEmpty(t, sid)
	return sid
}

func TestInitialize(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())

	resp, _ := c.call(1, "initialize", map[string]any{
		"protocolVersion": 1,
		"clientCapabilities": map[string]any{
			"fs": map[string]any{"readTextFile": true, "writeTextFile": true},
		},
	}, nil)
	result := resultMap(t, resp)

	assert.Equal(t, float64(1), result["protocolVersion"])
	methods := result["authMethods"].([]any)
	ids := []string{}
	for _, m := range methods {
		ids = append(ids, m.(map[string]any)["id"].(string))
	}
	assert.Contains(t, ids, "anthropic")
	assert.Contains(t, ids, "openrouter", "custom providers advertise their id as the auth method id")
}

func TestAuthenticate(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())

	resp, _ := c.call(1, "authenticate", map[string]any{"methodId": "openrouter"}, nil)
	assert.Nil(t, resp.Error)

	resp, _ = c.call(2, "authenticate", map[string]any{"methodId": "custom_provider"}, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
}

func TestSessionNew(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())

	resp, notes := c.call(1, "session/new", map[string]any{"cwd": "/work"}, nil)
	result := resultMap(t, resp)

	assert.NotEmpty(t, result["sessionId"])
	modes := result["modes"].(map[string]any)
	assert.Equal(t, "auto", modes["currentModeId"])
	assert.Len(t, modes["availableModes"].([]any), 3)
	assert.NotContains(t, result, "models", "default-provider sessions cannot switch models")

	require.NotEmpty(t, notes)
	assert.Equal(t, "available_commands_update", updateOf(t, notes[0])["sessionUpdate"])
}

func TestPromptStreamsMessageChunks(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient(&backend.Message{
		Role: "assistant", Content: "hello there",
	}))
	sid := newSession(t, c)

	resp, notes := c.call(3, "session/prompt", map[string]any{
		"sessionId": sid,
		"prompt":    []map[string]any{{"type": "text", "text": "hi"}},
	}, nil)

	assert.Equal(t, "end_turn", resultMap(t, resp)["stopReason"])
	var chunk string
	for _, n := range notes {
		u := updateOf(t, n)
		if u["sessionUpdate"] == "agent_message_chunk" {
			chunk = u["content"].(map[string]any)["text"].(string)
		}
	}
	assert.Equal(t, "hello there", chunk)
}

func TestCancelDuringPrompt(t *testing.T) {
	client := backend.NewScriptedClient(&backend.Message{Role: "assistant", Content: "late"})
	client.Gate = make(chan struct{})
	c := startServer(t, client)
	sid := newSession(t, c)

	c.send(map[string]any{"jsonrpc": "2.0", "id": 3, "method": "session/prompt", "params": map[string]any{
		"sessionId": sid,
		"prompt":    []map[string]any{{"type": "text", "text": "long job"}},
	}})
	// Let the turn claim its slot before cancelling.
	time.Sleep(50 * time.Millisecond)
	c.send(map[string]any{"jsonrpc": "2.0", "method": "session/cancel", "params": map[string]any{
		"sessionId": sid,
	}})

	for {
		msg := c.next()
		if msg.Method == "" && msg.ID != nil && int(msg.ID.(float64)) == 3 {
			assert.Equal(t, "cancelled", resultMap(t, msg)["stopReason"])
			return
		}
	}
}

type paramTool struct{}

func (paramTool) Name() string        { return "apply_patch" }
func (paramTool) Description() string { return "edits files" }
func (paramTool) Kind() string        { return "edit" }
func (paramTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "patched", nil
}

func TestPermissionRequestRoundTrip(t *testing.T) {
	client := backend.NewScriptedClient(
		&backend.Message{Role: "assistant", ToolCalls: []backend.ToolCall{
			{ToolCallID: "call-1", Name: "apply_patch", Args: map[string]interface{}{"path": "x.go"}},
		}},
		&backend.Message{Role: "assistant", Content: "done"},
	)
	c := startServer(t, client, paramTool{})
	sid := newSession(t, c)

	sawPermission := false
	resp, _ := c.call(3, "session/prompt", map[string]any{
		"sessionId": sid,
		"prompt":    []map[string]any{{"type": "text", "text": "patch it"}},
	}, func(req *jsonrpcMessage) any {
		require.Equal(t, "session/request_permission", req.Method)
		sawPermission = true
		var p struct {
			Options []map[string]any `json:"options"`
		}
		require.NoError(t, json.Unmarshal(req.Params, &p))
		require.Len(t, p.Options, 3)
		return map[string]any{"outcome": map[string]any{"outcome": "selected", "optionId": "approved"}}
	})

	assert.True(t, sawPermission)
	assert.Equal(t, "end_turn", resultMap(t, resp)["stopReason"])
}

func TestSetModeAndNotification(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())
	sid := newSession(t, c)

	resp, notes := c.call(3, "session/set_mode", map[string]any{
		"sessionId": sid, "modeId": "read-only",
	}, nil)
	assert.Nil(t, resp.Error)
	require.NotEmpty(t, notes)
	u := updateOf(t, notes[len(notes)-1])
	assert.Equal(t, "current_mode_update", u["sessionUpdate"])
	assert.Equal(t, "read-only", u["currentModeId"])

	resp, _ = c.call(4, "session/set_mode", map[string]any{
		"sessionId": sid, "modeId": "yolo",
	}, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeInvalidParams, resp.Error.Code)
	data := resp.Error.Data.(map[string]any)
	assert.Equal(t, "invalid_mode", data["kind"])
}

func TestSetModelRejectedForDefaultProvider(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())
	sid := newSession(t, c)

	resp, _ := c.call(3, "session/set_model", map[string]any{
		"sessionId": sid, "modelId": "openrouter@gpt-x",
	}, nil)
	require.NotNil(t, resp.Error)
	data := resp.Error.Data.(map[string]any)
	assert.Equal(t, "unsupported_transition", data["kind"])
}

func TestUnknownMethod(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())
	resp, _ := c.call(1, "session/teleport", map[string]any{}, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestExtMethods(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())
	sid := newSession(t, c)

	resp, _ := c.call(3, "_ext/model", map[string]any{"sessionId": sid}, nil)
	result := resultMap(t, resp)
	assert.Equal(t, "anthropic@claude-sonnet-4-0", result["modelId"])

	resp, _ = c.call(4, "_ext/teleport", map[string]any{"sessionId": sid}, nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, codeMethodNotFound, resp.Error.Code)
}

func TestSessionLoad(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())

	resp, notes := c.call(1, "session/load", map[string]any{
		"sessionId": "sess_restored", "cwd": "/work",
	}, nil)
	result := resultMap(t, resp)
	assert.Equal(t, "auto", result["modes"].(map[string]any)["currentModeId"])
	require.NotEmpty(t, notes)
	assert.Equal(t, "available_commands_update", updateOf(t, notes[0])["sessionUpdate"])

	// Loading the same id again collides.
	resp, _ = c.call(2, "session/load", map[string]any{
		"sessionId": "sess_restored", "cwd": "/work",
	}, nil)
	require.NotNil(t, resp.Error)
	data := resp.Error.Data.(map[string]any)
	assert.Equal(t, "duplicate_session", data["kind"])
}

func TestParseErrorDoesNotKillLoop(t *testing.T) {
	c := startServer(t, backend.NewScriptedClient())

	_, err := c.toServer.Write([]byte("{not json\n"))
	require.NoError(t, err)
	msg := c.next()
	require.NotNil(t, msg.Error)
	assert.Equal(t, codeParseError, msg.Error.Code)

	// The loop is still alive.
	resp, _ := c.call(1, "initialize", map[string]any{"protocolVersion": 1}, nil)
	assert.Nil(t, resp.Error)
}

func TestRenderToolCallTerminalContent(t *testing.T) {
	u := events.Update{Kind: events.UpdateToolCall, ToolCall: &backend.ToolCallEvent{
		CallID:   "call-9",
		Title:    "Run make test",
		Kind:     "execute",
		Status:   backend.ToolInProgress,
		Terminal: true,
	}}

	withTerminal := renderUpdate(u, true)
	content, ok := withTerminal["content"].([]map[string]any)
	require.True(t, ok, "terminal-capable clients get a terminal content block")
	require.Len(t, content, 1)
	assert.Equal(t, "terminal", content[0]["type"])
	assert.Equal(t, "call-9", content[0]["terminalId"])

	withoutTerminal := renderUpdate(u, false)
	assert.NotContains(t, withoutTerminal, "content")

	// Non-terminal calls never embed one, capability or not.
	u.ToolCall.Terminal = false
	assert.NotContains(t, renderUpdate(u, true), "content")
}

type execTool struct{}

func (execTool) Name() string        { return "execute_command" }
func (execTool) Description() string { return "runs commands" }
func (execTool) Kind() string        { return "execute" }
func (execTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "ok", nil
}

func TestExecToolCallOverWire(t *testing.T) {
	client := backend.NewScriptedClient(
		&backend.Message{Role: "assistant", ToolCalls: []backend.ToolCall{
			{ToolCallID: "call-1", Name: "execute_command", Args: map[string]interface{}{"command": "make test"}},
		}},
		&backend.Message{Role: "assistant", Content: "done"},
	)
	c := startServer(t, client, execTool{})

	_, _ = c.call(1, "initialize", map[string]any{
		"protocolVersion":    1,
		"clientCapabilities": map[string]any{"terminal": true},
	}, nil)
	sid := newSession(t, c)

	resp, notes := c.call(3, "session/prompt", map[string]any{
		"sessionId": sid,
		"prompt":    []map[string]any{{"type": "text", "text": "build it"}},
	}, func(req *jsonrpcMessage) any {
		return map[string]any{"outcome": map[string]any{"outcome": "selected", "optionId": "approved"}}
	})
	assert.Equal(t, "end_turn", resultMap(t, resp)["stopReason"])

	var toolCall map[string]any
	for _, n := range notes {
		u := updateOf(t, n)
		if u["sessionUpdate"] == "tool_call" {
			toolCall = u
		}
	}
	require.NotNil(t, toolCall)
	assert.Equal(t, "Run make test", toolCall["title"])
	content := toolCall["content"].([]any)
	require.Len(t, content, 1)
	assert.Equal(t, "terminal", content[0].(map[string]any)["type"])
	assert.Equal(t, "call-1", content[0].(map[string]any)["terminalId"])
}
