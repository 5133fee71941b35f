package tools

import (
	"context"
	"os"
	"os/exec"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"pontoon/errors"
)

// MCPConn manages the connection to a single MCP server and exposes its
// tools. The bridge's filesystem relay is reached this way over a loopback
// streamable HTTP endpoint; additional servers from configuration are
// spawned as subprocesses.
type MCPConn struct {
	name    string
	cmd     *exec.Cmd
	session string
	conn    *mcp.ClientSession
	tools   []*MCPTool
}

// ConnectRelay connects to the filesystem relay at url. Every tool call is
// stamped with the relay session token so the relay can correlate it back to
// the owning session's capabilities and mode.
func ConnectRelay(ctx context.Context, url, relaySession string) (*MCPConn, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "pontoon-backend", Version: "0.1.0"}, nil)
	conn, err := client.Connect(ctx, mcp.NewStreamableClientTransport(url, nil))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to filesystem relay at %s", url)
	}
	c := &MCPConn{name: "pontoon_fs", session: relaySession, conn: conn}
	if err := c.discoverTools(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// ConnectCommand starts an MCP server subprocess and connects to it.
func ConnectCommand(ctx context.Context, name, command string, args []string) (*MCPConn, error) {
	cmd := exec.Command(command, args...)
	cmd.Stderr = os.Stderr
	client := mcp.NewClient(&mcp.Implementation{Name: "pontoon-backend", Version: "0.1.0"}, nil)
	conn, err := client.Connect(ctx, mcp.NewCommandTransport(cmd))
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, errors.Wrapf(err, "failed to connect to MCP server '%s'", name)
	}
	c := &MCPConn{name: name, cmd: cmd, conn: conn}
	if err := c.discoverTools(ctx); err != nil {
		conn.Close()
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		return nil, err
	}
	return c, nil
}

func (c *MCPConn) discoverTools(ctx context.Context) error {
	params := &mcp.ListToolsParams{}
	for {
		list, err := c.conn.ListTools(ctx, params)
		if err != nil {
			return errors.Wrapf(err, "failed to list tools from MCP server '%s'", c.name)
		}
		for _, t := range list.Tools {
			c.tools = append(c.tools, &MCPTool{
				conn:        c,
				toolName:    t.Name,
				description: t.Description,
			})
		}
		if list.NextCursor == "" {
			return nil
		}
		params.Cursor = list.NextCursor
	}
}

// Tools returns the tools discovered on this server.
func (c *MCPConn) Tools() []Tool {
	out := make([]Tool, len(c.tools))
	for i, t := range c.tools {
		out[i] = t
	}
	return out
}

// Close shuts down the connection and, for subprocess servers, the process.
func (c *MCPConn) Close() error {
	if c.conn != nil {
		c.conn.Close()
	}
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Kill()
	}
	return nil
}

// MCPTool adapts one remote MCP tool to the Tool interface.
type MCPTool struct {
	conn        *MCPConn
	toolName    string
	description string
}

func (t *MCPTool) Name() string        { return t.toolName }
func (t *MCPTool) Description() string { return t.description }

func (t *MCPTool) Kind() string {
	switch t.toolName {
	case "read_text_file":
		return "read"
	case "write_text_file", "edit_text_file", "multi_edit_text_file":
		return "edit"
	}
	return "fetch"
}

// Execute forwards the call over the MCP connection, injecting the relay
// session token when one is bound.
func (t *MCPTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	callArgs := make(map[string]interface{}, len(args)+1)
	for k, v := range args {
		callArgs[k] = v
	}
	if t.conn.session != "" {
		callArgs["session"] = t.conn.session
	}

	result, err := t.conn.conn.CallTool(ctx, &mcp.CallToolParams{
		Name:      t.toolName,
		Arguments: callArgs,
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to call tool '%s'", t.toolName)
	}

	var out string
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			out += text.Text
		}
	}
	if result.IsError {
		return "", errors.New("tool '%s' failed: %s", t.toolName, out)
	}
	return out, nil
}
