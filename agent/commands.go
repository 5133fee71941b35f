package agent

import (
	"fmt"
	"strings"

	"pontoon/backend"
	"pontoon/events"
	"pontoon/session"
)

// AvailableCommands lists the built-in slash commands advertised to the
// client when a session starts.
func AvailableCommands() []events.CommandInfo {
	return []events.CommandInfo{
		{Name: "status", Description: "Show the session's mode, model and token usage"},
		{Name: "help", Description: "List available commands"},
	}
}

// slashCommand extracts a leading slash command from the prompt. Only a
// single text block whose trimmed content starts with '/' is treated as a
// command.
func slashCommand(items []backend.InputItem) (string, bool) {
	if len(items) != 1 || items[0].Type != "text" {
		return "", false
	}
	text := strings.TrimSpace(items[0].Text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	return strings.TrimPrefix(text, "/"), true
}

// runCommand renders the response for one slash command. Unknown commands
// get a pointer to /help rather than an error; the turn still ends normally.
func (c *Coordinator) runCommand(st session.State, cmd string) string {
	name := ""
	if fields := strings.Fields(cmd); len(fields) > 0 {
		name = fields[0]
	}
	switch name {
	case "status":
		var sb strings.Builder
		fmt.Fprintf(&sb, "Mode: %s\n", st.Mode)
		fmt.Fprintf(&sb, "Model: %s\n", st.ModelID())
		fmt.Fprintf(&sb, "Tokens: %d in / %d out (%d total)\n",
			st.Usage.InputTokens, st.Usage.OutputTokens, st.Usage.Total())
		return sb.String()
	case "help":
		var sb strings.Builder
		sb.WriteString("Available commands:\n")
		for _, ci := range AvailableCommands() {
			fmt.Fprintf(&sb, "/%s - %s\n", ci.Name, ci.Description)
		}
		return sb.String()
	default:
		return fmt.Sprintf("Unknown command '/%s'. Try /help.\n", name)
	}
}
