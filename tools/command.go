package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"pontoon/errors"
)

// ExecCommandTool runs OS commands from an allowlist on behalf of the
// conversation. Its output is rendered by the client as terminal content
// when the client supports terminals.
type ExecCommandTool struct {
	allowedCommands []string
}

func NewExecCommandTool(allowed []string) *ExecCommandTool {
	return &ExecCommandTool{allowedCommands: allowed}
}

func (t *ExecCommandTool) Name() string { return "execute_command" }
func (t *ExecCommandTool) Kind() string { return "execute" }

func (t *ExecCommandTool) Description() string {
	if len(t.allowedCommands) == 0 {
		return "Executes a shell command. No commands are currently allowed. Args: command (string)."
	}

	allowedList := "Allowed command patterns:\n"
	for _, cmd := range t.allowedCommands {
		allowedList += fmt.Sprintf("- %s\n", cmd)
	}
	return fmt.Sprintf("Executes a shell command. Args: command (string).\n%s", allowedList)
}

func (t *ExecCommandTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	command, err := ArgString(args, "command")
	if err != nil {
		return "", err
	}

	allowed, err := isCommandAllowed(command, t.allowedCommands)
	if err != nil {
		return "", err
	}
	if !allowed {
		return "", errors.NewKind(errors.KindPermissionDenied, "command '%s' is not in the list of allowed commands", command)
	}

	parts := strings.Fields(command)
	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", errors.Wrapf(err, "command execution failed. Output:\n%s", string(output))
	}
	return string(output), nil
}
