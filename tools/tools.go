package tools

import (
	"context"
	"regexp"
	"strings"

	"pontoon/errors"
)

// Tool defines the interface for any action a backend conversation can take.
type Tool interface {
	Name() string
	Description() string
	// Kind labels the tool for client rendering: read, edit, search,
	// execute, fetch or other.
	Kind() string
	Execute(ctx context.Context, args map[string]interface{}) (string, error)
}

// Mutating reports whether a tool kind changes workspace or system state and
// therefore may need an approval prompt.
func Mutating(kind string) bool {
	switch kind {
	case "edit", "execute", "delete", "move":
		return true
	}
	return false
}

// Registry holds the tools offered to a conversation.
type Registry struct {
	tools []Tool
	index map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{index: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	if _, ok := r.index[t.Name()]; ok {
		return
	}
	r.index[t.Name()] = t
	r.tools = append(r.tools, t)
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.index[name]
	return t, ok
}

// All returns the tools in registration order.
func (r *Registry) All() []Tool {
	out := make([]Tool, len(r.tools))
	copy(out, r.tools)
	return out
}

// isCommandAllowed checks if a command is in the allowlist (with regex support).
func isCommandAllowed(command string, allowed []string) (bool, error) {
	if len(strings.Fields(command)) == 0 {
		return false, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			// Fall back to exact comparison when the pattern is not a valid
			// regular expression.
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}

// ArgString extracts a required string argument.
func ArgString(args map[string]interface{}, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok {
		return "", errors.New("missing or invalid '%s' argument", key)
	}
	return v, nil
}
