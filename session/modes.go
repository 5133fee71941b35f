package session

import (
	"strings"

	"pontoon/errors"
)

// Mode is a named approval/sandbox preset.
type Mode string

const (
	ModeReadOnly   Mode = "read-only"
	ModeAuto       Mode = "auto"
	ModeFullAccess Mode = "full-access"
)

// ModePreset pairs a mode id with the approval policy and sandbox restriction
// it stands for. The mapping itself is configuration; these are the built-in
// defaults.
type ModePreset struct {
	ID          Mode
	Label       string
	Description string
	Approval    string // never, on-request, untrusted
	Sandbox     string // read-only, workspace-write, danger-full-access
}

var modePresets = []ModePreset{
	{
		ID:          ModeReadOnly,
		Label:       "Read Only",
		Description: "The agent can read files but asks before any change",
		Approval:    "untrusted",
		Sandbox:     "read-only",
	},
	{
		ID:          ModeAuto,
		Label:       "Auto",
		Description: "The agent edits the workspace and asks for risky commands",
		Approval:    "on-request",
		Sandbox:     "workspace-write",
	},
	{
		ID:          ModeFullAccess,
		Label:       "Full Access",
		Description: "The agent runs without approval prompts",
		Approval:    "never",
		Sandbox:     "danger-full-access",
	},
}

// AvailableModes returns the closed set of mode presets.
func AvailableModes() []ModePreset {
	presets := make([]ModePreset, len(modePresets))
	copy(presets, modePresets)
	return presets
}

// PresetByMode finds the preset for a mode id.
func PresetByMode(id Mode) (ModePreset, bool) {
	for _, preset := range modePresets {
		if preset.ID == id {
			return preset, true
		}
	}
	return ModePreset{}, false
}

// IsReadOnlyMode reports whether the mode id disables all write operations.
func IsReadOnlyMode(id Mode) bool {
	return id == ModeReadOnly
}

// ParseModelID splits a `provider@model` identifier. Both parts must be
// non-empty ASCII and the separator must occur exactly once.
func ParseModelID(id string) (provider, model string, err error) {
	if strings.Count(id, "@") != 1 {
		return "", "", errors.NewKind(errors.KindInvalidModel, "model id %q is not in provider@model form", id)
	}
	provider, model, _ = strings.Cut(id, "@")
	if provider == "" || model == "" {
		return "", "", errors.NewKind(errors.KindInvalidModel, "model id %q has an empty provider or model part", id)
	}
	for _, r := range id {
		if r > 127 {
			return "", "", errors.NewKind(errors.KindInvalidModel, "model id %q contains non-ASCII characters", id)
		}
	}
	return provider, model, nil
}

// FormatModelID builds the wire form of a provider/model pair.
func FormatModelID(provider, model string) string {
	return provider + "@" + model
}
