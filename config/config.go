package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pontoon/errors"
)

// DefaultProvider is the single built-in provider. Every other provider id
// configured under `providers` is treated as a custom provider.
const DefaultProvider = "anthropic"

// Provider describes a model provider the backend can talk to.
type Provider struct {
	Name      string `yaml:"name"`
	Kind      string `yaml:"kind"` // anthropic, openai, gemini, bedrock
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// Profile names a provider/model pair that can be offered to the client as a
// switchable model.
type Profile struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// FilesystemAccess restricts what the relay's local-disk fallback may touch.
// Patterns are doublestar globs evaluated against the requested path.
type FilesystemAccess struct {
	Hidden   []string `yaml:"hidden"`
	ReadOnly []string `yaml:"read_only"`
}

// MCPServer is an additional MCP server made available to backend
// conversations alongside the built-in filesystem relay.
type MCPServer struct {
	Name    string   `yaml:"name"`
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

type Config struct {
	Provider             string              `yaml:"provider"`
	Model                string              `yaml:"model"`
	SystemPrompt         string              `yaml:"system_prompt"`
	DefaultMode          string              `yaml:"default_mode"`
	RelayListenAddr      string              `yaml:"relay_listen_addr"`
	Providers            map[string]Provider `yaml:"providers"`
	Profiles             map[string]Profile  `yaml:"profiles"`
	AllowedCommands      []string            `yaml:"allowed_commands"`
	FilesystemAccess     FilesystemAccess    `yaml:"filesystem_access"`
	AdditionalMCPServers []MCPServer         `yaml:"additional_mcp_servers"`
}

// Load loads configuration from the user's home directory and the current
// working directory, with the latter taking precedence.
func Load() (*Config, error) {
	cfg := &Config{}

	home, err := os.UserHomeDir()
	if err == nil {
		userConfigPath := filepath.Join(home, ".pontoon", "config.yaml")
		if _, err := os.Stat(userConfigPath); err == nil {
			if err := loadFromFile(userConfigPath, cfg); err != nil {
				return nil, errors.Wrapf(err, "error loading user config")
			}
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, errors.Wrapf(err, "could not get working directory")
	}
	projectConfigPath := filepath.Join(wd, ".pontoon", "config.yaml")
	if _, err := os.Stat(projectConfigPath); err == nil {
		if err := loadFromFile(projectConfigPath, cfg); err != nil {
			return nil, errors.Wrapf(err, "error loading project config")
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	// Note: Unmarshal will overwrite fields present in the YAML. This provides
	// a simple merge where project-level config replaces user-level.
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults() {
	// Pontoon's own state directory is never served to the backend. Appended
	// after the config files load so a user-supplied hidden list cannot
	// replace it.
	c.FilesystemAccess.Hidden = append(c.FilesystemAccess.Hidden, ".pontoon", ".pontoon/**")

	if c.Provider == "" {
		c.Provider = DefaultProvider
	}
	if c.DefaultMode == "" {
		c.DefaultMode = "auto"
	}
	if c.RelayListenAddr == "" {
		c.RelayListenAddr = "127.0.0.1:0"
	}
}

// IsCustomProvider reports whether the provider id names anything other than
// the built-in default provider.
func IsCustomProvider(providerID string) bool {
	return providerID != DefaultProvider
}

// ProviderByID looks up a provider definition. The default provider is always
// resolvable even when not spelled out in the config file.
func (c *Config) ProviderByID(id string) (Provider, bool) {
	if p, ok := c.Providers[id]; ok {
		return p, true
	}
	if id == DefaultProvider {
		return Provider{Name: "Anthropic", Kind: "anthropic", APIKeyEnv: "ANTHROPIC_API_KEY"}, true
	}
	return Provider{}, false
}
