// Package config loads the daemon-level configuration: default provider and
// model, storage roots, the mux slot budget, and telemetry settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config is the top-level agentmux configuration, loaded from agentmux.toml.
type Config struct {
	Agent     AgentConfig     `toml:"agent"`
	LLM       LLMConfig       `toml:"llm"`
	Storage   StorageConfig   `toml:"storage"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Bus       BusConfig       `toml:"bus"`
}

// AgentConfig holds the default root agent's identity and workspace.
type AgentConfig struct {
	Name      string `toml:"name"`
	Workspace string `toml:"workspace"`
}

// LLMConfig selects the default provider/model new sessions get when a
// caller doesn't specify one.
type LLMConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	MaxRetries int    `toml:"max_retries"`
}

// StorageConfig configures where session records and event logs live, and
// how many concurrent provider sessions the mux may hold.
type StorageConfig struct {
	Path     string `toml:"path"`      // base directory for session records
	LogPath  string `toml:"log_path"`  // base directory for per-session event logs
	MaxSlots int    `toml:"max_slots"` // mux capacity
}

// TelemetryConfig controls the optional OpenTelemetry exporter.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
	Protocol string `toml:"protocol"` // otlp, file, noop
}

// BusConfig controls the optional NATS mirror transport.
type BusConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// New returns a Config with conservative defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   "anthropic",
			Model:      "claude-sonnet-4-5",
			MaxRetries: 5,
		},
		Storage: StorageConfig{
			Path:     "~/.local/agentmux/sessions",
			LogPath:  "~/.local/agentmux/logs",
			MaxSlots: 8,
		},
		Telemetry: TelemetryConfig{Protocol: "noop"},
		Bus:       BusConfig{Enabled: false, URL: "nats://127.0.0.1:4222"},
	}
}

// LoadFile loads configuration from a TOML file, layering it over New's
// defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault loads agentmux.toml from the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: getwd: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "agentmux.toml"))
}

// ExpandPath resolves a leading "~" against the user's home directory.
func ExpandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
