package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()
	if cfg.LLM.Provider != "anthropic" {
		t.Fatalf("expected default provider anthropic, got %q", cfg.LLM.Provider)
	}
	if cfg.Storage.MaxSlots != 8 {
		t.Fatalf("expected default max_slots 8, got %d", cfg.Storage.MaxSlots)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentmux.toml")
	body := "[llm]\nprovider = \"openai\"\nmodel = \"gpt-5\"\n\n[storage]\nmax_slots = 2\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-5" {
		t.Fatalf("expected overridden llm config, got %+v", cfg.LLM)
	}
	if cfg.Storage.MaxSlots != 2 {
		t.Fatalf("expected overridden max_slots, got %d", cfg.Storage.MaxSlots)
	}
	if cfg.Telemetry.Protocol != "noop" {
		t.Fatalf("expected untouched default telemetry protocol, got %q", cfg.Telemetry.Protocol)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	got := ExpandPath("~/agentmux")
	want := filepath.Join(home, "agentmux")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
