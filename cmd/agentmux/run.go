package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vinayprograms/agentmux/internal/bus"
	"github.com/vinayprograms/agentmux/internal/config"
	"github.com/vinayprograms/agentmux/internal/inbox"
	"github.com/vinayprograms/agentmux/internal/llmprovider"
	"github.com/vinayprograms/agentmux/internal/orchestrator"
	"github.com/vinayprograms/agentmux/internal/provider"
	"github.com/vinayprograms/agentmux/internal/scheduler"
	"github.com/vinayprograms/agentmux/internal/session"
)

const busTimeFormat = time.RFC3339Nano

// RunCmd starts a root agent and drives it from stdin, one prompt per line,
// until EOF.
type RunCmd struct {
	Config      string `help:"Path to agentmux.toml" default:""`
	Name        string `help:"Root agent name" default:"root"`
	Instruction string `help:"System prompt for the root agent" default:""`
	Provider    string `help:"Override the configured default provider"`
	Model       string `help:"Override the configured default model"`
}

func (c *RunCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}
	if c.Provider != "" {
		cfg.LLM.Provider = c.Provider
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}

	providers := buildProviders(cfg)

	store := session.NewStore(config.ExpandPath(cfg.Storage.Path))
	sched := scheduler.New(store, providers, cfg.Storage.MaxSlots, config.ExpandPath(cfg.Storage.LogPath))
	orch := orchestrator.New(sched, store, config.ExpandPath(cfg.Storage.LogPath), cfg.LLM.Provider, cfg.LLM.Model)

	if cfg.Bus.Enabled {
		bridge, err := bus.Connect(cfg.Bus.URL)
		if err != nil {
			return fmt.Errorf("connect bus: %w", err)
		}
		defer bridge.Close()
		orch.SetMirror(func(env inbox.Envelope) {
			_ = bridge.Publish(bus.Envelope{
				ID:        env.ID,
				Sender:    env.Sender,
				Recipient: env.Recipient,
				Kind:      string(env.Kind),
				Payload:   env.Payload,
				Timestamp: env.Timestamp.Format(busTimeFormat),
			})
		})
	}

	ctx := context.Background()
	root, err := orch.CreateRootAgent(ctx, c.Name, c.Instruction, cfg.LLM.Provider, cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("create root agent: %w", err)
	}
	fmt.Printf("agent %s ready (session provider=%s model=%s)\n", root.ID, cfg.LLM.Provider, cfg.LLM.Model)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		prompt := scanner.Text()
		if prompt == "" {
			continue
		}
		reply, err := orch.RunTurn(ctx, root.ID, prompt)
		if err != nil {
			fmt.Fprintln(os.Stderr, "turn error:", err)
			continue
		}
		fmt.Println(reply)
	}
	return scanner.Err()
}

func buildProviders(cfg *config.Config) []provider.Provider {
	var out []provider.Provider

	if key := globalCreds.GetAPIKey("anthropic"); key != "" {
		out = append(out, llmprovider.NewAnthropicProvider(key))
	}
	if key := globalCreds.GetAPIKey("openai"); key != "" {
		out = append(out, llmprovider.NewOpenAIProvider(key))
	}
	if key := globalCreds.GetAPIKey("google"); key != "" {
		out = append(out, llmprovider.NewGoogleProvider(key))
	}
	// Always available as a fallback: spawns a local CLI subprocess, no
	// API key required.
	out = append(out, llmprovider.NewProcessProvider("process", "cursor-agent", cfg.Agent.Workspace))
	return out
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	cfg, err := config.LoadDefault()
	if err != nil {
		return config.New(), nil
	}
	return cfg, nil
}
