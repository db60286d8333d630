// Package integration drives the orchestrator/scheduler/mux/provider stack
// end to end from declarative YAML scenarios, instead of exercising one
// package at a time.
package integration

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/vinayprograms/agentmux/internal/orchestrator"
	"github.com/vinayprograms/agentmux/internal/provider"
	"github.com/vinayprograms/agentmux/internal/scheduler"
	"github.com/vinayprograms/agentmux/internal/session"
)

// Step is one action in a scenario: create a root agent, spawn a child,
// send or broadcast a message, run a turn, or recover from a fresh
// orchestrator against the same store.
type Step struct {
	Action       string `yaml:"action"`
	Agent        string `yaml:"agent"`         // alias used by later steps (for spawn, defaults to Name)
	Parent       string `yaml:"parent"`        // alias of the parent, for spawn
	Name         string `yaml:"name"`          // child/agent display name
	Instructions string `yaml:"instructions"`
	To           string `yaml:"to"`      // recipient's display name, for send_message/broadcast
	Payload      string `yaml:"payload"` // message text, or the turn's prompt
	Sync         bool   `yaml:"sync"`
}

// Scenario is a named sequence of steps loaded from YAML.
type Scenario struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Load parses a scenario from its YAML source.
func Load(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("integration: parse scenario: %w", err)
	}
	return &s, nil
}

// Harness wires a fresh orchestrator over an in-memory fake provider and
// tracks agent ids by the alias scenario steps refer to them with.
type Harness struct {
	sessionDir string
	logDir     string
	provider   *provider.Fake
	store      *session.Store
	orch       *orchestrator.Orchestrator
	aliases    map[string]string // alias -> agent id
}

// NewHarness constructs a Harness rooted at the given temp directories.
func NewHarness(sessionDir, logDir string) *Harness {
	p := provider.NewFake("fake")
	store := session.NewStore(sessionDir)
	sch := scheduler.New(store, []provider.Provider{p}, 8, logDir)
	orch := orchestrator.New(sch, store, logDir, "fake", "model-x")
	return &Harness{
		sessionDir: sessionDir,
		logDir:     logDir,
		provider:   p,
		store:      store,
		orch:       orch,
		aliases:    make(map[string]string),
	}
}

// Provider exposes the fake provider so a test can script its chunks/failures.
func (h *Harness) Provider() *provider.Fake { return h.provider }

// Orchestrator exposes the live orchestrator for assertions a scenario step
// doesn't cover directly.
func (h *Harness) Orchestrator() *orchestrator.Orchestrator { return h.orch }

// Run executes every step of s against the harness, failing fast on the
// first error.
func (h *Harness) Run(ctx context.Context, s *Scenario) error {
	for i, step := range s.Steps {
		if err := h.runStep(ctx, step); err != nil {
			return fmt.Errorf("integration: step %d (%s): %w", i, step.Action, err)
		}
	}
	return nil
}

func (h *Harness) runStep(ctx context.Context, step Step) error {
	switch step.Action {
	case "create_root":
		node, err := h.orch.CreateRootAgent(ctx, step.Name, step.Instructions, "", "")
		if err != nil {
			return err
		}
		h.aliases[step.Agent] = node.ID
		return nil

	case "spawn":
		parentID, ok := h.aliases[step.Parent]
		if !ok {
			return fmt.Errorf("unknown parent alias %q", step.Parent)
		}
		handler, ok := h.orch.Handler(parentID)
		if !ok {
			return fmt.Errorf("no handler installed for parent %q", step.Parent)
		}
		result := handler.SpawnAgent(step.Name, step.Instructions, "")
		if errMsg, ok := result["error"]; ok {
			return fmt.Errorf("spawn_agent: %v", errMsg)
		}
		alias := step.Agent
		if alias == "" {
			alias = step.Name
		}
		h.aliases[alias] = result["agent_id"].(string)
		return nil

	case "send_message":
		senderID, ok := h.aliases[step.Agent]
		if !ok {
			return fmt.Errorf("unknown sender alias %q", step.Agent)
		}
		handler, ok := h.orch.Handler(senderID)
		if !ok {
			return fmt.Errorf("no handler installed for sender %q", step.Agent)
		}
		result := handler.SendMessage(step.To, step.Payload, step.Sync)
		if errMsg, ok := result["error"]; ok {
			return fmt.Errorf("send_message: %v", errMsg)
		}
		return nil

	case "broadcast":
		senderID, ok := h.aliases[step.Agent]
		if !ok {
			return fmt.Errorf("unknown sender alias %q", step.Agent)
		}
		handler, ok := h.orch.Handler(senderID)
		if !ok {
			return fmt.Errorf("no handler installed for sender %q", step.Agent)
		}
		result := handler.Broadcast(step.Payload)
		if errMsg, ok := result["error"]; ok {
			return fmt.Errorf("broadcast: %v", errMsg)
		}
		return nil

	case "run_turn":
		agentID, ok := h.aliases[step.Agent]
		if !ok {
			return fmt.Errorf("unknown agent alias %q", step.Agent)
		}
		_, err := h.orch.RunTurn(ctx, agentID, step.Payload)
		return err

	case "recover":
		sch := scheduler.New(h.store, []provider.Provider{h.provider}, 8, h.logDir)
		h.orch = orchestrator.New(sch, h.store, h.logDir, "fake", "model-x")
		// Agent ids are assigned at tree-insert time and never change across
		// a recover(), so existing aliases keep resolving unchanged.
		return h.orch.Recover(ctx)

	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
}

// AgentID returns the current agent id for an alias.
func (h *Harness) AgentID(alias string) (string, bool) {
	id, ok := h.aliases[alias]
	return id, ok
}
