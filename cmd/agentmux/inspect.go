package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentmux/internal/config"
	"github.com/vinayprograms/agentmux/internal/orchestrator"
	"github.com/vinayprograms/agentmux/internal/scheduler"
	"github.com/vinayprograms/agentmux/internal/session"
	"github.com/vinayprograms/agentmux/internal/tree"
)

// InspectCmd recovers the on-disk agent tree and prints it, indented by
// depth, with each node's agent state and session id.
type InspectCmd struct {
	Config string `help:"Path to agentmux.toml" default:""`
}

func (c *InspectCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	providers := buildProviders(cfg)

	store := session.NewStore(config.ExpandPath(cfg.Storage.Path))
	sched := scheduler.New(store, providers, cfg.Storage.MaxSlots, config.ExpandPath(cfg.Storage.LogPath))
	orch := orchestrator.New(sched, store, config.ExpandPath(cfg.Storage.LogPath), cfg.LLM.Provider, cfg.LLM.Model)

	if err := orch.Recover(context.Background()); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	t := orch.Tree()
	for _, root := range t.Roots() {
		printSubtree(t, root, 0)
	}
	return nil
}

func printSubtree(t *tree.Tree, node *tree.AgentNode, depth int) {
	fmt.Printf("%s%s (%s) [%s] session=%s\n", strings.Repeat("  ", depth), node.Name, node.ID, node.State, node.SessionID)
	children, err := t.Children(node.ID)
	if err != nil {
		return
	}
	for _, child := range children {
		printSubtree(t, child, depth+1)
	}
}
