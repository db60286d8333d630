package main

import (
	"fmt"

	"github.com/vinayprograms/agentmux/internal/config"
	"github.com/vinayprograms/agentmux/internal/replay"
)

// ReplayCmd renders one session's event log as a forensic timeline.
type ReplayCmd struct {
	Config    string `help:"Path to agentmux.toml" default:""`
	SessionID string `arg:"" help:"Session id to replay"`
	Follow    bool   `short:"i" help:"Open the interactive pager instead of printing"`
}

func (c *ReplayCmd) Run() error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		return err
	}

	sessionDir := config.ExpandPath(cfg.Storage.LogPath) + "/" + c.SessionID
	r := replay.New(sessionDir)

	if c.Follow {
		return r.RunInteractive()
	}

	out, err := r.Render()
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}
