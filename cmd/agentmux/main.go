// Package main is the entry point for the agentmux CLI.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/vinayprograms/agentmux/internal/credentials"
)

var (
	version = "dev"
	commit  = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in GetAPIKey).
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}
	_ = godotenv.Load()
}

// CLI defines the command-line interface.
type CLI struct {
	Run     RunCmd     `cmd:"" help:"Start an agent and run turns against it"`
	Inspect InspectCmd `cmd:"" help:"Show the agent tree and session states"`
	Replay  ReplayCmd  `cmd:"" help:"Replay a session's event log"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd prints build information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("agentmux %s (%s)\n", version, commit)
	return nil
}

func main() {
	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("agentmux"),
		kong.Description("A multiplexing-and-durability engine for trees of long-lived conversational agents."),
		kong.UsageOnError(),
	)
	ctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := ctx.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "agentmux:", err)
		os.Exit(1)
	}
}
