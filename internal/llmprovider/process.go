// Package llmprovider supplies concrete provider.Provider backends: three
// hosted-API adapters (Anthropic, OpenAI, Google) and a local-process
// provider that drives an external CLI as a subprocess.
package llmprovider

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/vinayprograms/agentmux/internal/durable"
	"github.com/vinayprograms/agentmux/internal/provider"
)

// ProcessProvider drives an external CLI as a long-lived conversation
// backend, one subprocess per turn, resumed by id. Binary defaults to
// "cursor-agent" — the pack's reference CLI — but any CLI accepting
// "create-chat" and "--resume <id>" works.
type ProcessProvider struct {
	name    string
	Binary  string // defaults to "cursor-agent"
	Lookup  func(binary string) (string, error)
	Workspace string
}

// NewProcessProvider constructs a ProcessProvider for the named CLI binary.
func NewProcessProvider(name, binary, workspace string) *ProcessProvider {
	if binary == "" {
		binary = "cursor-agent"
	}
	if workspace == "" {
		workspace = "/tmp"
	}
	return &ProcessProvider{name: name, Binary: binary, Lookup: exec.LookPath, Workspace: workspace}
}

func (p *ProcessProvider) Name() string { return p.name }

func (p *ProcessProvider) resolve() (string, error) {
	lookup := p.Lookup
	if lookup == nil {
		lookup = exec.LookPath
	}
	path, err := lookup(p.Binary)
	if err != nil {
		return "", fmt.Errorf("llmprovider: %s not found in PATH: %w", p.Binary, err)
	}
	return path, nil
}

// Create starts a fresh chat session (via "create-chat") and, if a system
// prompt is given, sends it as the session's first turn before returning.
func (p *ProcessProvider) Create(ctx context.Context, model, systemPrompt string, log *durable.Log) (provider.Session, error) {
	bin, err := p.resolve()
	if err != nil {
		return nil, err
	}

	sessionID, err := createChat(ctx, bin)
	if err != nil {
		return nil, err
	}

	sess := &processSession{bin: bin, sessionID: sessionID, model: model, workspace: p.Workspace}
	wrapped := provider.Decorate(sess, log)

	if systemPrompt != "" {
		for chunk := range wrapped.Send(ctx, systemPrompt) {
			if chunk.Err != nil {
				return nil, fmt.Errorf("llmprovider: system prompt turn: %w", chunk.Err)
			}
		}
	}
	return wrapped, nil
}

// Restore reconstructs a process session from a suspended state blob of
// {session_id, model, workspace}.
func (p *ProcessProvider) Restore(ctx context.Context, state []byte, log *durable.Log) (provider.Session, error) {
	bin, err := p.resolve()
	if err != nil {
		return nil, err
	}

	var s processState
	if err := json.Unmarshal(state, &s); err != nil {
		return nil, fmt.Errorf("llmprovider: restore: %w", err)
	}

	sess := &processSession{bin: bin, sessionID: s.SessionID, model: s.Model, workspace: s.Workspace}
	return provider.Decorate(sess, log), nil
}

func createChat(ctx context.Context, bin string) (string, error) {
	cmd := exec.CommandContext(ctx, bin, "create-chat")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("llmprovider: create-chat: %w", err)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		return "", fmt.Errorf("llmprovider: create-chat returned an empty session id")
	}
	return id, nil
}

type processState struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Workspace string `json:"workspace"`
}

// processSession is one resumable conversation. Every Send spawns a new
// subprocess with --resume <session_id>, exactly as the CLI it wraps
// expects; there is no persistent child process between turns.
type processSession struct {
	bin       string
	sessionID string
	model     string
	workspace string
}

// streamEvent mirrors the CLI's stream-json event shape: an assistant
// message carries its text in message.content[].text; a result event
// carries an error flag.
type streamEvent struct {
	Type      string `json:"type"`
	TimestampMs *int64 `json:"timestamp_ms,omitempty"`
	Message   struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
	IsError bool   `json:"is_error"`
	Result  string `json:"result"`
}

func (s *processSession) Send(ctx context.Context, message string) <-chan provider.Chunk {
	out := make(chan provider.Chunk)
	go func() {
		defer close(out)

		cmd := exec.CommandContext(ctx, s.bin,
			"--print",
			"--output-format", "stream-json",
			"--trust",
			"--model", s.model,
			"--workspace", s.workspace,
			"--resume", s.sessionID,
			message,
		)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: stdout pipe: %w", err)}
			return
		}
		if err := cmd.Start(); err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: start %s: %w", s.bin, err)}
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var ev streamEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue // non-JSON or partial line; skip, matching the CLI's own tolerance
			}
			if ev.Type == "assistant" && ev.TimestampMs == nil {
				for _, block := range ev.Message.Content {
					if block.Type == "text" && block.Text != "" {
						select {
						case <-ctx.Done():
							out <- provider.Chunk{Err: ctx.Err()}
							cmd.Wait()
							return
						case out <- provider.Chunk{Text: block.Text}:
						}
					}
				}
			}
			if ev.Type == "result" && ev.IsError {
				out <- provider.Chunk{Err: fmt.Errorf("llmprovider: %s", ev.Result)}
				cmd.Wait()
				return
			}
		}
		if err := cmd.Wait(); err != nil {
			out <- provider.Chunk{Err: fmt.Errorf("llmprovider: %s exited: %w", s.bin, err)}
		}
	}()
	return out
}

func (s *processSession) Suspend(ctx context.Context) ([]byte, error) {
	return json.Marshal(processState{SessionID: s.sessionID, Model: s.model, Workspace: s.workspace})
}

func (s *processSession) Stop(ctx context.Context) error {
	// Subprocesses are per-send; nothing persistent to tear down.
	return nil
}
