// Package provider defines the contract for external conversation backends:
// opaque, resumable provider sessions that stream text chunks.
package provider

import (
	"context"

	"github.com/vinayprograms/agentmux/internal/durable"
)

// Chunk is one piece of a streamed response. A non-nil Err marks the final
// item the channel will ever deliver; the provider session is expected to
// close its channel immediately after.
type Chunk struct {
	Text string
	Err  error
}

// Session is a single conversation with an external provider process: opaque
// and resumable. Send is single-use per call — callers must not call Send
// again while a previous call's channel is still being drained.
type Session interface {
	Send(ctx context.Context, message string) <-chan Chunk
	Suspend(ctx context.Context) ([]byte, error)
	Stop(ctx context.Context) error
}

// Provider creates and restores Sessions. log is optional: when non-nil,
// lifecycle calls are expected to be recorded on it by whichever decorator
// wraps the concrete Session (see LoggingDecorator).
type Provider interface {
	Name() string
	Create(ctx context.Context, model, systemPrompt string, log *durable.Log) (Session, error)
	Restore(ctx context.Context, state []byte, log *durable.Log) (Session, error)
}
