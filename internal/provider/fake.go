package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/vinayprograms/agentmux/internal/durable"
)

// Fake is a deterministic, in-process Provider used by tests and by the
// scheduler's own test suite: no subprocess, no network. Its opaque state
// blob is a small JSON document so round-tripping through the session store
// is exercised honestly.
type Fake struct {
	name string
	// Chunks is streamed in full, in order, by every session's Send call.
	// Defaults to []string{"response"} to match scenario #1.
	Chunks []string
	// FailSend, when non-nil, is returned as the terminal error of every
	// Send call instead of completing normally.
	FailSend error

	created int32
}

// NewFake constructs a Fake provider named name.
func NewFake(name string) *Fake {
	return &Fake{name: name, Chunks: []string{"response"}}
}

func (f *Fake) Name() string { return f.name }

type fakeState struct {
	Turns int `json:"turns"`
}

func (f *Fake) Create(ctx context.Context, model, systemPrompt string, log *durable.Log) (Session, error) {
	atomic.AddInt32(&f.created, 1)
	sess := &fakeSession{provider: f}
	return Decorate(sess, log), nil
}

func (f *Fake) Restore(ctx context.Context, state []byte, log *durable.Log) (Session, error) {
	var s fakeState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &s); err != nil {
			return nil, fmt.Errorf("fake: restore: %w", err)
		}
	}
	sess := &fakeSession{provider: f, turns: s.Turns}
	return Decorate(sess, log), nil
}

// CreatedCount reports how many sessions Create has produced, for assertions.
func (f *Fake) CreatedCount() int { return int(atomic.LoadInt32(&f.created)) }

type fakeSession struct {
	provider *Fake
	turns    int
	stopped  bool
}

func (s *fakeSession) Send(ctx context.Context, message string) <-chan Chunk {
	out := make(chan Chunk)
	go func() {
		defer close(out)
		if s.provider.FailSend != nil {
			out <- Chunk{Err: s.provider.FailSend}
			return
		}
		for _, c := range s.provider.Chunks {
			select {
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			case out <- Chunk{Text: c}:
			}
		}
		s.turns++
	}()
	return out
}

func (s *fakeSession) Suspend(ctx context.Context) ([]byte, error) {
	return json.Marshal(fakeState{Turns: s.turns})
}

func (s *fakeSession) Stop(ctx context.Context) error {
	s.stopped = true
	return nil
}
