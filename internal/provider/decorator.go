package provider

import (
	"context"

	"github.com/vinayprograms/agentmux/internal/durable"
)

// LoggingDecorator wraps a Session, instrumenting send/suspend/stop with the
// fixed-shape events named in spec §6: send, send.result (or send.error on
// failure, carrying the partial text under the field name "text" per the
// Open Question resolved in SPEC_FULL §10(a)), suspend.result, stop.result.
type LoggingDecorator struct {
	inner Session
	log   *durable.Log
}

// Decorate wraps inner with logging if log is non-nil; otherwise it returns
// inner unchanged.
func Decorate(inner Session, log *durable.Log) Session {
	if log == nil {
		return inner
	}
	return &LoggingDecorator{inner: inner, log: log}
}

func (d *LoggingDecorator) Send(ctx context.Context, message string) <-chan Chunk {
	d.log.Log("send", map[string]any{"message": message})

	raw := d.inner.Send(ctx, message)
	out := make(chan Chunk)
	go func() {
		defer close(out)
		var partial string
		for c := range raw {
			if c.Text != "" {
				partial += c.Text
			}
			out <- c
			if c.Err != nil {
				d.log.Log("send.error", map[string]any{"text": partial, "error": c.Err.Error()})
				return
			}
		}
		d.log.Log("send.result", map[string]any{"text": partial})
	}()
	return out
}

func (d *LoggingDecorator) Suspend(ctx context.Context) ([]byte, error) {
	state, err := d.inner.Suspend(ctx)
	if err != nil {
		d.log.Log("suspend.result", map[string]any{"error": err.Error()})
		return nil, err
	}
	d.log.Log("suspend.result", map[string]any{"state_size": len(state)})
	return state, nil
}

func (d *LoggingDecorator) Stop(ctx context.Context) error {
	err := d.inner.Stop(ctx)
	if err != nil {
		d.log.Log("stop.result", map[string]any{"error": err.Error()})
		return err
	}
	d.log.Log("stop.result", map[string]any{"ok": true})
	return nil
}
