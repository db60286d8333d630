// Package telemetry provides helpers that start OpenTelemetry spans for
// run_turn, send_turn, and mux acquire/evict. The orchestrator, scheduler
// and mux do not call them. A no-op tracer is the default, matching the
// teacher's Telemetry.Protocol = "noop" default, so tests never need a
// collector.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/vinayprograms/agentmux"

// Tracer wraps an otel tracer with the span names agentmux's hot paths use.
type Tracer struct {
	tr trace.Tracer
}

// NewNoop returns a Tracer backed by the no-op implementation — spans cost
// nothing and no exporter is required.
func NewNoop() *Tracer {
	return &Tracer{tr: noop.NewTracerProvider().Tracer(tracerName)}
}

// FromGlobal returns a Tracer using whatever TracerProvider is registered
// globally (otel.SetTracerProvider), for when a real exporter is wired at
// startup.
func FromGlobal() *Tracer {
	return &Tracer{tr: otel.GetTracerProvider().Tracer(tracerName)}
}

// RunTurn starts a span around one Orchestrator.RunTurn call.
func (t *Tracer) RunTurn(ctx context.Context, agentID string) (context.Context, trace.Span) {
	return t.tr.Start(ctx, "run_turn", trace.WithAttributes(attribute.String("agent.id", agentID)))
}

// SendTurn starts a span around one Scheduler.SendTurn call.
func (t *Tracer) SendTurn(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.tr.Start(ctx, "send_turn", trace.WithAttributes(attribute.String("session.id", sessionID)))
}

// MuxAcquire starts a span around a mux slot acquisition.
func (t *Tracer) MuxAcquire(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.tr.Start(ctx, "mux.acquire", trace.WithAttributes(attribute.String("session.id", sessionID)))
}

// MuxEvict starts a span around a mux eviction.
func (t *Tracer) MuxEvict(ctx context.Context, sessionID string) (context.Context, trace.Span) {
	return t.tr.Start(ctx, "mux.evict", trace.WithAttributes(attribute.String("session.id", sessionID)))
}
