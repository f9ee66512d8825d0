// Package tracing threads a trace ID and span lineage through a turn's
// context so the agent loop and its tools can record spans against a
// shared collector without passing an extra parameter everywhere.
package tracing

import (
	"context"

	"github.com/google/uuid"
)

// Span is one recorded unit of work: a turn, a tool call, or a subagent run.
type Span struct {
	TraceID   uuid.UUID
	SpanID    uuid.UUID
	ParentID  uuid.UUID
	Name      string
	StartedAt int64
	EndedAt   int64
	Attrs     map[string]interface{}
}

// Sink persists finished spans. OTelSink (otel.go) is the implementation
// in this package, exporting to an OTLP collector; nil is a valid no-op.
type Sink interface {
	RecordSpan(ctx context.Context, s Span) error
}

// Collector forwards each recorded span to an optional Sink, one call per
// span.
type Collector struct {
	sink Sink
}

// NewCollector wraps a Sink. A nil sink makes Record a no-op, so callers
// can construct a Collector unconditionally even when tracing storage
// isn't configured.
func NewCollector(sink Sink) *Collector {
	return &Collector{sink: sink}
}

func (c *Collector) Record(ctx context.Context, s Span) error {
	if c == nil || c.sink == nil {
		return nil
	}
	return c.sink.RecordSpan(ctx, s)
}

type ctxKey string

const (
	keyTraceID            ctxKey = "tracing_trace_id"
	keyCollector          ctxKey = "tracing_collector"
	keyParentSpanID       ctxKey = "tracing_parent_span_id"
	keyAnnounceParentSpan ctxKey = "tracing_announce_parent_span_id"
	keyDelegateParentTrace ctxKey = "tracing_delegate_parent_trace_id"
)

func WithTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyTraceID, id)
}

func TraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(keyTraceID).(uuid.UUID)
	return id
}

func WithCollector(ctx context.Context, c *Collector) context.Context {
	return context.WithValue(ctx, keyCollector, c)
}

func CollectorFromContext(ctx context.Context) *Collector {
	c, _ := ctx.Value(keyCollector).(*Collector)
	return c
}

func WithParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyParentSpanID, id)
}

func ParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(keyParentSpanID).(uuid.UUID)
	return id
}

// WithAnnounceParentSpanID marks the span a subagent's async-completion
// announcement should attach under, set once at spawn time so the
// announcement lands under the spawning turn even after it has ended.
func WithAnnounceParentSpanID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyAnnounceParentSpan, id)
}

func AnnounceParentSpanIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(keyAnnounceParentSpan).(uuid.UUID)
	return id
}

// WithDelegateParentTraceID carries the originating trace ID across a
// hand-off to another agent, so the receiving turn's spans can still be
// linked back to the trace that triggered them.
func WithDelegateParentTraceID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, keyDelegateParentTrace, id)
}

func DelegateParentTraceIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(keyDelegateParentTrace).(uuid.UUID)
	return id
}
