package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink exports spans to an OTLP collector. The runtime's own trace
// and span IDs are attached as attributes rather than forced onto the
// OTel IDs, which the SDK generates itself.
type OTelSink struct {
	tracer trace.Tracer
	tp     *sdktrace.TracerProvider
}

// NewOTelSink connects an OTLP exporter at endpoint (host:port).
// transport selects "grpc" (default) or "http".
func NewOTelSink(ctx context.Context, endpoint, transport string) (*OTelSink, error) {
	var exp sdktrace.SpanExporter
	var err error
	switch transport {
	case "http":
		exp, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(endpoint),
			otlptracehttp.WithInsecure(),
		)
	default:
		exp, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res := sdkresource.NewSchemaless(attribute.String("service.name", "pinchy"))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &OTelSink{tracer: tp.Tracer("pinchy"), tp: tp}, nil
}

// RecordSpan converts one finished Span into an OTel span with the
// original start/end timestamps.
func (s *OTelSink) RecordSpan(ctx context.Context, span Span) error {
	_, sp := s.tracer.Start(ctx, span.Name,
		trace.WithTimestamp(time.Unix(span.StartedAt, 0)))
	sp.SetAttributes(
		attribute.String("pinchy.trace_id", span.TraceID.String()),
		attribute.String("pinchy.span_id", span.SpanID.String()),
	)
	if span.ParentID != uuid.Nil {
		sp.SetAttributes(attribute.String("pinchy.parent_span_id", span.ParentID.String()))
	}
	for k, v := range span.Attrs {
		sp.SetAttributes(attribute.String(k, fmt.Sprint(v)))
	}
	sp.End(trace.WithTimestamp(time.Unix(span.EndedAt, 0)))
	return nil
}

// Shutdown flushes batched spans and stops the exporter.
func (s *OTelSink) Shutdown(ctx context.Context) error {
	return s.tp.Shutdown(ctx)
}

var _ Sink = (*OTelSink)(nil)
