package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every parrot span.
const tracerName = "github.com/MrWong99/parrot"

// Span names.
const (
	SpanUtterance = "segment.utterance"
	SpanClip      = "playback.clip"
)

// StartSpan starts a span on the global tracer provider. The caller ends it.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartUtterance starts the span covering conditioning and playback of one
// utterance.
func StartUtterance(ctx context.Context, reason string, bits int, seconds float64) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanUtterance, trace.WithAttributes(
		attribute.String("parrot.utterance.reason", reason),
		attribute.Int("parrot.utterance.bits", bits),
		attribute.Float64("parrot.utterance.seconds", seconds),
	))
}

// StartClip starts the span covering one pre-recorded clip from set.
func StartClip(ctx context.Context, set string) (context.Context, trace.Span) {
	return StartSpan(ctx, SpanClip, trace.WithAttributes(attribute.String("parrot.clip.set", set)))
}

// FailSpan records err on span and marks it failed in stage, the same label
// used for the errors counter.
func FailSpan(span trace.Span, stage string, err error) {
	span.RecordError(err)
	span.SetAttributes(attribute.String("parrot.error.stage", stage))
	span.SetStatus(codes.Error, stage)
}

// TraceID returns the trace ID of the span in ctx, or "" when there is none.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// Logger returns the default logger, carrying trace_id and span_id when ctx
// holds a recording span.
func Logger(ctx context.Context) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return slog.Default()
	}
	return slog.Default().With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
