// Package observability wires OpenTelemetry tracing around command
// execution. Tracing is off unless Init installs a provider; TraceCommand
// is then a cheap no-op through the global tracer.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the OpenTelemetry tracer name.
const TracerName = "shellpane"

// Init installs a global tracer provider exporting to stdout. The returned
// shutdown flushes pending spans.
func Init(ctx context.Context) (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// TraceCommand starts a span for one execute call.
func TraceCommand(ctx context.Context, sessionID, command string, isInput bool) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)

	name := "exec.command"
	if sessionID == "" {
		name = "exec.subprocess"
	} else if isInput {
		name = "exec.input"
	}

	attrs := []attribute.KeyValue{
		attribute.String("command", command),
		attribute.Bool("is_input", isInput),
	}
	if sessionID != "" {
		attrs = append(attrs, attribute.String("session.id", sessionID))
	}
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// EndCommand records the outcome on the span and ends it.
func EndCommand(span trace.Span, status string, returnCode int, errMsg string) {
	span.SetAttributes(
		attribute.String("command.status", status),
		attribute.Int("command.return_code", returnCode),
	)
	if errMsg != "" {
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
