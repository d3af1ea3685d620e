// Package tracing wires a process-wide OpenTelemetry tracer for the spans
// the pool engine and on-demand creator emit around their orchestrator
// round trips.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// tracerName is shared by every span this service creates.
const tracerName = "sandboxpool/orchestrator"

// Init installs a global tracer provider for serviceName and returns a
// shutdown func the caller must invoke during graceful shutdown. No exporter
// is installed, so spans are recorded and then discarded; exporter settings
// such as OTEL_EXPORTER_OTLP_ENDPOINT are not read.
func Init(serviceName string) func(context.Context) error {
	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", serviceName),
	)
	tp := trace.NewTracerProvider(trace.WithResource(res))
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns the package-wide tracer.
func Tracer() oteltrace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name as a child of ctx.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	opts := []oteltrace.SpanStartOption{}
	if len(attrs) > 0 {
		opts = append(opts, oteltrace.WithAttributes(attrs...))
	}
	return Tracer().Start(ctx, name, opts...)
}
