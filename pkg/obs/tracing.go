package obs

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/ormind-ai/ormind/core"
)

// Tracer implements core.Telemetry over an OpenTelemetry SDK
// TracerProvider. No OTLP exporter is wired: spans stay in-process,
// visible to anything attached to the global provider (a sampler, a
// test, a collector added later) without this deployment carrying an
// exporter dependency it doesn't yet need.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a Tracer for serviceName and installs it as the
// global OTel TracerProvider.
func NewTracer(serviceName string) *Tracer {
	provider := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(provider)
	return &Tracer{provider: provider, tracer: provider.Tracer(serviceName)}
}

// StartSpan satisfies core.Telemetry.
func (t *Tracer) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, otelSpan{span}
}

// RecordMetric satisfies core.Telemetry. Metrics are carried by
// Registry (Prometheus) instead; tracing and metrics deliberately use
// separate backends here rather than OTel's combined pipeline, since
// only Prometheus is scraped by anything in this deployment.
func (t *Tracer) RecordMetric(string, float64, map[string]string) {}

// Shutdown flushes and stops the underlying TracerProvider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End() { s.span.End() }

func (s otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(attribute.String(key, fmt.Sprint(value)))
}

func (s otelSpan) RecordError(err error) { s.span.RecordError(err) }
