// Package telemetry provides an OpenTelemetry-backed takopi.Tracer and
// takopi.Metrics, grounded on observer/tracer.go's Tracer/Span wrapping and
// observer/observer.go's Init (resource + provider + exporter setup), pared
// down from LLM-call instrumentation to runner-invocation spans and
// session-store counters. Log export is dropped: takopi already has its own
// structured-logging path (logging.go), and running both would duplicate
// the same records through two pipelines.
package telemetry

import (
	"context"
	"fmt"

	"github.com/hotaru-dev/takopi"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/hotaru-dev/takopi"

// Init configures global trace and metric providers with OTLP HTTP
// exporters (standard OTEL_EXPORTER_OTLP_* env vars). Returns a Tracer, a
// Metrics, and a shutdown func that must run on process exit. Callers that
// don't want OTEL at all should just use takopi.NopTracer/takopi.NopMetrics
// instead of calling Init.
func Init(ctx context.Context) (takopi.Tracer, takopi.Metrics, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("takopi")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(scopeName))
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		if tErr := tp.Shutdown(ctx); tErr != nil {
			return tErr
		}
		return mp.Shutdown(ctx)
	}

	return NewTracer(), m, shutdown, nil
}

// otelTracer implements takopi.Tracer using the global OTEL TracerProvider.
type otelTracer struct {
	inner trace.Tracer
}

// NewTracer returns a takopi.Tracer backed by the global OTEL
// TracerProvider. Call Init first; otherwise spans go to a no-op backend.
func NewTracer() takopi.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...takopi.SpanAttr) (context.Context, takopi.Span) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		otelAttrs[i] = toOTELAttr(a)
	}
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(otelAttrs...))
	return ctx, &otelSpan{inner: span}
}

// otelSpan implements takopi.Span using an OTEL trace.Span.
type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...takopi.SpanAttr) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		otelAttrs[i] = toOTELAttr(a)
	}
	s.inner.SetAttributes(otelAttrs...)
}

func (s *otelSpan) Event(name string, attrs ...takopi.SpanAttr) {
	otelAttrs := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		otelAttrs[i] = toOTELAttr(a)
	}
	s.inner.AddEvent(name, trace.WithAttributes(otelAttrs...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.inner.End()
}

func toOTELAttr(a takopi.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}

// otelMetrics implements takopi.Metrics with two counters, one per engine
// via the "engine" attribute rather than per-engine instruments.
type otelMetrics struct {
	sessionsCreated metric.Int64Counter
	sessionsPruned  metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*otelMetrics, error) {
	created, err := meter.Int64Counter("takopi.sessions.created",
		metric.WithDescription("Session history entries created"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}
	pruned, err := meter.Int64Counter("takopi.sessions.pruned",
		metric.WithDescription("Session history entries evicted by pruning"),
		metric.WithUnit("{session}"))
	if err != nil {
		return nil, err
	}
	return &otelMetrics{sessionsCreated: created, sessionsPruned: pruned}, nil
}

func (m *otelMetrics) SessionCreated(engine takopi.EngineId) {
	m.sessionsCreated.Add(context.Background(), 1, metric.WithAttributes(attribute.String("engine", string(engine))))
}

func (m *otelMetrics) SessionPruned(engine takopi.EngineId) {
	m.sessionsPruned.Add(context.Background(), 1, metric.WithAttributes(attribute.String("engine", string(engine))))
}

var (
	_ takopi.Tracer  = (*otelTracer)(nil)
	_ takopi.Span    = (*otelSpan)(nil)
	_ takopi.Metrics = (*otelMetrics)(nil)
)
