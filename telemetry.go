package takopi

import "context"

// Metrics counts Store mutations, per spec.md §4.16's "counter of sessions
// created/pruned". A nil Metrics is never passed around; NopMetrics is used
// wherever no backend is configured.
type Metrics interface {
	// SessionCreated is called once per new history entry SetSessionResume writes.
	SessionCreated(engine EngineId)
	// SessionPruned is called once per history entry pruneLocked evicts.
	SessionPruned(engine EngineId)
}

// NopMetrics discards every call. The default for every component until a
// caller supplies a configured Metrics.
var NopMetrics Metrics = nopMetrics{}

type nopMetrics struct{}

func (nopMetrics) SessionCreated(EngineId) {}
func (nopMetrics) SessionPruned(EngineId)  {}

// NopTracer starts spans that discard every call. The default for Runner
// until a caller supplies a configured Tracer (e.g. via
// internal/telemetry.NewTracer backed by an OTEL TracerProvider).
var NopTracer Tracer = nopTracer{}

type nopTracer struct{}

func (nopTracer) Start(ctx context.Context, name string, attrs ...SpanAttr) (context.Context, Span) {
	return ctx, nopSpan{}
}

type nopSpan struct{}

func (nopSpan) SetAttr(attrs ...SpanAttr)            {}
func (nopSpan) Event(name string, attrs ...SpanAttr) {}
func (nopSpan) Error(err error)                      {}
func (nopSpan) End()                                 {}
