package core

import "context"

// Telemetry is the minimal span/metric contract plumbed through the tick
// loop (Runtime.Tick), ported from the teacher's core.Telemetry. The action
// queue does not use it.
// Kept deliberately thin: this runtime's Non-goals (spec.md §1) exclude a
// full observability layer, but ambient tracing/metrics is still carried per
// SPEC_FULL.md §A.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents one traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards everything; the default until otel wiring is
// configured by the host process.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noopSpan struct{}

func (noopSpan) End()                               {}
func (noopSpan) SetAttribute(string, interface{})   {}
func (noopSpan) RecordError(error)                  {}
