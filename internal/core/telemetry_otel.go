package core

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OtelTelemetry adapts the global OpenTelemetry tracer/meter providers to
// the runtime's Telemetry interface. The host process wires a real exporter
// (OTLP, stdout, ...) via otel.SetTracerProvider/SetMeterProvider before
// constructing one of these; this type never configures exporters itself.
type OtelTelemetry struct {
	tracer   trace.Tracer
	meter    metric.Meter
	counters map[string]metric.Float64Counter
}

// NewOtelTelemetry builds a Telemetry backed by the process-wide OpenTelemetry
// providers, scoped under the given instrumentation name (e.g.
// "factorio-agent-runtime").
func NewOtelTelemetry(instrumentationName string) *OtelTelemetry {
	return &OtelTelemetry{
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
		counters: make(map[string]metric.Float64Counter),
	}
}

func (t *OtelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (t *OtelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	counter, ok := t.counters[name]
	if !ok {
		var err error
		counter, err = t.meter.Float64Counter(name)
		if err != nil {
			return
		}
		t.counters[name] = counter
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}
