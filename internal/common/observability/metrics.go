package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/trace"
)

// Observability bundles the OTel meter and tracer used around turns and
// template executions. The zero value is usable and records nothing.
type Observability struct {
	meterProvider *metric.MeterProvider
	tracer        trace.Tracer
	turnCounter   otelmetric.Int64Counter
	turnDuration  otelmetric.Float64Histogram
	execDuration  otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	o := &Observability{tracer: otel.Tracer(serviceName)}

	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return o
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(serviceName)

	o.meterProvider = provider
	o.turnCounter, _ = meter.Int64Counter(
		"assistant.turns",
		otelmetric.WithDescription("Conversation turns processed"),
	)
	o.turnDuration, _ = meter.Float64Histogram(
		"assistant.turn.duration",
		otelmetric.WithDescription("Turn processing duration"),
		otelmetric.WithUnit("ms"),
	)
	o.execDuration, _ = meter.Float64Histogram(
		"assistant.execution.duration",
		otelmetric.WithDescription("Template execution duration"),
		otelmetric.WithUnit("ms"),
	)
	return o
}

// StartSpan starts a span named name. It returns a no-op span when o is nil
// or was built without a tracer.
func (o *Observability) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o == nil || o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Observability) RecordTurn(ctx context.Context, duration time.Duration, state, outcome string) {
	if o == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("state", state),
		attribute.String("outcome", outcome),
	)
	if o.turnCounter != nil {
		o.turnCounter.Add(ctx, 1, attrs)
	}
	if o.turnDuration != nil {
		o.turnDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	}
}

func (o *Observability) RecordExecution(ctx context.Context, duration time.Duration, templateID, status string) {
	if o == nil || o.execDuration == nil {
		return
	}
	o.execDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
		attribute.String("template_id", templateID),
		attribute.String("status", status),
	))
}

func (o *Observability) Shutdown() {
	if o == nil || o.meterProvider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.meterProvider.Shutdown(ctx)
}
