package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/reagent-go/reagent/pkg/reagent"
)

// Default tracer name for reagent engines.
const defaultTracerName = "reagent"

// TracingConfig configures the OpenTelemetry hooks.
type TracingConfig struct {
	// TracerName is the name of the tracer (default: "reagent").
	TracerName string

	// Attributes are added to every flush span.
	Attributes []attribute.KeyValue
}

// TracingOption configures the OpenTelemetry hooks.
type TracingOption func(*TracingConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) TracingOption {
	return func(c *TracingConfig) { c.TracerName = name }
}

// WithAttributes adds constant attributes to every flush span.
func WithAttributes(attrs ...attribute.KeyValue) TracingOption {
	return func(c *TracingConfig) { c.Attributes = attrs }
}

// Tracing is a reagent.Hooks implementation that opens an
// OpenTelemetry span per flush cycle ("reagent.flush") with the number
// of executed jobs and the flush duration as attributes. Recovered job
// panics set the span status to error.
//
// The tracer comes from the global tracer provider; configure that in
// main() before creating the engine. At most one flush runs per engine
// at a time, so a single active span is kept; do not share one Tracing
// value between engines.
type Tracing struct {
	tracer trace.Tracer
	attrs  []attribute.KeyValue

	mu     sync.Mutex
	span   trace.Span
	failed int
}

var _ reagent.Hooks = (*Tracing)(nil)

// NewTracing creates OpenTelemetry hooks. Combine with Prometheus
// hooks via Combine:
//
//	engine := reagent.New(reagent.WithHooks(
//	    metrics.Combine(metrics.New(), metrics.NewTracing()),
//	))
func NewTracing(opts ...TracingOption) *Tracing {
	config := TracingConfig{TracerName: defaultTracerName}
	for _, opt := range opts {
		opt(&config)
	}
	return &Tracing{
		tracer: otel.Tracer(config.TracerName),
		attrs:  config.Attributes,
	}
}

// FlushStarted implements reagent.Hooks.
func (t *Tracing) FlushStarted() {
	_, span := t.tracer.Start(context.Background(), "reagent.flush",
		trace.WithAttributes(t.attrs...))

	t.mu.Lock()
	t.span = span
	t.failed = 0
	t.mu.Unlock()
}

// FlushFinished implements reagent.Hooks.
func (t *Tracing) FlushFinished(d time.Duration, executed int) {
	t.mu.Lock()
	span := t.span
	failed := t.failed
	t.span = nil
	t.mu.Unlock()

	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.Int("reagent.jobs_executed", executed),
		attribute.Int("reagent.jobs_failed", failed),
		attribute.Int64("reagent.duration_us", d.Microseconds()),
	)
	if failed > 0 {
		span.SetStatus(codes.Error, "one or more jobs panicked")
	}
	span.End()
}

// JobFailed implements reagent.Hooks.
func (t *Tracing) JobFailed(lane reagent.Lane) {
	t.mu.Lock()
	t.failed++
	if t.span != nil {
		t.span.AddEvent("job panic", trace.WithAttributes(
			attribute.String("reagent.lane", lane.String()),
		))
	}
	t.mu.Unlock()
}

// JobExecuted implements reagent.Hooks.
func (t *Tracing) JobExecuted(reagent.Lane) {}

// JobQueued implements reagent.Hooks.
func (t *Tracing) JobQueued(reagent.Lane, int) {}

// CellWrapped implements reagent.Hooks.
func (t *Tracing) CellWrapped() {}

// NotifyDelivered implements reagent.Hooks.
func (t *Tracing) NotifyDelivered(bool) {}

// SubscriptionOpened implements reagent.Hooks.
func (t *Tracing) SubscriptionOpened() {}

// SubscriptionClosed implements reagent.Hooks.
func (t *Tracing) SubscriptionClosed() {}
