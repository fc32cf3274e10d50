package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of all event runtime metrics.
const MeterName = "watchtower.events"

// MetricsRecorder records event runtime metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordPublish records an append with its duration and error status.
	RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error)

	// RecordDelivered records a message read from a stream.
	RecordDelivered(ctx context.Context, stream string)

	// RecordHandler records one handler invocation.
	RecordHandler(ctx context.Context, eventType, handler string, duration time.Duration, err error)

	// RecordAck records acknowledged messages.
	RecordAck(ctx context.Context, stream string, count int64)

	// RecordDeadLetter records a message routed to the dead-letter store.
	RecordDeadLetter(ctx context.Context, reason string)

	// RecordBrokerError records a failed broker command.
	RecordBrokerError(ctx context.Context, op string)

	// RecordClaim records entries claimed from other consumers.
	RecordClaim(ctx context.Context, stream string, count int)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	published      metric.Int64Counter
	publishErrors  metric.Int64Counter
	publishLatency metric.Float64Histogram
	delivered      metric.Int64Counter
	handlerCalls   metric.Int64Counter
	handlerErrors  metric.Int64Counter
	handlerLatency metric.Float64Histogram
	acked          metric.Int64Counter
	deadLettered   metric.Int64Counter
	brokerErrors   metric.Int64Counter
	claimed        metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter(MeterName)
	m := &otelMetrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.published, "watchtower.events.published", "Number of events appended"},
		{&m.publishErrors, "watchtower.events.publish_errors", "Number of failed appends"},
		{&m.delivered, "watchtower.events.delivered", "Number of messages read by consumers"},
		{&m.handlerCalls, "watchtower.events.handler.calls", "Number of handler invocations"},
		{&m.handlerErrors, "watchtower.events.handler.errors", "Number of failed handler invocations"},
		{&m.acked, "watchtower.events.acked", "Number of acknowledged messages"},
		{&m.deadLettered, "watchtower.events.dead_lettered", "Number of dead-lettered messages"},
		{&m.brokerErrors, "watchtower.events.broker_errors", "Number of failed broker commands"},
		{&m.claimed, "watchtower.events.claimed", "Number of pending entries claimed"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}

	var err error
	m.publishLatency, err = meter.Float64Histogram("watchtower.events.publish.latency_ms",
		metric.WithDescription("Append latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	m.handlerLatency, err = meter.Float64Histogram("watchtower.events.handler.latency_ms",
		metric.WithDescription("Handler latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordPublish records an append.
func (m *otelMetrics) RecordPublish(ctx context.Context, eventType string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("event_type", eventType))

	m.publishLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.publishErrors.Add(ctx, 1, attrs)
		return
	}
	m.published.Add(ctx, 1, attrs)
}

// RecordDelivered records a delivered message.
func (m *otelMetrics) RecordDelivered(ctx context.Context, stream string) {
	m.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("stream", stream)))
}

// RecordHandler records a handler invocation.
func (m *otelMetrics) RecordHandler(ctx context.Context, eventType, handler string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", eventType),
		attribute.String("handler", handler),
	)

	m.handlerCalls.Add(ctx, 1, attrs)
	m.handlerLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.handlerErrors.Add(ctx, 1, attrs)
	}
}

// RecordAck records acknowledged messages.
func (m *otelMetrics) RecordAck(ctx context.Context, stream string, count int64) {
	m.acked.Add(ctx, count, metric.WithAttributes(attribute.String("stream", stream)))
}

// RecordDeadLetter records a dead-lettered message.
func (m *otelMetrics) RecordDeadLetter(ctx context.Context, reason string) {
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBrokerError records a broker failure.
func (m *otelMetrics) RecordBrokerError(ctx context.Context, op string) {
	m.brokerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}

// RecordClaim records claimed entries.
func (m *otelMetrics) RecordClaim(ctx context.Context, stream string, count int) {
	m.claimed.Add(ctx, int64(count), metric.WithAttributes(attribute.String("stream", stream)))
}
