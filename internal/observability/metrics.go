// ABOUTME: OpenTelemetry counters for channel fan-out, delivery, and duplicate suppression
// ABOUTME: Recorder interface with an OTel implementation backed by the global meter provider

package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder records channel metrics.
// Use NewRecorder() for OTel metrics or NoopMetrics{} when disabled.
type Recorder interface {
	// RecordSend records one outbound envelope handed to n transports.
	RecordSend(ctx context.Context, transports int)

	// RecordTransportError records a transport Send failure.
	RecordTransportError(ctx context.Context, transport string)

	// RecordDelivered records a payload emitted to subscribers.
	RecordDelivered(ctx context.Context)

	// RecordDuplicate records an inbound envelope dropped as a repeat.
	RecordDuplicate(ctx context.Context)

	// RecordEvicted records ids removed by an expiry sweep.
	RecordEvicted(ctx context.Context, n int)
}

// otelMetrics implements Recorder using OpenTelemetry.
type otelMetrics struct {
	sent       metric.Int64Counter
	fanout     metric.Int64Histogram
	sendErrors metric.Int64Counter
	delivered  metric.Int64Counter
	duplicates metric.Int64Counter
	evicted    metric.Int64Counter
}

// newOtelMetrics creates the instruments on the current global meter provider.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("redub")

	sent, err := meter.Int64Counter("redub.envelopes.sent",
		metric.WithDescription("Number of envelopes sent by the channel"),
	)
	if err != nil {
		return nil, err
	}

	fanout, err := meter.Int64Histogram("redub.envelopes.fanout",
		metric.WithDescription("Number of ready transports per send"),
	)
	if err != nil {
		return nil, err
	}

	sendErrors, err := meter.Int64Counter("redub.transport.errors",
		metric.WithDescription("Number of transport send failures"),
	)
	if err != nil {
		return nil, err
	}

	delivered, err := meter.Int64Counter("redub.messages.delivered",
		metric.WithDescription("Number of deduplicated messages emitted to subscribers"),
	)
	if err != nil {
		return nil, err
	}

	duplicates, err := meter.Int64Counter("redub.messages.duplicate",
		metric.WithDescription("Number of inbound envelopes suppressed as duplicates"),
	)
	if err != nil {
		return nil, err
	}

	evicted, err := meter.Int64Counter("redub.dedupe.evicted",
		metric.WithDescription("Number of ids expired by the sweep"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		sent:       sent,
		fanout:     fanout,
		sendErrors: sendErrors,
		delivered:  delivered,
		duplicates: duplicates,
		evicted:    evicted,
	}, nil
}

// NewRecorder returns a Recorder that uses OpenTelemetry.
// If instrument creation fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewRecorder() Recorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordSend(ctx context.Context, transports int) {
	m.sent.Add(ctx, 1)
	m.fanout.Record(ctx, int64(transports))
}

func (m *otelMetrics) RecordTransportError(ctx context.Context, transport string) {
	m.sendErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("transport", transport)))
}

func (m *otelMetrics) RecordDelivered(ctx context.Context) {
	m.delivered.Add(ctx, 1)
}

func (m *otelMetrics) RecordDuplicate(ctx context.Context) {
	m.duplicates.Add(ctx, 1)
}

func (m *otelMetrics) RecordEvicted(ctx context.Context, n int) {
	if n <= 0 {
		return
	}
	m.evicted.Add(ctx, int64(n))
}
