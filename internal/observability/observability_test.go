// ABOUTME: Tests for the OTel recorder and send spans
// ABOUTME: Uses the SDK manual reader and in-memory span exporter

package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// setupMetricsTest installs a manual-reader meter provider for the test.
func setupMetricsTest(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	originalProvider := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)

	t.Cleanup(func() {
		otel.SetMeterProvider(originalProvider)
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down meter provider: %v", err)
		}
	})
	return reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) *metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return &rm
}

// counterValue sums all data points of the named int64 counter.
func counterValue(rm *metricdata.ResourceMetrics, name string) (int64, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				return 0, false
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total, true
		}
	}
	return 0, false
}

func TestNewRecorder_NotNoop(t *testing.T) {
	setupMetricsTest(t)

	recorder := NewRecorder()
	require.NotNil(t, recorder)

	_, isNoop := recorder.(NoopMetrics)
	assert.False(t, isNoop, "Expected real metrics recorder, got noop")
}

func TestRecorder_Counters(t *testing.T) {
	reader := setupMetricsTest(t)
	ctx := context.Background()

	m, err := newOtelMetrics()
	require.NoError(t, err)

	m.RecordSend(ctx, 3)
	m.RecordSend(ctx, 2)
	m.RecordTransportError(ctx, "redis")
	m.RecordDelivered(ctx)
	m.RecordDuplicate(ctx)
	m.RecordDuplicate(ctx)
	m.RecordEvicted(ctx, 4)
	m.RecordEvicted(ctx, 0)

	rm := collectMetrics(t, reader)

	tests := []struct {
		name string
		want int64
	}{
		{"redub.envelopes.sent", 2},
		{"redub.transport.errors", 1},
		{"redub.messages.delivered", 1},
		{"redub.messages.duplicate", 2},
		{"redub.dedupe.evicted", 4},
	}
	for _, tt := range tests {
		got, ok := counterValue(rm, tt.name)
		require.True(t, ok, "metric %s not found", tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestNoopMetrics(t *testing.T) {
	var r Recorder = NoopMetrics{}
	ctx := context.Background()

	// Should not panic
	r.RecordSend(ctx, 1)
	r.RecordTransportError(ctx, "x")
	r.RecordDelivered(ctx)
	r.RecordDuplicate(ctx)
	r.RecordEvicted(ctx, 1)
}

func TestStartSendSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(originalProvider)
		_ = tp.Shutdown(context.Background())
	})

	_, span := StartSendSpan(context.Background(), "id-1", 3)
	EndSpanWithError(span, nil)

	_, span = StartSendSpan(context.Background(), "id-2", 0)
	EndSpanWithError(span, errors.New("boom"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "redub.send", spans[0].Name)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)

	attrs := make(map[string]any)
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	assert.Equal(t, "id-1", attrs["envelope.id"])
	assert.Equal(t, int64(3), attrs["transports"])
}

func TestEndSpanWithError_Nil(t *testing.T) {
	// Should not panic
	EndSpanWithError(nil, errors.New("ignored"))
}
