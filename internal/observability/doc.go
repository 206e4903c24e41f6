// Package observability wires OpenTelemetry metrics and tracing into the
// channel. Both use the global providers, so applications configure exporters
// once with otel.SetMeterProvider / otel.SetTracerProvider.
package observability
