// ABOUTME: No-op metrics recorder used when metrics are disabled
// ABOUTME: Satisfies Recorder without touching any OTel provider

package observability

import "context"

// NoopMetrics is a Recorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ Recorder = NoopMetrics{}

func (NoopMetrics) RecordSend(_ context.Context, _ int)              {}
func (NoopMetrics) RecordTransportError(_ context.Context, _ string) {}
func (NoopMetrics) RecordDelivered(_ context.Context)                {}
func (NoopMetrics) RecordDuplicate(_ context.Context)                {}
func (NoopMetrics) RecordEvicted(_ context.Context, _ int)           {}
