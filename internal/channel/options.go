// ABOUTME: Functional options for constructing a Channel
// ABOUTME: Covers id generation, dedup window, clock, logging, and metrics

package channel

import (
	"log/slog"
	"time"

	"github.com/2389/redub/internal/envelope"
	"github.com/2389/redub/internal/observability"
)

// DefaultTimeout is the dedup window and sweep period used when none is given.
const DefaultTimeout = 10 * time.Second

// Option configures a Channel.
type Option func(*options)

type options struct {
	idGen      envelope.IDGenerator
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	metrics    observability.Recorder
	maxEntries int
	subBuffer  int
}

func defaultOptions() options {
	return options{
		idGen:   envelope.UUIDGenerator,
		timeout: DefaultTimeout,
		now:     time.Now,
		metrics: observability.NoopMetrics{},
	}
}

// WithIDGenerator replaces the uuid generator. A generator that repeats ids
// makes the channel drop distinct messages as duplicates.
func WithIDGenerator(gen envelope.IDGenerator) Option {
	return func(o *options) {
		if gen != nil {
			o.idGen = gen
		}
	}
}

// WithTimeout sets the initial dedup window; <= 0 starts with sweeping off.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock overrides the time source used to stamp and expire ids.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger. Pass nil for slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.Recorder) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithMaxEntries caps the dedup cache; the oldest id is evicted on overflow.
// Zero (the default) means unbounded.
func WithMaxEntries(n int) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithSubscriberBuffer sets the buffer size of channels returned by Subscribe.
func WithSubscriberBuffer(n int) Option {
	return func(o *options) { o.subBuffer = n }
}
