// ABOUTME: In-process transport with configurable delivery delay and readiness flag
// ABOUTME: Loops envelopes back to itself, or to every member of a shared Bus

package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/redub/internal/envelope"
	"github.com/2389/redub/internal/transport"
)

// Bus connects memory transports so that an envelope sent on one is delivered
// to all of them, the sender included.
type Bus struct {
	mu      sync.RWMutex
	members []*Transport
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) join(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.members = append(b.members, t)
}

func (b *Bus) leave(t *Transport) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, m := range b.members {
		if m == t {
			b.members = append(b.members[:i:i], b.members[i+1:]...)
			return
		}
	}
}

func (b *Bus) snapshot() []*Transport {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Transport, len(b.members))
	copy(out, b.members)
	return out
}

// Option configures a Transport.
type Option func(*Transport)

// WithDelay delays every delivery of envelopes sent on this transport.
func WithDelay(d time.Duration) Option {
	return func(t *Transport) { t.delay = d }
}

// WithBus attaches the transport to bus instead of looping back to itself.
func WithBus(bus *Bus) Option {
	return func(t *Transport) { t.bus = bus }
}

// Transport is an in-process transport. Deliveries happen asynchronously
// after the configured delay.
type Transport struct {
	name     string
	delay    time.Duration
	bus      *Bus
	ready    atomic.Bool
	handlers transport.Handlers

	mu      sync.Mutex
	sent    []envelope.Envelope
	closed  bool
	pending sync.WaitGroup
}

// New creates a ready memory transport.
func New(name string, opts ...Option) *Transport {
	t := &Transport{name: name}
	for _, opt := range opts {
		opt(t)
	}
	t.ready.Store(true)
	if t.bus != nil {
		t.bus.join(t)
	}
	return t
}

// String implements fmt.Stringer.
func (t *Transport) String() string {
	return "memory:" + t.name
}

// Ready reports whether the transport accepts sends.
func (t *Transport) Ready() bool {
	return t.ready.Load()
}

// SetReady flips the readiness flag.
func (t *Transport) SetReady(ready bool) {
	t.ready.Store(ready)
}

// Send records env and schedules its delivery to the bus (or to itself).
func (t *Transport) Send(_ context.Context, env envelope.Envelope) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return transport.ErrClosed
	}
	t.sent = append(t.sent, env)
	t.mu.Unlock()

	targets := []*Transport{t}
	if t.bus != nil {
		targets = t.bus.snapshot()
	}
	for _, target := range targets {
		target.deliverAfter(t.delay, env)
	}
	return nil
}

// Emit delivers env to this transport's subscribers after its delay, as if a
// remote peer had sent it.
func (t *Transport) Emit(env envelope.Envelope) {
	t.deliverAfter(t.delay, env)
}

func (t *Transport) deliverAfter(delay time.Duration, env envelope.Envelope) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.pending.Add(1)
	t.mu.Unlock()

	time.AfterFunc(delay, func() {
		defer t.pending.Done()
		t.handlers.Dispatch(env)
	})
}

// Subscribe registers h for inbound envelopes.
func (t *Transport) Subscribe(h envelope.Handler) func() {
	return t.handlers.Subscribe(h)
}

// Subscribers returns the number of registered handlers.
func (t *Transport) Subscribers() int {
	return t.handlers.Len()
}

// Sent returns a copy of every envelope passed to Send.
func (t *Transport) Sent() []envelope.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]envelope.Envelope, len(t.sent))
	copy(out, t.sent)
	return out
}

// Wait blocks until every scheduled delivery has run.
func (t *Transport) Wait() {
	t.pending.Wait()
}

// Close stops accepting sends, leaves the bus, and waits for scheduled
// deliveries to finish. It is safe to call multiple times.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.ready.Store(false)
	if t.bus != nil {
		t.bus.leave(t)
	}
	t.pending.Wait()
	return nil
}
