// ABOUTME: Channel aggregates transports: broadcasts outbound envelopes and collapses redundant inbound ones
// ABOUTME: Owns transport membership, id generation, the dedup cache, and its periodic expiry sweep

package channel

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/redub/internal/dedupe"
	"github.com/2389/redub/internal/envelope"
	"github.com/2389/redub/internal/observability"
)

// member is a registered transport and the func that detaches our handler.
type member struct {
	transport   Transport
	unsubscribe func()
}

// Channel is a single logical channel over a set of transports.
// All methods are safe for concurrent use.
type Channel struct {
	mu      sync.Mutex
	members []member
	timeout time.Duration
	sweep   *sweeper
	ended   atomic.Bool

	cache   *dedupe.Cache
	newID   envelope.IDGenerator
	now     func() time.Time
	hub     *hub
	logger  *slog.Logger
	metrics observability.Recorder
}

// New creates a channel over the given transports (nil or empty for none)
// and starts the expiry sweep at the configured timeout.
func New(transports []Transport, opts ...Option) *Channel {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "channel")

	c := &Channel{
		cache:   dedupe.New(o.maxEntries),
		newID:   o.idGen,
		now:     o.now,
		hub:     newHub(o.subBuffer, logger),
		logger:  logger,
		metrics: o.metrics,
	}
	c.SetTimeout(o.timeout)
	c.Add(transports)
	return c
}

// Add registers each transport not already present and subscribes the
// inbound handler to it. Present and nil transports are skipped.
func (c *Channel) Add(transports []Transport) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(transports)
	return c
}

func (c *Channel) addLocked(transports []Transport) {
	for _, t := range transports {
		if t == nil {
			continue
		}
		if !reflect.TypeOf(t).Comparable() {
			c.logger.Warn("transport skipped: type is not comparable", "transport", transportName(t))
			continue
		}
		if c.indexLocked(t) >= 0 {
			continue
		}
		c.ended.Store(false)
		unsub := t.Subscribe(c.handleEnvelope)
		c.members = append(c.members, member{transport: t, unsubscribe: unsub})
		c.logger.Debug("transport added", "transport", transportName(t), "total", len(c.members))
	}
}

// Remove unsubscribes from and drops each listed transport that is present.
func (c *Channel) Remove(transports []Transport) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range transports {
		if t == nil {
			continue
		}
		i := c.indexLocked(t)
		if i < 0 {
			continue
		}
		c.members[i].unsubscribe()
		c.members = append(c.members[:i:i], c.members[i+1:]...)
		c.logger.Debug("transport removed", "transport", transportName(t), "total", len(c.members))
	}
	return c
}

// Reset detaches every current transport and then adds the replacement set,
// as one step with respect to other channel operations.
func (c *Channel) Reset(transports []Transport) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, m := range c.members {
		m.unsubscribe()
	}
	c.members = nil
	c.addLocked(transports)
	return c
}

func (c *Channel) indexLocked(t Transport) int {
	for i, m := range c.members {
		if m.transport == t {
			return i
		}
	}
	return -1
}

// Transports returns a snapshot of the registered transports.
func (c *Channel) Transports() []Transport {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Transport, len(c.members))
	for i, m := range c.members {
		out[i] = m.transport
	}
	return out
}

// Send wraps payload in a new envelope and hands it to every ready
// transport. Transports that report not ready are skipped. Transport errors
// are logged, never returned. Returns the envelope id.
func (c *Channel) Send(ctx context.Context, payload any) string {
	env := envelope.Wrap(c.newID, payload)

	var targets []Transport
	for _, t := range c.Transports() {
		if isReady(t) {
			targets = append(targets, t)
		}
	}

	ctx, span := observability.StartSendSpan(ctx, env.ID, len(targets))
	var errs []error
	for _, t := range targets {
		if err := t.Send(ctx, env); err != nil {
			name := transportName(t)
			c.logger.Warn("transport send failed",
				"transport", name,
				"id", env.ID,
				"error", err)
			c.metrics.RecordTransportError(ctx, name)
			errs = append(errs, err)
		}
	}
	c.metrics.RecordSend(ctx, len(targets))
	observability.EndSpanWithError(span, errors.Join(errs...))

	return env.ID
}

// handleEnvelope is subscribed to every transport. The first sighting of an
// id is emitted to subscribers; repeats are dropped.
// Deliveries racing End are dropped.
func (c *Channel) handleEnvelope(env envelope.Envelope) {
	if c.ended.Load() {
		return
	}
	now := c.now()
	if !c.cache.RecordIfNew(env.ID, now) {
		c.logger.Debug("duplicate envelope dropped", "id", env.ID)
		c.metrics.RecordDuplicate(context.Background())
		return
	}

	c.hub.publish(Message{ID: env.ID, Payload: env.Payload, ReceivedAt: now})
	c.metrics.RecordDelivered(context.Background())
}

// Subscribe returns a buffered stream of deduplicated messages and a
// subscription id. The stream is closed on Unsubscribe or when ctx is
// cancelled. Messages are dropped for a subscriber whose buffer is full.
func (c *Channel) Subscribe(ctx context.Context) (<-chan Message, string) {
	return c.hub.subscribe(ctx)
}

// Unsubscribe closes and removes a subscription created by Subscribe.
func (c *Channel) Unsubscribe(subID string) {
	c.hub.unsubscribe(subID)
}

// OnMessage registers fn to be called synchronously, in registration order,
// for every deduplicated message. The returned func removes it.
func (c *Channel) OnMessage(fn func(Message)) (unsubscribe func()) {
	return c.hub.onMessage(fn)
}

// Timeout returns the current dedup window.
func (c *Channel) Timeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// SetTimeout changes the dedup window. Any running sweep is stopped before
// this returns; a positive d then starts a new sweep every d that expires ids
// older than d. A non-positive d leaves sweeping off, so recorded ids are kept
// (and keep suppressing repeats) until the window is re-enabled.
func (c *Channel) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sweep != nil {
		c.sweep.halt()
		c.sweep = nil
	}
	c.timeout = d
	if d > 0 {
		c.sweep = startSweeper(d, c.expire)
	}
}

// expire runs one sweep pass with the given window.
func (c *Channel) expire(window time.Duration) {
	removed := c.cache.Sweep(c.now(), window)
	if removed > 0 {
		c.logger.Debug("expired ids", "count", removed, "remaining", c.cache.Len())
		c.metrics.RecordEvicted(context.Background(), removed)
	}
}

// Seen reports whether id is currently recorded, so a later inbound copy
// would be suppressed.
func (c *Channel) Seen(id string) bool {
	return c.cache.Seen(id)
}

// ClearSeen forgets every recorded id. With the timeout disabled this is the
// only way entries leave the cache.
func (c *Channel) ClearSeen() {
	n := c.cache.Len()
	c.cache.Clear()
	c.logger.Debug("recorded ids cleared", "count", n)
}

// End stops the sweep and detaches from every transport. Recorded ids are
// kept; call ClearSeen to drop them. The channel stays usable: call
// SetTimeout to re-enable expiry after adding transports again.
func (c *Channel) End() {
	c.SetTimeout(0)
	c.ended.Store(true)
	c.Reset(nil)
	c.logger.Debug("channel ended")
}
