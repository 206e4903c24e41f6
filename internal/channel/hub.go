// ABOUTME: In-memory fan-out of deduplicated messages to channel subscribers
// ABOUTME: Supports buffered Go-channel subscriptions and synchronous callbacks

package channel

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultSubscriberBuffer is the channel buffer for each subscriber.
const defaultSubscriberBuffer = 64

// Message is a deduplicated inbound payload together with its envelope id.
type Message struct {
	ID         string
	Payload    any
	ReceivedAt time.Time
}

type callbackEntry struct {
	id string
	fn func(Message)
}

// hub delivers each Message to callbacks (in registration order, synchronously)
// and then to buffered subscriber channels (non-blocking).
type hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Message // subID -> ch
	callbacks   []callbackEntry
	bufferSize  int
	logger      *slog.Logger
}

func newHub(bufferSize int, logger *slog.Logger) *hub {
	if bufferSize <= 0 {
		bufferSize = defaultSubscriberBuffer
	}
	return &hub{
		subscribers: make(map[string]chan Message),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

func (h *hub) subscribe(ctx context.Context) (<-chan Message, string) {
	subID := uuid.New().String()
	ch := make(chan Message, h.bufferSize)

	h.mu.Lock()
	h.subscribers[subID] = ch
	h.mu.Unlock()

	h.logger.Debug("subscriber added", "sub_id", subID)

	// Auto-cleanup on context cancellation
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			h.unsubscribe(subID)
		}()
	}

	return ch, subID
}

func (h *hub) unsubscribe(subID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subscribers[subID]
	if !ok {
		return
	}
	delete(h.subscribers, subID)
	close(ch)

	h.logger.Debug("subscriber removed", "sub_id", subID)
}

func (h *hub) onMessage(fn func(Message)) func() {
	id := uuid.New().String()

	h.mu.Lock()
	h.callbacks = append(h.callbacks, callbackEntry{id: id, fn: fn})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, cb := range h.callbacks {
			if cb.id == id {
				h.callbacks = append(h.callbacks[:i:i], h.callbacks[i+1:]...)
				return
			}
		}
	}
}

func (h *hub) publish(msg Message) {
	h.mu.RLock()
	callbacks := make([]func(Message), len(h.callbacks))
	for i, cb := range h.callbacks {
		callbacks[i] = cb.fn
	}
	h.mu.RUnlock()

	for _, fn := range callbacks {
		fn(msg)
	}

	// Sends stay under the read lock so unsubscribe cannot close a channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for subID, ch := range h.subscribers {
		select {
		case ch <- msg:
		default:
			// Subscriber channel full, drop message for this subscriber
			h.logger.Warn("dropped message for slow subscriber",
				"sub_id", subID,
				"id", msg.ID)
		}
	}
}
