// ABOUTME: Ordered registry of inbound envelope handlers shared by transport implementations
// ABOUTME: Subscribe returns an idempotent unsubscribe func; Dispatch calls handlers outside the lock

package transport

import (
	"errors"
	"sync"

	"github.com/2389/redub/internal/envelope"
)

// ErrClosed is returned by transports used after Close.
var ErrClosed = errors.New("transport closed")

type handlerEntry struct {
	id uint64
	h  envelope.Handler
}

// Handlers keeps inbound handlers in registration order.
// The zero value is ready to use.
type Handlers struct {
	mu      sync.RWMutex
	next    uint64
	entries []handlerEntry
}

// Subscribe registers h and returns a func that removes it.
// Calling the returned func more than once is a no-op.
func (r *Handlers) Subscribe(h envelope.Handler) func() {
	r.mu.Lock()
	r.next++
	id := r.next
	r.entries = append(r.entries, handlerEntry{id: id, h: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Handlers) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == id {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Dispatch delivers env to every registered handler.
// Handlers run outside the lock so they may unsubscribe themselves.
func (r *Handlers) Dispatch(env envelope.Envelope) {
	r.mu.RLock()
	targets := make([]envelope.Handler, len(r.entries))
	for i, e := range r.entries {
		targets[i] = e.h
	}
	r.mu.RUnlock()

	for _, h := range targets {
		h(env)
	}
}

// Len returns the number of registered handlers.
func (r *Handlers) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
