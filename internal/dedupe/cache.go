// ABOUTME: Thread-safe first-seen cache for collapsing redundant envelope deliveries.
// ABOUTME: Supports atomic check-and-insert and an explicit expiry sweep driven by the caller.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the first-seen timestamp and list element for an id.
type cacheEntry struct {
	firstSeen time.Time
	element   *list.Element
}

// Cache records the first time each id was seen. Expiry is not automatic:
// the owner decides when to Sweep and with which window, so a disabled sweep
// means entries are kept indefinitely.
// A doubly-linked list keeps insertion order for O(1) capacity eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // ids in insertion order (oldest at front)
	maxSize int
}

// New creates a cache. maxSize <= 0 means unbounded; a positive value evicts
// the oldest id on overflow, which can let a repeat through inside its window.
func New(maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// RecordIfNew atomically checks whether id has been seen and records it if not.
// Returns true if id was new and is now recorded at now, false if it was
// already present. An existing entry is never refreshed.
func (c *Cache) RecordIfNew(id string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[id]; ok {
		return false
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.seen[id] = &cacheEntry{
		firstSeen: now,
		element:   elem,
	}
	return true
}

// Seen reports whether id is currently recorded.
func (c *Cache) Seen(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.seen[id]
	return ok
}

// Sweep removes every entry whose age at now exceeds window and returns the
// number removed.
func (c *Cache) Sweep(now time.Time, window time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, entry := range c.seen {
		if now.Sub(entry.firstSeen) > window {
			c.order.Remove(entry.element)
			delete(c.seen, id)
			removed++
		}
	}
	return removed
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen = make(map[string]*cacheEntry)
	c.order.Init()
}

// Len returns the number of recorded ids.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// evictOldest removes the oldest entry from the cache.
// Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, id)
}
