// ABOUTME: Tests for the dedupe cache used to collapse redundant deliveries.
// ABOUTME: Validates first-seen semantics, sweep windows, eviction, and concurrency safety.

package dedupe

import (
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestCache_RecordIfNew_NewKey(t *testing.T) {
	cache := New(0)

	assert.True(t, cache.RecordIfNew("new-key", epoch), "first sighting should be new")
	assert.True(t, cache.Seen("new-key"))
	assert.Equal(t, 1, cache.Len())
}

func TestCache_RecordIfNew_Repeat(t *testing.T) {
	cache := New(0)

	cache.RecordIfNew("dup", epoch)
	assert.False(t, cache.RecordIfNew("dup", epoch.Add(time.Second)), "repeat should be rejected")
	assert.Equal(t, 1, cache.Len())
}

func TestCache_RecordIfNew_DoesNotRefresh(t *testing.T) {
	cache := New(0)

	cache.RecordIfNew("key", epoch)
	cache.RecordIfNew("key", epoch.Add(50*time.Millisecond))

	// Age is measured from the first sighting, not the repeat
	removed := cache.Sweep(epoch.Add(80*time.Millisecond), 75*time.Millisecond)
	assert.Equal(t, 1, removed)
	assert.False(t, cache.Seen("key"))
}

func TestCache_Seen_NotRecorded(t *testing.T) {
	cache := New(0)
	assert.False(t, cache.Seen("never-seen-key"))
}

func TestCache_Sweep(t *testing.T) {
	cache := New(0)

	cache.RecordIfNew("old", epoch)
	cache.RecordIfNew("edge", epoch.Add(25*time.Millisecond))
	cache.RecordIfNew("fresh", epoch.Add(90*time.Millisecond))

	removed := cache.Sweep(epoch.Add(100*time.Millisecond), 75*time.Millisecond)

	assert.Equal(t, 1, removed)
	assert.False(t, cache.Seen("old"))
	// Exactly at the window boundary is still inside it
	assert.True(t, cache.Seen("edge"))
	assert.True(t, cache.Seen("fresh"))
}

func TestCache_Sweep_ThenNewAgain(t *testing.T) {
	cache := New(0)

	assert.True(t, cache.RecordIfNew("id", epoch))
	assert.False(t, cache.RecordIfNew("id", epoch.Add(10*time.Millisecond)))

	cache.Sweep(epoch.Add(time.Second), 75*time.Millisecond)

	assert.True(t, cache.RecordIfNew("id", epoch.Add(time.Second)), "expired id should be new again")
}

func TestCache_Sweep_Empty(t *testing.T) {
	cache := New(0)
	assert.Equal(t, 0, cache.Sweep(epoch, time.Second))
}

func TestCache_Unbounded(t *testing.T) {
	cache := New(0)
	for i := 0; i < 10_000; i++ {
		cache.RecordIfNew(strconv.Itoa(i), epoch)
	}
	assert.Equal(t, 10_000, cache.Len())
	assert.True(t, cache.Seen("0"))
}

func TestCache_EvictionOrder(t *testing.T) {
	cache := New(3)

	cache.RecordIfNew("first", epoch)
	cache.RecordIfNew("second", epoch.Add(time.Millisecond))
	cache.RecordIfNew("third", epoch.Add(2*time.Millisecond))

	// Add fourth - should evict "first" (oldest)
	cache.RecordIfNew("fourth", epoch.Add(3*time.Millisecond))

	assert.False(t, cache.Seen("first"), "first should be evicted")
	assert.True(t, cache.Seen("second"))
	assert.True(t, cache.Seen("third"))
	assert.True(t, cache.Seen("fourth"))

	// Add fifth - should evict "second"
	cache.RecordIfNew("fifth", epoch.Add(4*time.Millisecond))

	assert.False(t, cache.Seen("second"), "second should be evicted")
	assert.Equal(t, 3, cache.Len())
}

func TestCache_EvictionAfterSweep(t *testing.T) {
	cache := New(2)

	cache.RecordIfNew("a", epoch)
	cache.RecordIfNew("b", epoch.Add(time.Second))
	cache.Sweep(epoch.Add(1500*time.Millisecond), time.Second)

	// The list must stay in step with the map after a sweep
	cache.RecordIfNew("c", epoch.Add(2*time.Second))
	cache.RecordIfNew("d", epoch.Add(3*time.Second))

	assert.False(t, cache.Seen("b"))
	assert.True(t, cache.Seen("c"))
	assert.True(t, cache.Seen("d"))
	assert.Equal(t, 2, cache.Len())
}

func TestCache_Clear(t *testing.T) {
	cache := New(0)
	cache.RecordIfNew("a", epoch)
	cache.RecordIfNew("b", epoch)

	cache.Clear()

	assert.Equal(t, 0, cache.Len())
	assert.True(t, cache.RecordIfNew("a", epoch))
}

func TestCache_RecordIfNew_Atomic(t *testing.T) {
	cache := New(0)

	const numGoroutines = 100

	var winners atomic.Int32
	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	// All goroutines try to record the same id simultaneously
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			if cache.RecordIfNew("contested-key", time.Now()) {
				winners.Add(1)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), winners.Load(),
		"exactly one goroutine should win the race for RecordIfNew")
}

func TestCache_ConcurrentSweep(t *testing.T) {
	cache := New(1000)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			cache.RecordIfNew("key-"+strconv.Itoa(i%500), time.Now())
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			cache.Sweep(time.Now(), time.Microsecond)
		}
	}()

	wg.Wait()

	// No panics or races; the cache is still functional
	cache.Clear()
	assert.True(t, cache.RecordIfNew("final-key", time.Now()))
}
