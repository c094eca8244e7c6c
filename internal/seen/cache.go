// Package seen implements a bounded deduplication cache for packet instances.
//
// Every node receiving a broadcast packet checks its (origin, sequence) pair
// against this cache. If seen: rebroadcast is suppressed (prevents infinite
// relay loops). If not seen: mark and forward.
//
// The cache holds a fixed number of entries and evicts strictly in insertion
// order — FIFO, not LRU. An entry older than the last N distinct insertions
// is forgotten, and a late re-arrival of that packet will be relayed again.
// That is an accepted bounded-memory tradeoff: the flood has long since died
// out by the time N newer packets have passed through.
package seen

import "sync"

// DefaultCapacity bounds the cache on a typical node. Forty entries cover
// several minutes of traffic at the message rates these meshes see.
const DefaultCapacity = 40

// Key identifies one packet instance.
type Key struct {
	OriginID uint8
	Sequence uint32
}

// Cache is a concurrent-safe fixed-capacity set of recently seen packets.
type Cache struct {
	mu    sync.Mutex
	ring  []Key
	index map[Key]int // key → ring slot, for O(1) lookup
	next  int         // next ring slot to overwrite
	used  int         // slots written so far, up to len(ring)
}

// New creates a Cache holding at most capacity entries.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		ring:  make([]Key, capacity),
		index: make(map[Key]int, capacity),
	}
}

// Contains reports whether the (origin, sequence) pair is currently cached.
func (c *Cache) Contains(originID uint8, seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.index[Key{originID, seq}]
	return ok
}

// Insert records the pair in the next ring slot, evicting whatever entry
// occupied that slot. Eviction order is insertion order regardless of how
// often an entry was looked up.
func (c *Cache) Insert(originID uint8, seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := Key{originID, seq}
	if c.used == len(c.ring) {
		evicted := c.ring[c.next]
		// Only drop the index entry if this slot is still its home; a
		// re-inserted key may have moved to a newer slot.
		if c.index[evicted] == c.next {
			delete(c.index, evicted)
		}
	}
	c.ring[c.next] = k
	c.index[k] = c.next
	c.next = (c.next + 1) % len(c.ring)
	if c.used < len(c.ring) {
		c.used++
	}
}

// Len returns the number of distinct entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

// Cap returns the fixed capacity.
func (c *Cache) Cap() int {
	return len(c.ring)
}
