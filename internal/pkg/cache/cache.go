package cache

import (
	"sync"
	"time"

	"webextract/internal/pkg/queue"
)

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
	seq       uint64
}

type insertion struct {
	key string
	seq uint64
}

// Cache is an in-memory TTL store bounded by entry count. When full it
// evicts the least recently inserted entry. Expired entries are removed
// lazily on lookup.
type Cache[V any] struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]entry[V]
	order    *queue.Queue[insertion]
	seq      uint64
	now      func() time.Time
}

// Creates a cache with the given TTL and capacity.
func New[V any](ttl time.Duration, capacity int) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	// May hold stale records from overwrites and lazy expiry; compacted when full.
	order, _ := queue.CreateQueue[insertion](capacity * 2)
	return &Cache[V]{
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]entry[V], min(capacity, 1024)),
		order:    order,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *Cache[V]) WithClock(now func() time.Time) *Cache[V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *Cache[V]) TTL() time.Duration { return c.ttl }

// Lookup returns the live value for key.
func (c *Cache[V]) Lookup(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Store inserts or replaces the value for key with the cache TTL.
func (c *Cache[V]) Store(key string, value V) {
	c.StoreTTL(key, value, c.ttl)
}

// StoreTTL inserts or replaces the value for key with an explicit TTL.
func (c *Cache[V]) StoreTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.seq++
	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.capacity {
			if !c.evictOldest() {
				break
			}
		}
	}
	c.entries[key] = entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl), seq: c.seq}

	rec := insertion{key: key, seq: c.seq}
	if err := c.order.Insert(rec); err != nil {
		c.compact()
		_ = c.order.Insert(rec)
	}
}

// Removes the oldest live insertion. Stale records are skipped.
func (c *Cache[V]) evictOldest() bool {
	for {
		rec, err := c.order.Remove()
		if err != nil {
			return false
		}
		if e, ok := c.entries[rec.key]; ok && e.seq == rec.seq {
			delete(c.entries, rec.key)
			return true
		}
	}
}

func (c *Cache[V]) compact() {
	c.order.Filter(func(rec insertion) bool {
		e, ok := c.entries[rec.key]
		return ok && e.seq == rec.seq
	})
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports stored entries, including expired ones not yet looked up.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
