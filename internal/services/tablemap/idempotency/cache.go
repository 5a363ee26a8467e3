// Package idempotency memoizes command responses per identity so a resent
// envelope replays the original outcome instead of executing again.
package idempotency

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/louisbranch/tablemap/internal/services/tablemap/protocol"
)

// DefaultCapacity bounds each identity's bucket.
const DefaultCapacity = 500

// Cache holds one LRU bucket per identity. Eviction is capacity-driven only.
type Cache struct {
	mu       sync.Mutex
	capacity int
	buckets  map[string]*lru.Cache[string, protocol.Envelope]
}

// New returns a cache bounding each identity to capacity entries.
// Non-positive capacities fall back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		capacity: capacity,
		buckets:  make(map[string]*lru.Cache[string, protocol.Envelope]),
	}
}

// Capacity returns the per-identity bound.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Get returns the cached response for (identity, rid) and marks it most recently used.
func (c *Cache) Get(identity, rid string) (protocol.Envelope, bool) {
	bucket := c.bucket(identity, false)
	if bucket == nil {
		return protocol.Envelope{}, false
	}
	return bucket.Get(rid)
}

// Set stores response for (identity, rid), evicting that identity's least
// recently used entry when the bucket is full.
func (c *Cache) Set(identity, rid string, response protocol.Envelope) {
	c.bucket(identity, true).Add(rid, response)
}

// Len returns the number of entries cached for identity.
func (c *Cache) Len(identity string) int {
	bucket := c.bucket(identity, false)
	if bucket == nil {
		return 0
	}
	return bucket.Len()
}

// Remove drops every entry for identity.
func (c *Cache) Remove(identity string) {
	c.mu.Lock()
	delete(c.buckets, identity)
	c.mu.Unlock()
}

// Purge drops every bucket.
func (c *Cache) Purge() {
	c.mu.Lock()
	c.buckets = make(map[string]*lru.Cache[string, protocol.Envelope])
	c.mu.Unlock()
}

func (c *Cache) bucket(identity string, create bool) *lru.Cache[string, protocol.Envelope] {
	c.mu.Lock()
	defer c.mu.Unlock()

	bucket, ok := c.buckets[identity]
	if ok || !create {
		return bucket
	}
	// lru.New only fails for non-positive sizes.
	bucket, _ = lru.New[string, protocol.Envelope](c.capacity)
	c.buckets[identity] = bucket
	return bucket
}
