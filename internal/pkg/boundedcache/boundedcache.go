package boundedcache

import (
	"sync"
	"time"
)

// Cache is a concurrency-safe in-memory key/value store with a fixed entry
// TTL and a hard capacity. When the capacity is reached the oldest inserted
// entry is evicted first. It backs the webhook nonce replay cache and the
// idempotency in-process fallback, both of which must stay bounded under
// sustained traffic.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]entry
	order    []slot
	seq      uint64

	now func() time.Time
}

type entry struct {
	value     string
	expiresAt time.Time
	seq       uint64
}

// slot records one insertion in FIFO order. A slot whose seq no longer
// matches the entry's seq is stale: the key was deleted or expired and later
// re-inserted, and the re-insert owns a newer slot.
type slot struct {
	key string
	seq uint64
}

// New creates a cache holding at most capacity entries, each expiring after
// ttl.
func New(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]entry, capacity),
		now:      time.Now,
	}
}

// Get returns the value for key if present and not expired.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

// Put stores value under key, overwriting any previous entry.
func (c *Cache) Put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(key, value)
}

// PutIfAbsent stores value under key only when no live entry exists. It
// returns true when the value was stored, false when a fresh entry was
// already present. This is the check-and-insert used for nonce replay
// detection.
func (c *Cache) PutIfAbsent(key, value string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && !c.now().After(e.expiresAt) {
		return false
	}
	c.put(key, value)
	return true
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	now := c.now()
	for _, e := range c.entries {
		if !now.After(e.expiresAt) {
			n++
		}
	}
	return n
}

// put assumes c.mu is held. Overwriting an existing key refreshes its value
// and TTL but keeps its position in the eviction order.
func (c *Cache) put(key, value string) {
	if e, exists := c.entries[key]; exists {
		c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl), seq: e.seq}
		return
	}
	c.evictIfFull()
	c.seq++
	c.order = append(c.order, slot{key: key, seq: c.seq})
	c.entries[key] = entry{value: value, expiresAt: c.now().Add(c.ttl), seq: c.seq}
}

// evictIfFull makes room for one new entry. Stale and expired slots are
// swept first so they never cost a live entry its place. Assumes c.mu is
// held.
func (c *Cache) evictIfFull() {
	now := c.now()

	c.dropStaleHead(now)
	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		head := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[head.key]; ok && e.seq == head.seq {
			delete(c.entries, head.key)
		}
		c.dropStaleHead(now)
	}

	// Deleted keys leave stale slots behind; compact before they pile up.
	if len(c.order) > 2*c.capacity {
		c.compact(now)
	}
}

// dropStaleHead pops order slots until the head refers to a live entry.
// Expired entries encountered at the head are removed as well. Assumes c.mu
// is held.
func (c *Cache) dropStaleHead(now time.Time) {
	for len(c.order) > 0 {
		head := c.order[0]
		e, ok := c.entries[head.key]
		if ok && e.seq == head.seq && !now.After(e.expiresAt) {
			return
		}
		c.order = c.order[1:]
		if ok && e.seq == head.seq {
			delete(c.entries, head.key)
		}
	}
}

// compact rewrites order keeping only slots that still own a live entry.
// Assumes c.mu is held.
func (c *Cache) compact(now time.Time) {
	kept := c.order[:0]
	for _, s := range c.order {
		e, ok := c.entries[s.key]
		if !ok || e.seq != s.seq {
			continue
		}
		if now.After(e.expiresAt) {
			delete(c.entries, s.key)
			continue
		}
		kept = append(kept, s)
	}
	c.order = kept
}
