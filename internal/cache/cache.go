package cache

import (
	"sync"
	"time"
)

// Cache is a thread-safe map from string keys to derived aggregate values
// with per-read TTL checks. Entries are only ever evicted lazily on Get;
// everything stored here is recomputable, so unbounded growth is capped in
// practice by the small, fixed set of dashboard cache keys.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	nowFn   func() time.Time
}

type entry struct {
	value      interface{}
	insertedAt time.Time
}

// New creates an empty cache using the real clock.
func New() *Cache {
	return NewWithClock(func() time.Time { return time.Now().UTC() })
}

// NewWithClock creates a cache with an injected clock for tests.
func NewWithClock(nowFn func() time.Time) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		nowFn:   nowFn,
	}
}

// Get returns the cached value for key if it is younger than ttl.
// A stale entry is removed and reported as a miss.
func (c *Cache) Get(key string, ttl time.Duration) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if c.nowFn().Sub(e.insertedAt) > ttl {
		delete(c.entries, key)
		return nil, false
	}

	return e.value, true
}

// Put stores value under key, unconditionally overwriting any previous entry
// and resetting its insertion time.
func (c *Cache) Put(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry{value: value, insertedAt: c.nowFn()}
}

// Invalidate removes key from the cache.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Len reports the number of live entries, stale or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}
