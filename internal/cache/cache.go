package cache

import (
	"sync"
	"time"
)

// entry is a cached value with its expiry and invalidation tags.
type entry struct {
	key          Key
	value        any
	objects      map[string]bool
	expiresAt    time.Time
	lastAccessed time.Time
}

// Cache is a thread-safe in-memory cache with TTL expiry and LRU eviction.
//
// The cache is best-effort: callers must treat any miss (including one
// caused by eviction or invalidation) as a signal to recompute. It never
// blocks the pipeline.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int

	hits   uint64
	misses uint64
}

// New creates a cache with the given TTL and maximum entry count.
func New(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &Cache{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// Set stores a value under the key. objects lists the datastore objects the
// value was derived from, for targeted invalidation; it may be nil.
func (c *Cache) Set(key Key, value any, objects []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := key.String()
	if len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[ks]; !exists {
			c.evictLRU()
		}
	}

	var tags map[string]bool
	if len(objects) > 0 {
		tags = make(map[string]bool, len(objects))
		for _, o := range objects {
			tags[o] = true
		}
	}

	now := time.Now()
	c.entries[ks] = &entry{
		key:          key,
		value:        value,
		objects:      tags,
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}
}

// Get retrieves a value. Expired entries are removed on access.
func (c *Cache) Get(key Key) (any, bool) {
	ks := key.String()

	c.mu.RLock()
	e, exists := c.entries[ks]
	c.mu.RUnlock()

	if !exists {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		delete(c.entries, ks)
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	e.lastAccessed = time.Now()
	c.hits++
	c.mu.Unlock()

	return e.value, true
}

// Invalidate removes entries for a (tenant, scope, object) event.
// An empty object removes every entry for the tenant/scope pair; otherwise
// only entries tagged with that object (or untagged entries, which cannot
// prove independence from it) are removed.
func (c *Cache) Invalidate(tenant, scope, object string) int {
	prefix := scopePrefix(tenant, scope)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for ks, e := range c.entries {
		if len(ks) < len(prefix) || ks[:len(prefix)] != prefix {
			continue
		}
		if object != "" && e.objects != nil && !e.objects[object] {
			continue
		}
		delete(c.entries, ks)
		removed++
	}
	return removed
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry)
}

// evictLRU removes the least recently used entry.
// Caller must hold the write lock.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for ks, e := range c.entries {
		if first || e.lastAccessed.Before(oldestTime) {
			oldestKey = ks
			oldestTime = e.lastAccessed
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
