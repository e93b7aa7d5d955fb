// Package cache provides a bounded in-memory TTL cache for hot-path lookups.
package cache

import (
	"sync"
	"time"
)

// Cache is the read-through cache interface used by domain services.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache stores values in-memory with per-entry TTLs and a hard entry cap.
// When full it evicts the entry closest to expiry. Callers invalidate
// explicitly with Delete on every write to the backing store.
type TTLCache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      map[K]cacheEntry[V]
	maxEntries int
}

// NewTTLCache constructs a TTLCache capped at maxEntries (0 means unbounded).
func NewTTLCache[K comparable, V any](maxEntries int) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		items:      make(map[K]cacheEntry[V]),
		maxEntries: maxEntries,
	}
}

// Get returns a cached value if it exists and has not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		c.Delete(key)
		return zero, false
	}
	return entry.value, true
}

// Set stores a value with the provided TTL, evicting if the cache is full.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if c == nil {
		return
	}
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	if _, exists := c.items[key]; !exists && c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictLocked()
	}
	c.items[key] = cacheEntry[V]{
		value:     value,
		expiresAt: expiresAt,
	}
	c.mu.Unlock()
}

// Delete removes a cached entry.
func (c *TTLCache[K, V]) Delete(key K) {
	if c == nil {
		return
	}
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// evictLocked removes the entry closest to expiry. Entries without an expiry
// are only evicted when nothing better exists.
func (c *TTLCache[K, V]) evictLocked() {
	var victim K
	var victimAt time.Time
	found := false
	for key, entry := range c.items {
		if !found {
			victim, victimAt, found = key, entry.expiresAt, true
			continue
		}
		if victimAt.IsZero() || (!entry.expiresAt.IsZero() && entry.expiresAt.Before(victimAt)) {
			victim, victimAt = key, entry.expiresAt
		}
	}
	if found {
		delete(c.items, victim)
	}
}

// NoopCache always returns cache misses and ignores writes.
type NoopCache[K comparable, V any] struct{}

func (NoopCache[K, V]) Get(key K) (V, bool) {
	var zero V
	return zero, false
}

func (NoopCache[K, V]) Set(key K, value V, ttl time.Duration) {}

func (NoopCache[K, V]) Delete(key K) {}
