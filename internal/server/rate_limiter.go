package server

import (
	"sync"
	"time"
)

// rateLimiter is a fixed-window counter keyed by client, used to shield the
// webhook endpoint from delivery storms. Expired windows are pruned lazily so
// the map stays bounded by the number of active clients.
type rateLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	items     map[string]*rateLimitEntry
	lastPrune time.Time
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		limit:  limit,
		window: window,
		items:  make(map[string]*rateLimitEntry),
	}
}

func (r *rateLimiter) Allow(key string) bool {
	if key == "" {
		return false
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastPrune) > r.window {
		for k, entry := range r.items {
			if now.Sub(entry.windowStart) > r.window {
				delete(r.items, k)
			}
		}
		r.lastPrune = now
	}

	entry := r.items[key]
	if entry == nil || now.Sub(entry.windowStart) > r.window {
		entry = &rateLimitEntry{windowStart: now}
		r.items[key] = entry
	}

	if entry.count >= r.limit {
		return false
	}

	entry.count++
	return true
}
