// Package locks serializes work per customer so concurrent evaluations and
// credits on the same customer never interleave.
package locks

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

// Keyed hands out one mutex per key. Entries are reference counted and
// released when the last holder returns, so the map stays bounded by the
// number of in-flight customers.
type Keyed struct {
	mu      sync.Mutex
	entries map[snowflake.ID]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[snowflake.ID]*entry)}
}

// Lock acquires the mutex for key and returns the unlock func.
func (k *Keyed) Lock(key snowflake.ID) func() {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &entry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
