// Package ident models entity identifiers that may be either a
// locally-allocated temporary id or a server-assigned permanent id.
// Call sites branch through Temporary()/Persisted() instead of testing
// the sign of a raw integer.
package ident

import (
	"sync"
	"time"
)

// ID is an entity identifier. Server-assigned ids are positive;
// temporary ids handed out by an Allocator are negative. The value
// round-trips through SQLite INTEGER columns unchanged.
type ID int64

// Temporary reports whether the id was allocated locally and has not
// been replaced by a server id yet.
func (id ID) Temporary() bool { return id < 0 }

// Persisted reports whether the id is server-assigned.
func (id ID) Persisted() bool { return id > 0 }

// Int64 returns the raw value for storage.
func (id ID) Int64() int64 { return int64(id) }

// Allocator hands out strictly-decreasing negative ids, unique within
// one process session. Seeded from the current time so ids from a
// restarted session cannot collide with rows a previous session left
// behind unsynced.
type Allocator struct {
	mu   sync.Mutex
	last int64
}

// NewAllocator creates an allocator seeded at -UnixMilli.
func NewAllocator() *Allocator {
	return &Allocator{last: -time.Now().UnixMilli()}
}

// Next returns the next temporary id.
func (a *Allocator) Next() ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.last--
	return ID(a.last)
}
