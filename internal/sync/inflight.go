package sync

import "sync"

// guard tracks which kinds have a push pass in flight so overlapping
// triggers (interval tick, mutation, reconnect burst) collapse into one
// pass instead of racing each other over the same rows.
type guard struct {
	mu     sync.Mutex
	active map[Kind]bool
}

func newGuard() *guard {
	return &guard{active: make(map[Kind]bool)}
}

func (g *guard) tryAcquire(kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[kind] {
		return false
	}
	g.active[kind] = true
	return true
}

func (g *guard) release(kind Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, kind)
}
