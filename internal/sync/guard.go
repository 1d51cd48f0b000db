package sync

import (
	"sync"

	"marketplace-sync-service/internal/marketplace"
)

// Guard is the process-wide gate that keeps at most one run active per
// resource type. It holds the only piece of shared mutable state in the
// engine; the critical section is the flag check/set, never any I/O.
type Guard struct {
	mu     sync.Mutex
	active map[marketplace.ResourceType]bool
}

func NewGuard() *Guard {
	return &Guard{
		active: make(map[marketplace.ResourceType]bool),
	}
}

// TryAcquire is non-blocking: it returns false immediately when a run for
// the resource type is already active.
func (g *Guard) TryAcquire(resource marketplace.ResourceType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.active[resource] {
		return false
	}
	g.active[resource] = true
	return true
}

func (g *Guard) Release(resource marketplace.ResourceType) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, resource)
}

// Held reports whether a run is active for the resource type.
func (g *Guard) Held(resource marketplace.ResourceType) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[resource]
}
