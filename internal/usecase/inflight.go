package usecase

import "sync"

// InFlightGuard admits at most one holder per key.
type InFlightGuard struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewInFlightGuard() *InFlightGuard {
	return &InFlightGuard{keys: make(map[string]struct{})}
}

// TryAcquire marks key busy and reports whether the caller got it.
func (g *InFlightGuard) TryAcquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.keys[key]; busy {
		return false
	}
	g.keys[key] = struct{}{}
	return true
}

// Release frees key.
func (g *InFlightGuard) Release(key string) {
	g.mu.Lock()
	delete(g.keys, key)
	g.mu.Unlock()
}

// Busy reports whether key is held.
func (g *InFlightGuard) Busy(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.keys[key]
	return busy
}
