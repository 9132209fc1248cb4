package examroom

import "sync"

// Registry tracks the live room of each attempt so that only one connection
// proctors an attempt at a time.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Add registers r under key and evicts the room it replaces, if any.
func (g *Registry) Add(key string, r *Room) {
	g.mu.Lock()
	prev := g.rooms[key]
	g.rooms[key] = r
	g.mu.Unlock()

	if prev != nil && prev != r {
		prev.Evict()
	}
}

// Remove unregisters r. A newer room under the same key is left alone.
func (g *Registry) Remove(key string, r *Room) {
	g.mu.Lock()
	if g.rooms[key] == r {
		delete(g.rooms, key)
	}
	g.mu.Unlock()
}

// CloseRoom closes and unregisters the room under key.
func (g *Registry) CloseRoom(key string) {
	g.mu.Lock()
	r := g.rooms[key]
	delete(g.rooms, key)
	g.mu.Unlock()

	if r != nil {
		r.Close()
	}
}

// Len returns the number of live rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
