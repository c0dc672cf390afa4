package retrial

import (
	"slices"
	"sync"
)

// Registry collects the destinations consumers declare they read from.
// It feeds the inferred set of the topology builder.
type Registry struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// Register records that a consumer reads from destination.
func (r *Registry) Register(destination string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[destination] = struct{}{}
}

// Names returns the registered destinations in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.names))
	for name := range r.names {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
