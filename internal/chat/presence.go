package chat

import (
	"slices"
	"sync"
)

// Registry maps connection ids to display names. Names come back in the order
// connections first registered; a rename keeps its slot.
type Registry struct {
	mu    sync.Mutex
	names map[string]string
	order []string
}

func NewRegistry() *Registry {
	return &Registry{names: make(map[string]string)}
}

// SetName upserts the name for id and reports whether id was new.
func (r *Registry) SetName(id, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.names[id]
	r.names[id] = displayName(name)
	if !exists {
		r.order = append(r.order, id)
	}
	return !exists
}

// Remove is a no-op for unknown ids.
func (r *Registry) Remove(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.names[id]
	if !ok {
		return "", false
	}
	delete(r.names, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return name, true
}

func (r *Registry) Name(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.names[id]
	return name, ok
}

func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.names[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}
