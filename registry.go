package eventscope

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps scope ids to the handlers registered for them.
//
// The dispatcher only knows a scope id, so it resolves handlers here rather
// than through a manager reference. Reads are concurrent; registration and
// removal take the write lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string][]Handler
}

// DefaultRegistry is used by managers and dispatchers that are not given
// an explicit registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string][]Handler)}
}

// Register records handlers for id. Registering an id twice fails with
// ErrScopeExists; deregister it first.
func (r *Registry) Register(id string, handlers ...Handler) error {
	if id == "" {
		return ErrInvalidScopeID
	}
	for i, h := range handlers {
		if h == nil {
			return fmt.Errorf("%w: handler %d is nil", ErrInvalidHandler, i)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return fmt.Errorf("%w: %q", ErrScopeExists, id)
	}
	r.entries[id] = slices.Clone(handlers)
	return nil
}

// Deregister removes id and reports whether it was present.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// Lookup returns a copy of the handlers registered for id.
func (r *Registry) Lookup(id string) ([]Handler, error) {
	r.mu.RLock()
	handlers, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrScopeNotFound, id)
	}
	return slices.Clone(handlers), nil
}

// IDs returns the registered scope ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Len returns the number of registered scope ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
