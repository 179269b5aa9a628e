package schema

import (
	"fmt"
	"slices"
	"sync"

	"github.com/rbaliyan/eventscope/internal/naming"
)

// Registry maps event names to payload schemas. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// Default is the registry consulted by dispatchers without an explicit one.
var Default = NewRegistry()

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]Schema)}
}

// Register records s under eventName, or under the schema's own name when
// eventName is omitted. The name may be any tag accepted for events. The
// last registration for a name wins. The schema is returned for chaining.
func (r *Registry) Register(s Schema, eventName ...any) (Schema, error) {
	var name string
	if len(eventName) > 0 {
		name, _ = naming.Of(eventName[0])
	} else if n, ok := s.(Named); ok {
		name = n.EventName()
	}
	if name == "" {
		return nil, fmt.Errorf("%w: %T", ErrMissingEventName, s)
	}

	r.mu.Lock()
	r.schemas[name] = s
	r.mu.Unlock()
	return s, nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(s Schema, eventName ...any) Schema {
	s, err := r.Register(s, eventName...)
	if err != nil {
		panic(err)
	}
	return s
}

// Get returns the schema for name, or nil.
func (r *Registry) Get(name string) Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.schemas[name]
}

// Names returns the registered event names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// Register records s in the Default registry.
func Register(s Schema, eventName ...any) (Schema, error) {
	return Default.Register(s, eventName...)
}

// MustRegister records s in the Default registry and panics on error.
func MustRegister(s Schema, eventName ...any) Schema {
	return Default.MustRegister(s, eventName...)
}

// Get returns the schema for name from the Default registry.
func Get(name string) Schema {
	return Default.Get(name)
}
