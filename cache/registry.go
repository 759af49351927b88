package cache

import (
	"sort"
	"sync"
)

// Registry resolves names to cache handles. Caches with different type
// parameters share one registry; Lookup re-types the handle.
//
// Names are an open namespace: register plain names or "module/name" style
// paths, whatever the application uses to address its caches.
type Registry struct {
	mu     sync.RWMutex
	caches map[string]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{caches: make(map[string]any)}
}

// Default is the process-wide registry used by the package-level
// Register/Lookup/Unregister helpers.
var Default = NewRegistry()

// Register binds name to a cache handle. ErrExists if the name is taken.
func (r *Registry) Register(name string, c any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.caches[name]; ok {
		return ErrExists
	}
	r.caches[name] = c
	return nil
}

// Unregister removes a name binding. Unknown names are ignored.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	delete(r.caches, name)
	r.mu.Unlock()
}

// Names returns all bound names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.caches))
	for n := range r.caches {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// LookupIn resolves name in r to a typed cache handle. The second return
// is false when the name is unbound or bound to a cache of another type.
func LookupIn[K comparable, V any](r *Registry, name string) (Cache[K, V], bool) {
	r.mu.RLock()
	h, ok := r.caches[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	c, ok := h.(Cache[K, V])
	return c, ok
}

// Register binds name in the Default registry.
func Register(name string, c any) error { return Default.Register(name, c) }

// Unregister removes name from the Default registry.
func Unregister(name string) { Default.Unregister(name) }

// Lookup resolves name in the Default registry.
func Lookup[K comparable, V any](name string) (Cache[K, V], bool) {
	return LookupIn[K, V](Default, name)
}
