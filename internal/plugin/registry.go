package plugin

import (
	"sort"
	"sync"
)

// Registry is a read-mostly name -> Plugin map. Registration is
// startup-only in practice (per spec §5's concurrency notes); the RWMutex
// still lets concurrent executions read without blocking each other.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	info    map[string]Info
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		info:    make(map[string]Info),
	}
}

// Register adds a plugin under its own Name(). A later call with the same
// name replaces the earlier one.
func (r *Registry) Register(p Plugin, info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name()] = p
	r.info[p.Name()] = info
}

// Get returns the named plugin, or false if it is not registered.
func (r *Registry) Get(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Contains reports whether name is registered.
func (r *Registry) Contains(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[name]
	return ok
}

// List returns every registered plugin's Info, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.info))
	for _, info := range r.info {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
