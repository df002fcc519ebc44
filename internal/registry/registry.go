// Package registry implements the Tool Registry (spec §4.2): a thread-safe
// id→descriptor map, registered once at startup and read on every invocation.
package registry

import (
	"sort"
	"sync"

	"github.com/moonbotd/moonbotd/pkg/moonmodels"
)

// Registry maps tool id to descriptor. The zero value is not usable; use New.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]moonmodels.ToolDescriptor
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]moonmodels.ToolDescriptor)}
}

// Register adds or overwrites the descriptor for descriptor.ID.
func (r *Registry) Register(descriptor moonmodels.ToolDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[descriptor.ID] = descriptor
}

// Unregister removes id, if present.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
}

// Get returns id's descriptor and whether it was found.
func (r *Registry) Get(id string) (moonmodels.ToolDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[id]
	return d, ok
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[id]
	return ok
}

// List returns every registered descriptor, sorted by id for deterministic
// prompt rendering and test output.
func (r *Registry) List() []moonmodels.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]moonmodels.ToolDescriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
