package provider

import (
	"slices"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// Registry maps tool ids to providers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]core.Provider
}

// NewRegistry creates a registry pre-populated with providers.
func NewRegistry(providers ...core.Provider) *Registry {
	r := &Registry{providers: map[string]core.Provider{}}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider under its name.
func (r *Registry) Register(p core.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider for toolID.
func (r *Registry) Get(toolID string) (core.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[toolID]
	if !ok {
		return nil, Errorf(toolID, CodeNotFound, "no provider registered for %q", toolID)
	}
	return p, nil
}

// Names returns the registered tool ids, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// IsControl reports whether p performs an internal control action.
func IsControl(p core.Provider) bool {
	cp, ok := p.(core.ControlProvider)
	return ok && cp.IsControl()
}
