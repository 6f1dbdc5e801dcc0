package provider

import (
	"fmt"
	"sync"
)

// Factory creates a provider instance by name.
type Factory func(name string) (Provider, error)

// Registry manages content-generation providers and caches instances by
// name.
type Registry struct {
	factory Factory
	cache   map[string]Provider
	mu      sync.RWMutex
}

// NewRegistry creates a provider registry backed by the given factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		cache:   make(map[string]Provider),
	}
}

// GetProvider returns the provider for the given name, creating and caching
// it on first use.
func (r *Registry) GetProvider(name string) (Provider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}

	// Fast path: check cache with read lock
	r.mu.RLock()
	if cached, exists := r.cache[name]; exists {
		r.mu.RUnlock()
		return cached, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock; another goroutine may have
	// created the provider while we waited.
	if cached, exists := r.cache[name]; exists {
		return cached, nil
	}

	p, err := r.factory(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider %q: %w", name, err)
	}
	r.cache[name] = p
	return p, nil
}
