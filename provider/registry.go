package provider

import "sync"

// Registry maps provider names to factories. Factories are registered once
// at startup; resolution is a plain keyed lookup, and an unknown name is a
// first-class miss reported as *ConfigurationError.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under its provider name. A later registration
// for the same name replaces the earlier one.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.ProviderName()] = f
}

// Resolve returns the factory for name. An unknown provider is fatal for
// the exchange: no fallback provider is tried.
func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	if !ok {
		return nil, &ConfigurationError{Provider: name, Reason: "unknown provider"}
	}
	return f, nil
}

// Names lists the registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
