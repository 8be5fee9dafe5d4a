package model

import (
	"fmt"
	"sync"
)

// Provider resolves the model names referenced by agents into Model instances.
type Provider interface {
	Resolve(name string) (Model, error)
}

// Registry is a Provider backed by a name to Model map. The Default model is
// returned for empty names.
type Registry struct {
	mu      sync.RWMutex
	models  map[string]Model
	Default Model
}

// NewRegistry creates a Registry with a default model.
func NewRegistry(def Model) *Registry {
	return &Registry{models: map[string]Model{}, Default: def}
}

// Register associates name with m.
func (r *Registry) Register(name string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = m
}

// Resolve implements Provider.
func (r *Registry) Resolve(name string) (Model, error) {
	if name == "" {
		if r.Default == nil {
			return nil, fmt.Errorf("no default model configured")
		}
		return r.Default, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q not registered", name)
	}

	return m, nil
}
