package agent

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the arena of agents of a run, keyed by name.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
}

// NewRegistry creates a registry holding agents and every agent reachable
// from them through peers.
func NewRegistry(agents ...*Agent) (*Registry, error) {
	r := &Registry{agents: make(map[string]*Agent)}
	for _, a := range agents {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a and its peers. Registering a different agent under a name
// already taken is an error; registering the same agent twice is not.
func (r *Registry) Register(a *Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.register(a)
}

func (r *Registry) register(a *Agent) error {
	if a == nil {
		return fmt.Errorf("nil agent")
	}

	if existing, ok := r.agents[a.Name()]; ok {
		if existing != a {
			return fmt.Errorf("agent name %q registered twice", a.Name())
		}
		return nil
	}

	r.agents[a.Name()] = a

	for _, p := range a.opts.Peers {
		if err := r.register(p); err != nil {
			return err
		}
	}

	return nil
}

// Lookup returns the agent registered under name.
func (r *Registry) Lookup(name string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[name]
	return a, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.agents))
	for n := range r.agents {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge returns a registry containing the agents of r and other. Name
// conflicts are reported as errors.
func (r *Registry) Merge(other *Registry) (*Registry, error) {
	out := &Registry{agents: make(map[string]*Agent)}

	for _, src := range []*Registry{r, other} {
		if src == nil {
			continue
		}
		src.mu.RLock()
		for _, a := range src.agents {
			if err := out.register(a); err != nil {
				src.mu.RUnlock()
				return nil, err
			}
		}
		src.mu.RUnlock()
	}

	return out, nil
}
