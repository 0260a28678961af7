package provisioner

import (
	"fmt"
	"sync"

	"github.com/stately-io/stately/provisioners/noop"
)

// Registry manages the lifecycle of provisioners.
type Registry struct {
	mu           sync.RWMutex
	provisioners map[string]Provisioner
}

func NewRegistry() *Registry {
	return &Registry{
		provisioners: make(map[string]Provisioner),
	}
}

// Load initializes and registers a built-in provisioner. External
// provisioners would be loaded as plugins here.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.provisioners[name]; exists {
		return nil
	}

	var p Provisioner
	switch name {
	case "noop":
		p = noop.New()
	default:
		return fmt.Errorf("unknown provisioner: %s", name)
	}

	r.provisioners[name] = p
	return nil
}

// Register adds a caller-supplied provisioner under name, replacing any
// existing registration.
func (r *Registry) Register(name string, p Provisioner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.provisioners[name] = p
}

// Get returns a registered provisioner.
func (r *Registry) Get(name string) (Provisioner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.provisioners[name]
	if !ok {
		return nil, fmt.Errorf("provisioner not loaded: %s", name)
	}
	return p, nil
}
