package provider

import (
	"fmt"
	"sync"

	"github.com/parley-ai/parley/pkg/types"
)

// Registry holds configured providers keyed by id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds or replaces a provider under its own id.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get returns the provider for the id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider: unknown provider %q", id)
	}
	return p, nil
}

// FromConfig instantiates the adapter a ProviderConfig names.
func FromConfig(cfg types.ProviderConfig) (Provider, error) {
	switch cfg.ID {
	case "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	default:
		return nil, fmt.Errorf("provider: unknown provider %q", cfg.ID)
	}
}
