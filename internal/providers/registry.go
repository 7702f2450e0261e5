package providers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/llm-relay/relay/pkg/utils"
)

// Registry holds the configured provider clients, keyed by provider id
type Registry struct {
	mu      sync.RWMutex
	clients map[string]Client
	logger  *utils.Logger
}

// NewRegistry creates an empty provider registry
func NewRegistry(logger *utils.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		logger:  logger,
	}
}

// Register adds a provider client to the registry
func (r *Registry) Register(client Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := client.Name()
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if _, exists := r.clients[name]; exists {
		return fmt.Errorf("provider %s already registered", name)
	}

	r.clients[name] = client
	r.logger.WithProvider(name).Info("Provider registered")
	return nil
}

// Get returns a provider client by id
func (r *Registry) Get(name string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	client, exists := r.clients[name]
	if !exists {
		return nil, fmt.Errorf("provider %s not found", name)
	}
	return client, nil
}

// Names returns the registered provider ids in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
