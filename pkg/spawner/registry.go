package spawner

import (
	"fmt"
	"sort"
	"sync"

	"workbench/pkg/config"
)

// Factory builds a spawner for one provider from the global configuration
// and the persistence hook for provider handles.
type Factory func(cfg *config.Config, store ConfigStore) (Spawner, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register adds a provider factory under a configuration name. Called at
// startup before New; duplicate names panic because they indicate miswired
// initialization, not runtime input.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("spawner: provider %q registered twice", name))
	}
	registry[name] = factory
}

// New creates the spawner selected by the configuration string.
func New(name string, cfg *config.Config, store ConfigStore) (Spawner, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported spawner provider type: %s (registered: %v)", name, Names())
	}
	return factory(cfg, store)
}

// Names lists registered provider names, sorted for stable error output
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
