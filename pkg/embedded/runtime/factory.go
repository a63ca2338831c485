package runtime

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultNodeFactory is the default EmbeddedNodeFactory.
type DefaultNodeFactory struct {
	mu       sync.RWMutex
	creators map[string]NodeCreator
}

// NewDefaultNodeFactory creates an empty factory.
func NewDefaultNodeFactory() *DefaultNodeFactory {
	return &DefaultNodeFactory{creators: make(map[string]NodeCreator)}
}

// Create creates an embedded node from its configuration.
func (f *DefaultNodeFactory) Create(config EmbeddedNodeConfig) (EmbeddedNode, error) {
	f.mu.RLock()
	creator, ok := f.creators[config.PluginType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoExecutor, config.PluginType)
	}
	return creator(config)
}

// Register registers a creator function for a plugin type.
func (f *DefaultNodeFactory) Register(pluginType string, creator NodeCreator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[pluginType] = creator
}

// HasCreator checks if a creator exists for a plugin type.
func (f *DefaultNodeFactory) HasCreator(pluginType string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.creators[pluginType]
	return ok
}

// RegisteredTypes returns all registered plugin types, sorted.
func (f *DefaultNodeFactory) RegisteredTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

var _ EmbeddedNodeFactory = (*DefaultNodeFactory)(nil)
