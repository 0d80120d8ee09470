package secret

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ProviderFactory builds a Provider from its configuration block.
type ProviderFactory func(cfg map[string]any) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
}

// NewRegistry creates a registry holding the built-in env and file factories.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]ProviderFactory)}
	r.factories["env"] = func(map[string]any) (Provider, error) {
		return NewEnvProvider(), nil
	}
	r.factories["file"] = func(cfg map[string]any) (Provider, error) {
		root, _ := cfg["root"].(string)
		return NewFileProvider(root), nil
	}
	return r
}

// Register adds a factory. Names are unique.
func (r *Registry) Register(name string, factory ProviderFactory) error {
	name = strings.TrimSpace(name)
	if name == "" || factory == nil {
		return fmt.Errorf("secret: invalid provider registration %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("secret: provider %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create builds the named provider.
func (r *Registry) Create(name string, cfg map[string]any) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.TrimSpace(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownProvider, name)
	}
	return factory(cfg)
}

// List returns the registered names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NewResolverFromConfig builds a resolver with one provider per entry of cfg,
// keyed by provider name.
func (r *Registry) NewResolverFromConfig(strict bool, cfg map[string]map[string]any) (*Resolver, error) {
	res := NewResolver(strict)
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		p, err := r.Create(name, cfg[name])
		if err != nil {
			_ = res.Close()
			return nil, err
		}
		res.Register(p)
	}
	return res, nil
}
