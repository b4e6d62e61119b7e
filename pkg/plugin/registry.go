// Package plugin provides a registry of probability sources so the CLI and
// the streaming server can select a scorer by name ("silero", "energy",
// "fake") without importing it directly. Sources register from init
// functions; additional sources can be loaded at runtime on Linux with the
// plugindyn build tag.
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chriscow/rtvad/pkg/vad"
)

// Factory creates a probability source from configuration.
type Factory func(cfg map[string]any) (vad.ProbabilitySource, error)

// Downloader fetches model artifacts a source needs into dir.
type Downloader interface {
	Download(ctx context.Context, dir string) error
}

// Plugin is a registered source with its metadata.
type Plugin struct {
	Name        string         // e.g. "silero", "energy"
	Factory     Factory        // creates instances
	Description string         // human-readable description
	Version     string         // plugin version
	Config      map[string]any // configuration keys and their defaults
	Downloader  Downloader     // optional model downloader
}

// Registry manages source registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]*Plugin)}
}

var globalRegistry = NewRegistry()

// Register adds a source to the global registry.
// Panics if a source with the same name is already registered.
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// RegisterWithMetadata adds a source with metadata to the global registry.
// Panics if a source with the same name is already registered.
func RegisterWithMetadata(p *Plugin) {
	globalRegistry.RegisterWithMetadata(p)
}

// Get retrieves a factory from the global registry.
func Get(name string) (Factory, bool) {
	return globalRegistry.Get(name)
}

// Lookup returns the registered plugin with its metadata.
func Lookup(name string) (*Plugin, bool) {
	return globalRegistry.Lookup(name)
}

// List returns every registered plugin sorted by name.
func List() []*Plugin {
	return globalRegistry.List()
}

// NewSource creates a source from the global registry.
func NewSource(name string, cfg map[string]any) (vad.ProbabilitySource, error) {
	return globalRegistry.NewSource(name, cfg)
}

// Register adds a source to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.RegisterWithMetadata(&Plugin{Name: name, Factory: factory})
}

// RegisterWithMetadata adds a source with metadata to this registry.
// Panics if the name is empty, the factory is nil or the name is taken.
func (r *Registry) RegisterWithMetadata(p *Plugin) {
	if p.Name == "" {
		panic("plugin name cannot be empty")
	}
	if p.Factory == nil {
		panic("plugin factory cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, exists := r.plugins[p.Name]; exists {
		panic(fmt.Sprintf("plugin %s already registered (existing version: %s, new version: %s)",
			p.Name, existing.Version, p.Version))
	}
	r.plugins[p.Name] = p
}

// Get retrieves a factory from this registry.
func (r *Registry) Get(name string) (Factory, bool) {
	p, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	return p.Factory, true
}

// Lookup returns the registered plugin with its metadata.
func (r *Registry) Lookup(name string) (*Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// List returns every registered plugin sorted by name.
func (r *Registry) List() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plugins := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		plugins = append(plugins, p)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// NewSource creates a source by name. Unknown names wrap
// vad.ErrInvalidConfig; factory failures wrap vad.ErrResourceUnavailable.
func (r *Registry) NewSource(name string, cfg map[string]any) (vad.ProbabilitySource, error) {
	factory, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: unknown probability source %q", vad.ErrInvalidConfig, name)
	}
	src, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: source %s: %w", vad.ErrResourceUnavailable, name, err)
	}
	return src, nil
}

// Clear removes all plugins from this registry.
// This is primarily useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]*Plugin)
}
