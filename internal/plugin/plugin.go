// Package plugin defines the contract between the engine and content generators.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Nixie-Tech-LLC/inkframe/internal/model"
)

// Image is the raw output of a generator.
type Image struct {
	Data        []byte
	ContentType string
}

// Generator renders images for one plugin. Implementations are untrusted:
// they may be slow, fail or panic.
type Generator interface {
	ValidateSettings(settings model.Settings) error
	GenerateImage(ctx context.Context, settings model.Settings) (Image, error)
}

// CacheKeyer lets a generator add its own component to the cache fingerprint.
type CacheKeyer interface {
	CacheKey(settings model.Settings) string
}

// CacheTTLer declares how long a rendered image stays fresh.
type CacheTTLer interface {
	CacheTTL(settings model.Settings) time.Duration
}

// Lifecycle hooks run when an instance of the plugin is enabled or disabled.
type Lifecycle interface {
	OnEnable(ctx context.Context, inst model.PluginInstance) error
	OnDisable(ctx context.Context, inst model.PluginInstance) error
}

// Capabilities is resolved once at registration so callers never type-assert.
type Capabilities struct {
	CacheKey  bool `json:"cache_key"`
	CacheTTL  bool `json:"cache_ttl"`
	Lifecycle bool `json:"lifecycle"`
}

// ValidationError reports settings rejected by a generator.
type ValidationError struct {
	PluginID string
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("plugin %s: invalid settings: %v", e.PluginID, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

var (
	ErrUnknownPlugin   = errors.New("unknown plugin")
	ErrDuplicatePlugin = errors.New("plugin already registered")
)

// Plugin is a registered generator together with its capabilities.
type Plugin struct {
	ID           string
	Generator    Generator
	Capabilities Capabilities
}

// CacheKey returns the generator's cache key component, or "".
func (p Plugin) CacheKey(settings model.Settings) string {
	if !p.Capabilities.CacheKey {
		return ""
	}
	return p.Generator.(CacheKeyer).CacheKey(settings)
}

// CacheTTL returns the declared freshness, or 0 when none is declared.
func (p Plugin) CacheTTL(settings model.Settings) time.Duration {
	if !p.Capabilities.CacheTTL {
		return 0
	}
	return p.Generator.(CacheTTLer).CacheTTL(settings)
}

// Validate runs the generator's settings validation and wraps failures.
func (p Plugin) Validate(settings model.Settings) error {
	if err := p.Generator.ValidateSettings(settings); err != nil {
		return &ValidationError{PluginID: p.ID, Err: err}
	}
	return nil
}

func (p Plugin) Enable(ctx context.Context, inst model.PluginInstance) error {
	if !p.Capabilities.Lifecycle {
		return nil
	}
	return p.Generator.(Lifecycle).OnEnable(ctx, inst)
}

func (p Plugin) Disable(ctx context.Context, inst model.PluginInstance) error {
	if !p.Capabilities.Lifecycle {
		return nil
	}
	return p.Generator.(Lifecycle).OnDisable(ctx, inst)
}

// Registry maps plugin ids to generators. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

func NewRegistry() *Registry {
	return &Registry{plugins: make(map[string]Plugin)}
}

// Register adds a generator under id.
func (r *Registry) Register(id string, gen Generator) error {
	if id == "" || gen == nil {
		return fmt.Errorf("register plugin %q: id and generator are required", id)
	}

	_, keyer := gen.(CacheKeyer)
	_, ttler := gen.(CacheTTLer)
	_, lifecycle := gen.(Lifecycle)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicatePlugin, id)
	}
	r.plugins[id] = Plugin{
		ID:        id,
		Generator: gen,
		Capabilities: Capabilities{
			CacheKey:  keyer,
			CacheTTL:  ttler,
			Lifecycle: lifecycle,
		},
	}
	return nil
}

// Lookup returns the plugin registered under id.
func (r *Registry) Lookup(id string) (Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[id]
	if !ok {
		return Plugin{}, fmt.Errorf("%w: %s", ErrUnknownPlugin, id)
	}
	return p, nil
}

// List returns every registered plugin sorted by id.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
