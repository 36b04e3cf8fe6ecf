// Package plugin defines the extension contract: a plugin contributes
// endpoints, error codes, and schema extensions, collected once at startup
// into immutable tables the dispatcher routes from.
package plugin

import (
	"errors"
	"fmt"

	"github.com/lmarrec/gatehouse/adapter"
	"github.com/lmarrec/gatehouse/core"
)

var (
	ErrDuplicatePlugin  = errors.New("plugin id already registered")
	ErrEndpointConflict = errors.New("endpoint conflict")
)

// Plugin is the extension contract. All methods are read once, at startup;
// returned values must not change afterwards.
type Plugin interface {
	// ID uniquely names the plugin. Registering two plugins with the same
	// id is a startup error.
	ID() string

	// Schema declares extra models and extra fields on core models. Merged
	// into the engine schema before the adapter is built.
	Schema() adapter.Schema

	// Endpoints contributes route descriptors relative to the base path.
	Endpoints() []core.Endpoint

	// ErrorCodes contributes machine-readable codes to the flat shared
	// namespace. On collision the later-registered plugin wins.
	ErrorCodes() map[string]string
}

// Initializer is implemented by plugins that need startup access to the
// adapter, typically to register lifecycle hooks.
type Initializer interface {
	Init(db *adapter.Adapter) error
}

// Registry accumulates plugins before the engine builds its route table.
type Registry struct {
	plugins []Plugin
	ids     map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{ids: make(map[string]bool)}
}

func (r *Registry) Register(p Plugin) error {
	if r.ids[p.ID()] {
		return fmt.Errorf("%w: %q", ErrDuplicatePlugin, p.ID())
	}
	r.ids[p.ID()] = true
	r.plugins = append(r.plugins, p)
	return nil
}

func (r *Registry) Plugins() []Plugin { return r.plugins }

// Table is the immutable result of merging the core surface with every
// registered plugin. Built once; the dispatcher never consults the registry
// again after startup.
type Table struct {
	Schema     adapter.Schema
	Endpoints  []core.Endpoint
	ErrorCodes map[string]string
}

// Build merges schema, endpoints, and error codes in registration order.
// Endpoint conflicts (same method and path) are a hard startup error; error
// code collisions resolve last-wins.
func (r *Registry) Build(baseSchema adapter.Schema, baseEndpoints []core.Endpoint, baseCodes map[string]string) (*Table, error) {
	t := &Table{
		Schema:     baseSchema.Clone(),
		Endpoints:  append([]core.Endpoint(nil), baseEndpoints...),
		ErrorCodes: make(map[string]string, len(baseCodes)),
	}
	for code, msg := range baseCodes {
		t.ErrorCodes[code] = msg
	}

	seen := make(map[string]string, len(t.Endpoints)) // method+path -> owner
	for _, ep := range t.Endpoints {
		seen[ep.Method+" "+ep.Path] = "core"
	}

	for _, p := range r.plugins {
		if ext := p.Schema(); ext != nil {
			t.Schema = t.Schema.Merge(ext)
		}
		for _, ep := range p.Endpoints() {
			key := ep.Method + " " + ep.Path
			if owner, exists := seen[key]; exists {
				return nil, fmt.Errorf("%w: %s %s claimed by %s and %s",
					ErrEndpointConflict, ep.Method, ep.Path, owner, p.ID())
			}
			seen[key] = p.ID()
			t.Endpoints = append(t.Endpoints, ep)
		}
		for code, msg := range p.ErrorCodes() {
			t.ErrorCodes[code] = msg
		}
	}
	return t, nil
}

// InitAll runs Init on every plugin that wants the adapter.
func (r *Registry) InitAll(db *adapter.Adapter) error {
	for _, p := range r.plugins {
		init, ok := p.(Initializer)
		if !ok {
			continue
		}
		if err := init.Init(db); err != nil {
			return fmt.Errorf("plugin %q init failed: %w", p.ID(), err)
		}
	}
	return nil
}
