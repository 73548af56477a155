// File: plugin/plugin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package plugin keeps the named algorithm plugins an algorithm link can
// wrap. The framework only sequences the plugin calls; what a plugin does
// with the pixels is its own business.

package plugin

import (
	"sort"
	"sync"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

// Factory creates a plugin instance.
type Factory func() api.AlgorithmPlugin

// Registry maps plugin names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Default holds the built-in plugins.
var Default = func() *Registry {
	r := NewRegistry()
	r.Register("passthrough", func() api.AlgorithmPlugin { return &Passthrough{} })
	r.Register("invert", func() api.AlgorithmPlugin { return &Invert{} })
	return r
}()

// Register adds f under name, replacing any previous factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New instantiates the plugin registered as name.
func (r *Registry) New(name string) (api.AlgorithmPlugin, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.New(api.ErrCodeInvalidParams, "unknown algorithm plugin").
			WithContext("plugin", name)
	}
	return f(), nil
}

// Names lists registered plugins.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
