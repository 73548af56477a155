// File: links/catalog.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package links gathers the concrete link kinds behind one name lookup so a
// topology file can refer to them by kind.

package links

import (
	"sort"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/link"
	"github.com/momentics/hioload-link/links/algorithm"
	"github.com/momentics/hioload-link/links/dup"
	"github.com/momentics/hioload-link/links/merge"
	"github.com/momentics/hioload-link/links/sink"
	"github.com/momentics/hioload-link/links/source"
	"github.com/momentics/hioload-link/plugin"
)

// Link kinds.
const (
	KindSource    = "source"
	KindSink      = "sink"
	KindAlgorithm = "algorithm"
	KindDup       = "dup"
	KindMerge     = "merge"
)

// Catalog maps kind names to stage builders.
type Catalog struct {
	Plugins  *plugin.Registry
	builders map[string]link.BuildFunc
}

// NewCatalog returns the built-in kinds. A nil plugins uses plugin.Default.
func NewCatalog(plugins *plugin.Registry) *Catalog {
	if plugins == nil {
		plugins = plugin.Default
	}
	return &Catalog{
		Plugins: plugins,
		builders: map[string]link.BuildFunc{
			KindSource:    source.New,
			KindSink:      sink.New,
			KindAlgorithm: algorithm.Builder(plugins),
			KindDup:       dup.New,
			KindMerge:     merge.New,
		},
	}
}

// Add registers an extra kind, replacing any previous one of that name.
func (c *Catalog) Add(kind string, build link.BuildFunc) {
	c.builders[kind] = build
}

// Kinds lists the known kinds, sorted.
func (c *Catalog) Kinds() []string {
	out := make([]string, 0, len(c.builders))
	for k := range c.builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Builder returns the builder of kind.
func (c *Catalog) Builder(kind string) (link.BuildFunc, error) {
	b, ok := c.builders[kind]
	if !ok {
		return nil, errors.New(api.ErrCodeInvalidParams, "unknown link kind").
			WithContext("kind", kind)
	}
	return b, nil
}
