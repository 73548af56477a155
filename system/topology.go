// File: system/topology.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Pipeline topology files. Links are created in file order, so producers are
// listed before their consumers. Inside link params a string "@name" stands
// for the packed LinkID of the link called name.

package system

import (
	"os"
	"strings"

	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/links"
)

// ProcessorSpec declares one processor core.
type ProcessorSpec struct {
	ID   uint8  `yaml:"id"`
	Name string `yaml:"name"`
	CPUs []int  `yaml:"cpus,omitempty"`
}

// LinkSpec declares one link.
type LinkSpec struct {
	Name   string         `yaml:"name"`
	Kind   string         `yaml:"kind"`
	Proc   uint8          `yaml:"proc"`
	Index  uint16         `yaml:"index"`
	Params map[string]any `yaml:"params,omitempty"`
}

// ID returns the link's address.
func (l LinkSpec) ID() api.LinkID { return api.NewLinkID(api.ProcID(l.Proc), l.Index) }

// Topology is the whole pipeline.
type Topology struct {
	Processors []ProcessorSpec `yaml:"processors"`
	Links      []LinkSpec      `yaml:"links"`
}

// LoadTopology reads and parses a YAML topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, api.ErrCodeInvalidParams, "read topology").
			WithContext("path", path)
	}
	t, err := ParseTopology(data)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorCode(api.CodeOf(err)), "parse topology").
			WithContext("path", path)
	}
	return t, nil
}

// ParseTopology decodes a YAML topology document.
func ParseTopology(data []byte) (*Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(err, api.ErrCodeInvalidParams, "decode topology")
	}
	return &t, nil
}

// Validate checks the topology against the kinds known to cat.
func (t *Topology) Validate(cat *links.Catalog) error {
	if len(t.Processors) == 0 {
		return api.InvalidParams("topology declares no processors")
	}
	procs := make(map[uint8]bool, len(t.Processors))
	for _, p := range t.Processors {
		if int(p.ID) >= api.MaxProcessors {
			return errors.New(api.ErrCodeInvalidParams, "processor id out of range").
				WithContext("proc", p.ID)
		}
		if procs[p.ID] {
			return errors.New(api.ErrCodeInvalidParams, "duplicate processor").
				WithContext("proc", p.ID)
		}
		procs[p.ID] = true
	}
	names := make(map[string]bool, len(t.Links))
	ids := make(map[api.LinkID]bool, len(t.Links))
	for _, l := range t.Links {
		if l.Name == "" {
			return errors.New(api.ErrCodeInvalidParams, "link without name").
				WithContext("id", l.ID().String())
		}
		if names[l.Name] {
			return errors.New(api.ErrCodeInvalidParams, "duplicate link name").
				WithContext("link", l.Name)
		}
		names[l.Name] = true
		if !procs[l.Proc] {
			return errors.New(api.ErrCodeInvalidParams, "link placed on undeclared processor").
				WithContext("link", l.Name).
				WithContext("proc", l.Proc)
		}
		if ids[l.ID()] {
			return errors.New(api.ErrCodeInvalidParams, "duplicate link id").
				WithContext("link", l.Name).
				WithContext("id", l.ID().String())
		}
		ids[l.ID()] = true
		if _, err := cat.Builder(l.Kind); err != nil {
			return errors.Wrap(err, api.ErrCodeInvalidParams, "bad link kind").
				WithContext("link", l.Name)
		}
	}
	for _, l := range t.Links {
		if _, err := t.CreateParams(l); err != nil {
			return err
		}
	}
	return nil
}

// CreateParams returns the CREATE param blob of l with "@name" references
// replaced by link ids.
func (t *Topology) CreateParams(l LinkSpec) ([]byte, error) {
	if len(l.Params) == 0 {
		return nil, nil
	}
	resolved, err := t.resolveRefs(l.Params)
	if err != nil {
		return nil, errors.Wrap(err, api.ErrCodeInvalidParams, "resolve link params").
			WithContext("link", l.Name)
	}
	b, err := api.EncodeParams(resolved)
	if err != nil {
		return nil, errors.Wrap(err, api.ErrCodeInvalidParams, "encode link params").
			WithContext("link", l.Name)
	}
	return b, nil
}

func (t *Topology) resolveRefs(v any) (any, error) {
	switch x := v.(type) {
	case string:
		if !strings.HasPrefix(x, "@") {
			return x, nil
		}
		for _, l := range t.Links {
			if l.Name == x[1:] {
				return l.ID().Uint32(), nil
			}
		}
		return nil, errors.New(api.ErrCodeInvalidParams, "reference to unknown link").
			WithContext("ref", x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			r, err := t.resolveRefs(e)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			r, err := t.resolveRefs(e)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	return v, nil
}

// Link returns the declaration of the link named name.
func (t *Topology) Link(name string) (LinkSpec, bool) {
	for _, l := range t.Links {
		if l.Name == name {
			return l, true
		}
	}
	return LinkSpec{}, false
}
