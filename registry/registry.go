// File: registry/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package registry maps the LinkIDs owned by one processor to their links.
// The table is filled while the processor is brought up and read on every
// command afterwards, so lookups go through an immutable snapshot and never
// take a lock. Registration publishes a new snapshot.

package registry

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

type entry struct {
	link    api.Link
	retired bool
}

type table map[api.LinkID]entry

// Registry is the per-processor link table.
type Registry struct {
	proc api.ProcID

	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[table]
}

// New creates an empty registry for proc.
func New(proc api.ProcID) *Registry {
	r := &Registry{proc: proc}
	t := make(table)
	r.snap.Store(&t)
	return r
}

// Proc returns the owning processor.
func (r *Registry) Proc() api.ProcID { return r.proc }

// Register adds l. Registering an id twice, re-registering a retired id, or
// registering an id owned by another processor is a programming error and
// panics.
func (r *Registry) Register(l api.Link) {
	if l == nil {
		panic("registry: nil link")
	}
	id := l.ID()
	if id.Proc != r.proc {
		panic(fmt.Sprintf("registry: link %s registered on %s", id, r.proc))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.snap.Load()
	if e, ok := cur[id]; ok {
		if e.retired {
			panic(fmt.Sprintf("registry: link id %s was retired and cannot be reused", id))
		}
		panic(fmt.Sprintf("registry: link id %s registered twice", id))
	}
	next := make(table, len(cur)+1)
	for k, v := range cur {
		next[k] = v
	}
	next[id] = entry{link: l}
	r.snap.Store(&next)
}

// Lookup returns the live link registered under id.
func (r *Registry) Lookup(id api.LinkID) (api.Link, error) {
	e, ok := (*r.snap.Load())[id]
	if !ok {
		return nil, errors.New(api.ErrCodeNotFound, "link not registered").
			WithContext("link", id.String())
	}
	if e.retired {
		return nil, errors.New(api.ErrCodeTerminated, "link was deleted").
			WithContext("link", id.String())
	}
	return e.link, nil
}

// Retire marks id as deleted. The id stays reserved for the life of the
// registry.
func (r *Registry) Retire(id api.LinkID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur := *r.snap.Load()
	e, ok := cur[id]
	if !ok {
		return errors.New(api.ErrCodeNotFound, "link not registered").
			WithContext("link", id.String())
	}
	if e.retired {
		return nil
	}
	next := make(table, len(cur))
	for k, v := range cur {
		next[k] = v
	}
	next[id] = entry{link: e.link, retired: true}
	r.snap.Store(&next)
	return nil
}

// Links returns the live links ordered by index.
func (r *Registry) Links() []api.Link {
	cur := *r.snap.Load()
	out := make([]api.Link, 0, len(cur))
	for _, e := range cur {
		if !e.retired {
			out = append(out, e.link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID().Index < out[j].ID().Index })
	return out
}

// Len returns the number of live links.
func (r *Registry) Len() int {
	n := 0
	for _, e := range *r.snap.Load() {
		if !e.retired {
			n++
		}
	}
	return n
}
