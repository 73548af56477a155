// File: ipc/fabric.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fabric is everything processors share for messaging: the mapped slot
// region, the doorbell lines and the per-destination event sets.

package ipc

import (
	"sync"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/internal/shm"
)

// eventSet collects NEW_DATA targets on one destination processor. armed
// is set while an event doorbell is outstanding.
type eventSet struct {
	mu      sync.Mutex
	pending map[api.LinkID]struct{}
	order   []api.LinkID
	armed   bool
}

// add records id and reports whether the caller must ring the doorbell.
func (e *eventSet) add(id api.LinkID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.pending[id]; !ok {
		e.pending[id] = struct{}{}
		e.order = append(e.order, id)
	}
	if e.armed {
		return false
	}
	e.armed = true
	return true
}

// take empties the set and disarms it.
func (e *eventSet) take() []api.LinkID {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.order
	e.order = nil
	clear(e.pending)
	e.armed = false
	return out
}

// disarm clears the outstanding flag after a failed ring.
func (e *eventSet) disarm() {
	e.mu.Lock()
	e.armed = false
	e.mu.Unlock()
}

// Fabric is the shared messaging state of one system.
type Fabric struct {
	notify *Notify
	region *shm.Region
	slots  map[api.ProcID]slot
	events map[api.ProcID]*eventSet
}

// NewFabric maps one message slot per processor and wires doorbell lines.
func NewFabric(procs []api.ProcID) (*Fabric, error) {
	if len(procs) == 0 {
		return nil, errors.New(api.ErrCodeInvalidParams, "fabric needs at least one processor")
	}
	n, err := NewNotify(procs)
	if err != nil {
		return nil, err
	}
	region, err := shm.Map(SlotSize * len(procs))
	if err != nil {
		return nil, errors.Wrap(err, api.ErrCodeFail, "map message slots")
	}
	f := &Fabric{
		notify: n,
		region: region,
		slots:  make(map[api.ProcID]slot, len(procs)),
		events: make(map[api.ProcID]*eventSet, len(procs)),
	}
	mem := region.Bytes()
	for i, p := range procs {
		f.slots[p] = slot(mem[i*SlotSize : (i+1)*SlotSize : (i+1)*SlotSize])
		f.events[p] = &eventSet{pending: make(map[api.LinkID]struct{})}
	}
	return f, nil
}

// Notify returns the doorbell fabric.
func (f *Fabric) Notify() *Notify { return f.notify }

// Procs returns the connected processors.
func (f *Fabric) Procs() []api.ProcID { return f.notify.Procs() }

// Has reports whether proc is part of the fabric.
func (f *Fabric) Has(proc api.ProcID) bool {
	_, ok := f.slots[proc]
	return ok
}

// Close unmaps the slot region. Channels must be closed first.
func (f *Fabric) Close() error {
	return f.region.Unmap()
}
