// File: adapters/affinity_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
// Description:
//   Adapter implementing the api.Affinity interface, delegating to
//   internal concurrency primitives for CPU pinning.
//
// Package adapters provides glue code between the core API contracts
// and the internal implementation.

package adapters

import (
	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/internal/concurrency"
)

// AffinityAdapter implements api.Affinity using internal concurrency functions.
// One adapter belongs to one goroutine; it is not safe for concurrent use.
type AffinityAdapter struct {
	cpus []int
	pin  *concurrency.ThreadPin
}

// NewAffinityAdapter creates an unpinned adapter.
func NewAffinityAdapter() *AffinityAdapter {
	return &AffinityAdapter{}
}

var _ api.Affinity = (*AffinityAdapter)(nil)

// Pin binds the calling goroutine's thread to cpus.
func (a *AffinityAdapter) Pin(cpus []int) error {
	if a.pin != nil {
		if err := a.Unpin(); err != nil {
			return err
		}
	}
	pin, err := concurrency.PinCurrentThread(cpus)
	if err != nil {
		return err
	}
	a.pin = pin
	a.cpus = append(a.cpus[:0], cpus...)
	return nil
}

// Unpin restores the thread's previous CPU mask and releases the lock. If
// the mask cannot be restored the thread stays locked and is discarded when
// the goroutine exits.
func (a *AffinityAdapter) Unpin() error {
	pin := a.pin
	a.pin = nil
	a.cpus = a.cpus[:0]
	return pin.Release()
}

// Pinned reports the current binding.
func (a *AffinityAdapter) Pinned() ([]int, bool) {
	return append([]int(nil), a.cpus...), a.pin != nil
}
