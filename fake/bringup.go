// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"context"
	"sync"

	"github.com/momentics/hioload-link/api"
)

// Bringup is a fake api.HardwareBringup.
type Bringup struct {
	mu      sync.Mutex
	started map[api.ProcID]int
	fail    map[api.ProcID]error
}

var _ api.HardwareBringup = (*Bringup)(nil)

// NewBringup creates a bring-up that succeeds for every processor.
func NewBringup() *Bringup {
	return &Bringup{started: make(map[api.ProcID]int), fail: make(map[api.ProcID]error)}
}

// EnsureCoreStarted implements api.HardwareBringup.
func (b *Bringup) EnsureCoreStarted(ctx context.Context, proc api.ProcID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail[proc]; err != nil {
		return err
	}
	b.started[proc]++
	return nil
}

// Started returns how often proc was brought up.
func (b *Bringup) Started(proc api.ProcID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started[proc]
}

// FailOn makes bring-up of proc fail with err.
func (b *Bringup) FailOn(proc api.ProcID, err error) {
	b.mu.Lock()
	b.fail[proc] = err
	b.mu.Unlock()
}
