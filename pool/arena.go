// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Arena hands out payload memory from one shared region. It is sized once
// at link create; running out is a sizing defect, not a runtime condition.

package pool

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-link/internal/shm"
)

const arenaAlign = 64

// Arena is a bump allocator over a shared memory region.
type Arena struct {
	mu     sync.Mutex
	region *shm.Region
	off    int
}

// NewArena maps size bytes (rounded up to the alignment).
func NewArena(size int) (*Arena, error) {
	region, err := shm.Map(alignUp(size))
	if err != nil {
		return nil, err
	}
	return &Arena{region: region}, nil
}

// ArenaSize returns the arena size needed for count allocations of n bytes.
func ArenaSize(n, count int) int {
	return alignUp(n) * count
}

// Alloc returns n zeroed bytes. Exhaustion panics.
func (a *Arena) Alloc(n int) []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.region == nil {
		panic("pool: alloc from closed arena")
	}
	size := alignUp(n)
	if a.off+size > a.region.Len() {
		panic(fmt.Sprintf("pool: arena exhausted (need %d, used %d of %d)", size, a.off, a.region.Len()))
	}
	mem := a.region.Bytes()[a.off : a.off+n : a.off+n]
	a.off += size
	return mem
}

// Used returns allocated bytes.
func (a *Arena) Used() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.off
}

// Size returns the region size.
func (a *Arena) Size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.region == nil {
		return 0
	}
	return a.region.Len()
}

// Close unmaps the region. Slices handed out must no longer be referenced.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.region == nil {
		return nil
	}
	err := a.region.Unmap()
	a.region = nil
	a.off = 0
	return err
}

func alignUp(n int) int {
	if n <= 0 {
		return arenaAlign
	}
	return (n + arenaAlign - 1) &^ (arenaAlign - 1)
}
