// File: internal/shm/shm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package shm maps the shared memory regions that processors exchange
// message slots and buffer payloads through.
package shm

import "fmt"

// Region is a mapped, zero-initialized memory region.
type Region struct {
	mem    []byte
	mapped bool
}

// Map reserves size bytes of shared memory.
func Map(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("shm: invalid region size %d", size)
	}
	mem, mapped, err := platformMap(size)
	if err != nil {
		return nil, fmt.Errorf("shm: map %d bytes: %w", size, err)
	}
	return &Region{mem: mem, mapped: mapped}, nil
}

// Bytes returns the whole region.
func (r *Region) Bytes() []byte { return r.mem }

// Len returns the region size in bytes.
func (r *Region) Len() int { return len(r.mem) }

// Unmap releases the region. The region must not be used afterwards.
func (r *Region) Unmap() error {
	if r.mem == nil {
		return nil
	}
	var err error
	if r.mapped {
		err = platformUnmap(r.mem)
	}
	r.mem = nil
	return err
}
