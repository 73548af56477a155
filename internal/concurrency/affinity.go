// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-platform CPU affinity for processor goroutines. Platform-specific
// implementations live in affinity_linux.go and affinity_other.go.

package concurrency

import (
	"fmt"
	"runtime"
)

// ThreadPin is a goroutine locked to its OS thread, possibly with a narrowed
// CPU mask. Release must run on the pinned goroutine.
type ThreadPin struct {
	restore  func() error
	released bool
}

// PinCurrentThread locks the calling goroutine to its OS thread and restricts
// the thread to cpus. An empty set only locks the thread.
func PinCurrentThread(cpus []int) (*ThreadPin, error) {
	runtime.LockOSThread()
	p := &ThreadPin{}
	if len(cpus) == 0 {
		return p, nil
	}
	for _, c := range cpus {
		if c < 0 || c >= runtime.NumCPU() {
			runtime.UnlockOSThread()
			return nil, fmt.Errorf("concurrency: cpu %d out of range [0,%d)", c, runtime.NumCPU())
		}
	}
	restore, err := platformSetAffinity(cpus)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	p.restore = restore
	return p, nil
}

// Release puts back the thread's previous CPU mask and unlocks it. When the
// mask cannot be restored the thread stays locked, so the runtime discards
// it once the goroutine exits instead of reusing it.
func (p *ThreadPin) Release() error {
	if p == nil || p.released {
		return nil
	}
	p.released = true
	if p.restore != nil {
		if err := p.restore(); err != nil {
			return err
		}
	}
	runtime.UnlockOSThread()
	return nil
}

// NumCPUs returns the number of logical CPUs.
func NumCPUs() int {
	return runtime.NumCPU()
}
