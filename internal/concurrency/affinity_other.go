//go:build !linux

// File: internal/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

// platformSetAffinity is a no-op where thread affinity is not exposed;
// the goroutine stays locked to its thread.
func platformSetAffinity(cpus []int) (func() error, error) {
	return nil, nil
}
