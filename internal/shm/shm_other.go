//go:build !linux

// File: internal/shm/shm_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shm

// Heap-backed fallback: processors share one address space anyway.
func platformMap(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func platformUnmap(mem []byte) error {
	return nil
}
