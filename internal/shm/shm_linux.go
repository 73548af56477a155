//go:build linux

// File: internal/shm/shm_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package shm

import "golang.org/x/sys/unix"

func platformMap(size int) ([]byte, bool, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, false, err
	}
	return mem, true, nil
}

func platformUnmap(mem []byte) error {
	return unix.Munmap(mem)
}
