//go:build linux

package adapters_test

import (
	"runtime"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-link/adapters"
)

func TestAffinityAdapterUnpinRestoresMask(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var before unix.CPUSet
	if err := unix.SchedGetaffinity(0, &before); err != nil {
		t.Skipf("sched_getaffinity: %v", err)
	}
	cpu := -1
	for c := 0; c < runtime.NumCPU(); c++ {
		if before.IsSet(c) {
			cpu = c
			break
		}
	}
	if cpu < 0 {
		t.Skip("no usable cpu in the current mask")
	}

	a := adapters.NewAffinityAdapter()
	if err := a.Pin([]int{cpu}); err != nil {
		t.Fatal(err)
	}
	if cpus, ok := a.Pinned(); !ok || len(cpus) != 1 || cpus[0] != cpu {
		t.Fatalf("pinned %v %v", cpus, ok)
	}
	if err := a.Unpin(); err != nil {
		t.Fatal(err)
	}
	var after unix.CPUSet
	if err := unix.SchedGetaffinity(0, &after); err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("mask after unpin has %d cpus, want %d", after.Count(), before.Count())
	}
	if _, ok := a.Pinned(); ok {
		t.Error("adapter still reports a binding")
	}
}
