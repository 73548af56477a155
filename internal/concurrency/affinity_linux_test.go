//go:build linux

package concurrency

import (
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
)

func TestReleaseRestoresAffinityMask(t *testing.T) {
	// Hold our own lock so the checks after Release still see the same thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var before unix.CPUSet
	if err := unix.SchedGetaffinity(0, &before); err != nil {
		t.Skipf("sched_getaffinity: %v", err)
	}
	target := -1
	for c := 0; c < runtime.NumCPU(); c++ {
		if before.IsSet(c) {
			target = c
			break
		}
	}
	if target < 0 {
		t.Skip("no usable cpu in the current mask")
	}

	pin, err := PinCurrentThread([]int{target})
	if err != nil {
		t.Fatal(err)
	}
	var during unix.CPUSet
	if err := unix.SchedGetaffinity(0, &during); err != nil {
		t.Fatal(err)
	}
	if during.Count() != 1 || !during.IsSet(target) {
		t.Fatalf("pinned mask has %d cpus, cpu %d set=%v", during.Count(), target, during.IsSet(target))
	}

	if err := pin.Release(); err != nil {
		t.Fatal(err)
	}
	var after unix.CPUSet
	if err := unix.SchedGetaffinity(0, &after); err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Errorf("mask after release has %d cpus, want %d", after.Count(), before.Count())
	}
	if err := pin.Release(); err != nil {
		t.Errorf("second release: %v", err)
	}
}

func TestPinRejectsUnknownCPU(t *testing.T) {
	if _, err := PinCurrentThread([]int{runtime.NumCPU()}); err == nil {
		t.Fatal("pinned to a cpu past NumCPU")
	}
}
