// Package api
// Author: momentics@gmail.com
//
// CPU affinity contract for processor goroutines.

package api

// Affinity pins the calling goroutine's OS thread to a CPU set.
type Affinity interface {
	// Pin locks the current goroutine to its thread and restricts it to cpus.
	Pin(cpus []int) error
	// Unpin releases the thread lock.
	Unpin() error
}
