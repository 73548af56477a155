// Package api
// Author: momentics@gmail.com
//
// Bounded FIFO contract behind buffer queues.

package api

// Ring is a fixed-capacity FIFO. It never blocks and never grows; a full ring
// rejects the item and leaves ownership with the caller.
type Ring[T any] interface {
	Enqueue(item T) bool
	Dequeue() (T, bool)
	Len() int
	Cap() int
}
