// File: internal/concurrency/inbox.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inbox is the blocking FIFO a link worker receives its commands from.
// Producers never block; the single consumer parks on a condition variable
// until an item arrives or the inbox is closed.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// Inbox is an unbounded multi-producer, single-consumer FIFO.
type Inbox[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	q      *queue.Queue
	closed bool
}

// NewInbox creates an empty inbox.
func NewInbox[T any]() *Inbox[T] {
	in := &Inbox[T]{q: queue.New()}
	in.cond = sync.NewCond(&in.mu)
	return in
}

// Post appends v. It returns false once the inbox is closed.
func (in *Inbox[T]) Post(v T) bool {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return false
	}
	in.q.Add(v)
	in.mu.Unlock()
	in.cond.Signal()
	return true
}

// Take blocks until an item is available. ok is false when the inbox was
// closed and fully drained.
func (in *Inbox[T]) Take() (v T, ok bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for in.q.Length() == 0 {
		if in.closed {
			return v, false
		}
		in.cond.Wait()
	}
	return in.q.Remove().(T), true
}

// Len returns the number of queued items.
func (in *Inbox[T]) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.q.Length()
}

// Close rejects further posts and returns whatever was still queued.
func (in *Inbox[T]) Close() []T {
	in.mu.Lock()
	in.closed = true
	rest := make([]T, 0, in.q.Length())
	for in.q.Length() > 0 {
		rest = append(rest, in.q.Remove().(T))
	}
	in.mu.Unlock()
	in.cond.Broadcast()
	return rest
}
