// File: pool/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BufferQueue wraps the sequence-slot ring with ownership transfer of buffer
// handles.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/internal/concurrency"
)

var queueTags atomic.Uint64

// BufferQueue is a bounded non-blocking FIFO of buffer handles.
type BufferQueue struct {
	tag  uint64
	ring *concurrency.RingBuffer[*api.Buffer]
}

// NewBufferQueue creates a queue of fixed capacity.
func NewBufferQueue(capacity int) *BufferQueue {
	return &BufferQueue{
		tag:  queueTags.Add(1),
		ring: concurrency.NewRingBuffer[*api.Buffer](capacity),
	}
}

// TryPush moves b into the queue. A full queue returns api.ErrQueueFull and
// leaves b with the caller.
func (q *BufferQueue) TryPush(b *api.Buffer) error {
	if b == nil {
		panic("pool: push of nil buffer handle")
	}
	b.Enqueue(q.tag)
	if !q.ring.Enqueue(b) {
		b.Dequeue(q.tag)
		return api.ErrQueueFull
	}
	return nil
}

// TryPop moves the oldest buffer out of the queue to the caller.
func (q *BufferQueue) TryPop() (*api.Buffer, bool) {
	b, ok := q.ring.Dequeue()
	if !ok {
		return nil, false
	}
	b.Dequeue(q.tag)
	return b, true
}

// Count returns the number of queued buffers.
func (q *BufferQueue) Count() int { return q.ring.Len() }

// Cap returns the fixed capacity.
func (q *BufferQueue) Cap() int { return q.ring.Cap() }

// Tag returns the owner tag buffers carry while queued here.
func (q *BufferQueue) Tag() uint64 { return q.tag }

// Drain pops everything, calling fn for each buffer.
func (q *BufferQueue) Drain(fn func(*api.Buffer)) int {
	n := 0
	for {
		b, ok := q.TryPop()
		if !ok {
			return n
		}
		fn(b)
		n++
	}
}
