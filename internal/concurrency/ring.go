// File: internal/concurrency/ring.go
// Package concurrency implements lock-free ring buffers.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a bounded sequence-slot queue: every slot carries a sequence
// number telling producers and consumers whether it is free or filled, so any
// number of goroutines may enqueue and dequeue without a lock. Cursors live on
// separate cache lines.

package concurrency

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-link/api"
)

// Ensure compile-time interface compliance.
var _ api.Ring[any] = (*RingBuffer[any])(nil)

type slot[T any] struct {
	seq atomic.Uint64
	val T
}

// RingBuffer is a fixed-capacity MPMC ring. Capacity need not be a power of two.
type RingBuffer[T any] struct {
	_     cpu.CacheLinePad
	head  atomic.Uint64
	_     cpu.CacheLinePad
	tail  atomic.Uint64
	_     cpu.CacheLinePad
	slots []slot[T]
	size  uint64
}

// NewRingBuffer allocates a ring holding at most size items.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size <= 0 {
		panic("concurrency: ring size must be positive")
	}
	r := &RingBuffer[T]{
		slots: make([]slot[T], size),
		size:  uint64(size),
	}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// Enqueue adds item; returns false if full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	for {
		pos := r.tail.Load()
		s := &r.slots[pos%r.size]
		seq := s.seq.Load()
		switch diff := int64(seq) - int64(pos); {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				s.val = item
				s.seq.Store(pos + 1)
				return true
			}
		case diff < 0:
			return false
		}
	}
}

// Dequeue removes and returns item; ok false if empty.
func (r *RingBuffer[T]) Dequeue() (item T, ok bool) {
	for {
		pos := r.head.Load()
		s := &r.slots[pos%r.size]
		seq := s.seq.Load()
		switch diff := int64(seq) - int64(pos+1); {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				item = s.val
				var zero T
				s.val = zero
				s.seq.Store(pos + r.size)
				return item, true
			}
		case diff < 0:
			return item, false
		}
	}
}

// Len returns number of items currently in buffer.
func (r *RingBuffer[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail <= head {
		return 0
	}
	n := tail - head
	if n > r.size {
		n = r.size
	}
	return int(n)
}

// Cap returns fixed buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return int(r.size)
}
