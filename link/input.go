// File: link/input.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package link

import (
	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
)

// InputQueue is the consumer half of the buffer exchange protocol. The
// producer is resolved on every call so the same code serves local and
// cross-core neighbours.
type InputQueue struct {
	prev     api.LinkID
	queue    int
	resolver api.Resolver
	stats    *control.LinkStats
}

// NewInputQueue binds to queue p.PrevQueueID of link p.Prev().
func NewInputQueue(p api.InQueueParams, resolver api.Resolver, stats *control.LinkStats) (*InputQueue, error) {
	if resolver == nil {
		return nil, errors.New(api.ErrCodeInvalidParams, "input queue needs a resolver")
	}
	if p.PrevQueueID < 0 || p.PrevQueueID >= api.MaxQueues {
		return nil, errors.New(api.ErrCodeInvalidParams, "previous queue id out of range").
			WithContext("queue", p.PrevQueueID)
	}
	return &InputQueue{prev: p.Prev(), queue: p.PrevQueueID, resolver: resolver, stats: stats}, nil
}

// Prev returns the producer.
func (in *InputQueue) Prev() api.LinkID { return in.prev }

// QueueInfo returns the producer's description of the bound queue.
func (in *InputQueue) QueueInfo() (api.QueueInfo, error) {
	l, err := in.resolver.Resolve(in.prev)
	if err != nil {
		return api.QueueInfo{}, err
	}
	info, err := l.GetLinkInfo()
	if err != nil {
		return api.QueueInfo{}, err
	}
	if in.queue >= info.NumQueues {
		return api.QueueInfo{}, errors.New(api.ErrCodeInvalidParams, "producer has no such queue").
			WithContext("prev", in.prev.String()).
			WithContext("queue", in.queue).
			WithContext("numQueues", info.NumQueues)
	}
	return info.Queues[in.queue], nil
}

// Pull takes up to one list worth of what the producer currently offers.
// Every pulled buffer is stamped with its arrival time.
func (in *InputQueue) Pull(list *api.BufferList) (int, error) {
	list.Reset()
	l, err := in.resolver.Resolve(in.prev)
	if err != nil {
		return 0, err
	}
	if err := l.GetFullBuffers(in.queue, list); err != nil {
		return 0, err
	}
	list.MustValid()
	n := list.Count
	if n == 0 || in.stats == nil {
		return n, nil
	}
	now := timecache.CachedTimeNano()
	for _, b := range list.Slice() {
		b.ArrivedAt = now
		if b.CreatedAt != 0 {
			in.stats.RecordSourceLatency(now - b.CreatedAt)
		}
	}
	in.stats.InBufRecvCount.Add(uint64(n))
	return n, nil
}

// Drain pulls until the producer has nothing left, handing each non-empty
// batch to fn. fn owns the batch and must release, drop or keep every
// buffer in it. A wake-up that finds nothing is counted, not reported.
func (in *InputQueue) Drain(fn func(batch *api.BufferList) error) (int, error) {
	var (
		batch api.BufferList
		total int
	)
	for {
		n, err := in.Pull(&batch)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
		if err := fn(&batch); err != nil {
			return total, err
		}
		if n < api.MaxBufs {
			break
		}
	}
	if total == 0 && in.stats != nil {
		in.stats.EmptyWakeupCount.Add(1)
	}
	return total, nil
}

// Release returns consumed buffers to the producer and empties list.
func (in *InputQueue) Release(list *api.BufferList) error {
	if list.Count == 0 {
		return nil
	}
	l, err := in.resolver.Resolve(in.prev)
	if err != nil {
		return err
	}
	if err := l.PutEmptyBuffers(in.queue, list); err != nil {
		return err
	}
	list.Reset()
	return nil
}

// Drop returns buffers that could not be processed, counting each one.
func (in *InputQueue) Drop(list *api.BufferList) error {
	if in.stats != nil {
		in.stats.InBufDropCount.Add(uint64(list.Count))
	}
	return in.Release(list)
}
