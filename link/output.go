// File: link/output.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OutputQueue is the producer half of the buffer exchange protocol: one
// closed pool of buffers per channel, circulating between the channel's
// empty pool, the shared full queue and consumers. Buffers are only ever
// recycled; the per-channel total never changes between create and delete.

package link

import (
	"fmt"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/pool"
)

// PayloadFunc allocates the payload of buffer i of channel ch.
type PayloadFunc func(ch, i int) api.Payload

// OutputQueue owns the buffers of one output queue.
type OutputQueue struct {
	all      []*api.Buffer // indexed by buffer id
	empty    []*pool.BufferQueue
	full     *pool.BufferQueue
	perChan  int
	stats    *control.LinkStats
	notifier api.Notifier
	next     api.LinkID
	hasNext  bool
}

// NewOutputQueue preallocates perChannel buffers for each of numChannels.
func NewOutputQueue(numChannels, perChannel int, alloc PayloadFunc, stats *control.LinkStats) (*OutputQueue, error) {
	if numChannels <= 0 || numChannels > api.MaxChannels {
		return nil, errors.New(api.ErrCodeInvalidParams, "channel count out of range").
			WithContext("channels", numChannels)
	}
	if perChannel <= 0 {
		return nil, errors.New(api.ErrCodeInvalidParams, "buffers per channel must be positive").
			WithContext("buffers", perChannel)
	}
	q := &OutputQueue{
		all:     make([]*api.Buffer, 0, numChannels*perChannel),
		empty:   make([]*pool.BufferQueue, numChannels),
		full:    pool.NewBufferQueue(numChannels * perChannel),
		perChan: perChannel,
		stats:   stats,
	}
	for ch := 0; ch < numChannels; ch++ {
		q.empty[ch] = pool.NewBufferQueue(perChannel)
		for i := 0; i < perChannel; i++ {
			b := api.NewBuffer(uint32(len(q.all)), uint16(ch), alloc(ch, i))
			q.all = append(q.all, b)
			if err := q.empty[ch].TryPush(b); err != nil {
				panic(err)
			}
		}
	}
	if stats != nil {
		stats.GrowChannels(numChannels)
	}
	return q, nil
}

// Connect sets the consumer notified on new output.
func (q *OutputQueue) Connect(next api.LinkID, notifier api.Notifier) {
	q.next, q.notifier, q.hasNext = next, notifier, notifier != nil
}

// NumChannels returns the channel count.
func (q *OutputQueue) NumChannels() int { return len(q.empty) }

// Buffers returns every buffer of the queue, in id order.
func (q *OutputQueue) Buffers() []*api.Buffer { return q.all }

func (q *OutputQueue) checkChannel(ch int) {
	if ch < 0 || ch >= len(q.empty) {
		panic(fmt.Sprintf("link: channel %d out of range [0,%d)", ch, len(q.empty)))
	}
}

// GetEmptyOutputBuffer takes a free buffer of channel ch. An exhausted pool
// fails immediately with NoMoreBuffers and counts one output drop.
func (q *OutputQueue) GetEmptyOutputBuffer(ch int) (*api.Buffer, error) {
	q.checkChannel(ch)
	b, ok := q.empty[ch].TryPop()
	if !ok {
		if q.stats != nil {
			q.stats.OutBufDropCount[ch].Add(1)
		}
		return nil, api.ErrNoMoreBuffers
	}
	return b, nil
}

// PutFullOutputBuffer publishes a filled buffer. CreatedAt is stamped if
// the producer left it unset.
func (q *OutputQueue) PutFullOutputBuffer(b *api.Buffer) {
	q.mustOwn(b)
	if b.CreatedAt == 0 {
		b.CreatedAt = timecache.CachedTimeNano()
	}
	if err := q.full.TryPush(b); err != nil {
		panic(fmt.Sprintf("link: full queue overflow on buffer %d", b.ID()))
	}
	if q.stats != nil {
		q.stats.OutBufCount[b.Channel].Add(1)
	}
}

// ReturnUnused gives back a buffer taken with GetEmptyOutputBuffer but not
// published.
func (q *OutputQueue) ReturnUnused(b *api.Buffer) {
	q.recycle(b)
}

// NotifyNext sends a fire-and-forget NEW_DATA to the consumer.
func (q *OutputQueue) NotifyNext() error {
	if !q.hasNext {
		return nil
	}
	return q.notifier.SendLinkCmd(q.next, api.CmdNewData)
}

// GetFullBuffers appends ready buffers to list until it is full or the
// queue is empty. It never blocks.
func (q *OutputQueue) GetFullBuffers(list *api.BufferList) {
	for !list.Full() {
		b, ok := q.full.TryPop()
		if !ok {
			return
		}
		list.Append(b)
	}
}

// PutEmptyBuffers returns consumed buffers to their channel pools and
// empties list.
func (q *OutputQueue) PutEmptyBuffers(list *api.BufferList) {
	list.MustValid()
	for _, b := range list.Slice() {
		q.recycle(b)
	}
	list.Reset()
}

// Reclaim moves unconsumed full buffers back to their pools.
func (q *OutputQueue) Reclaim() int {
	return q.full.Drain(q.recycle)
}

func (q *OutputQueue) recycle(b *api.Buffer) {
	q.mustOwn(b)
	b.CreatedAt, b.ArrivedAt = 0, 0
	if err := q.empty[b.Channel].TryPush(b); err != nil {
		panic(fmt.Sprintf("link: empty pool of channel %d overflow on buffer %d", b.Channel, b.ID()))
	}
}

func (q *OutputQueue) mustOwn(b *api.Buffer) {
	if b == nil {
		panic("link: nil buffer handle")
	}
	if id := int(b.ID()); id >= len(q.all) || q.all[id] != b {
		panic(fmt.Sprintf("link: buffer %d does not belong to this queue", b.ID()))
	}
	q.checkChannel(int(b.Channel))
}

// EmptyCount returns the free buffers of channel ch.
func (q *OutputQueue) EmptyCount(ch int) int {
	q.checkChannel(ch)
	return q.empty[ch].Count()
}

// FullCount returns buffers waiting for the consumer.
func (q *OutputQueue) FullCount() int { return q.full.Count() }

// PerChannel returns the circulation count of each channel.
func (q *OutputQueue) PerChannel() int { return q.perChan }

// Statistics reports queue depths under prefix.
func (q *OutputQueue) Statistics(prefix string, into map[string]int) {
	into[prefix+".full"] = q.FullCount()
	for ch := range q.empty {
		into[fmt.Sprintf("%s.ch%d.empty", prefix, ch)] = q.empty[ch].Count()
	}
}
