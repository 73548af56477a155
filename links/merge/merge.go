// File: links/merge/merge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package merge joins several input queues into one output queue. Channels
// are renumbered so input i occupies the range starting after the channels
// of inputs 0..i-1; buffers are restored and returned to their producer when
// the consumer hands them back.

package merge

import (
	"fmt"
	"sync"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/link"
	"github.com/momentics/hioload-link/pool"
)

// Params configure the link at CREATE.
type Params struct {
	In    []api.InQueueParams `json:"in"`
	Next  *api.OutQueueParams `json:"next,omitempty"`
	Depth int                 `json:"depth"`
}

type origin struct {
	input   int
	channel uint16
}

// Merge is the fan-in stage.
type Merge struct {
	env     *link.Env
	inputs  []*link.InputQueue
	offsets []int
	full    *pool.BufferQueue
	next    api.LinkID
	hasNext bool

	mu      sync.Mutex
	origins map[*api.Buffer]origin
}

// New builds an unconfigured merge link.
func New(env *link.Env) (api.Stage, error) {
	return &Merge{env: env, origins: make(map[*api.Buffer]origin)}, nil
}

// Create implements api.Stage.
func (m *Merge) Create(param []byte) (api.LinkInfo, error) {
	p := Params{Depth: api.MaxBufs}
	if err := api.DecodeParams(param, &p); err != nil {
		return api.LinkInfo{}, err
	}
	if len(p.In) < 1 || len(p.In) > api.MaxQueues {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "input queue count out of range").
			WithContext("inputs", len(p.In))
	}
	if p.Depth <= 0 {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "queue depth must be positive")
	}
	var merged api.QueueInfo
	for i, ip := range p.In {
		in, err := link.NewInputQueue(ip, m.env.Resolver, m.env.Stats)
		if err != nil {
			return api.LinkInfo{}, err
		}
		qi, err := in.QueueInfo()
		if err != nil {
			return api.LinkInfo{}, err
		}
		if merged.NumChannels+qi.NumChannels > api.MaxChannels {
			return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "merged channel count exceeds limit").
				WithContext("input", i).
				WithContext("channels", merged.NumChannels+qi.NumChannels)
		}
		m.inputs = append(m.inputs, in)
		m.offsets = append(m.offsets, merged.NumChannels)
		merged.NumChannels += qi.NumChannels
		merged.Channels = append(merged.Channels, qi.Channels...)
	}
	m.full = pool.NewBufferQueue(p.Depth)
	if p.Next != nil {
		m.next, m.hasNext = p.Next.Next(), true
	}
	m.env.Stats.GrowChannels(merged.NumChannels)
	return api.LinkInfo{NumQueues: 1, Queues: []api.QueueInfo{merged}}, nil
}

// Process implements api.Stage.
func (m *Merge) Process() error {
	produced := 0
	for i, in := range m.inputs {
		var dropped api.BufferList
		_, err := in.Drain(func(batch *api.BufferList) error {
			for _, b := range batch.Slice() {
				if m.forward(i, b) {
					produced++
					continue
				}
				dropped.Append(b)
				if dropped.Full() {
					if err := in.Drop(&dropped); err != nil {
						return err
					}
				}
			}
			batch.Reset()
			return nil
		})
		if derr := in.Drop(&dropped); derr != nil && err == nil {
			err = derr
		}
		if err != nil {
			return err
		}
	}
	if produced > 0 && m.hasNext && m.env.Notifier != nil {
		return m.env.Notifier.SendLinkCmd(m.next, api.CmdNewData)
	}
	return nil
}

// forward renumbers b into the merged channel space and queues it. On a
// full queue b is restored and left with the caller.
func (m *Merge) forward(input int, b *api.Buffer) bool {
	o := origin{input: input, channel: b.Channel}
	m.mu.Lock()
	defer m.mu.Unlock()
	b.Channel = uint16(m.offsets[input]) + o.channel
	m.origins[b] = o
	if err := m.full.TryPush(b); err != nil {
		delete(m.origins, b)
		b.Channel = o.channel
		m.env.Stats.OutBufDropCount[uint16(m.offsets[input])+o.channel].Add(1)
		return false
	}
	m.env.Stats.OutBufCount[b.Channel].Add(1)
	m.env.Stats.InBufProcessCount.Add(1)
	return true
}

// giveBack restores and returns buffers to the inputs they came from.
func (m *Merge) giveBack(bufs []*api.Buffer) error {
	back := make([]api.BufferList, len(m.inputs))
	m.mu.Lock()
	for _, b := range bufs {
		o, ok := m.origins[b]
		if !ok {
			m.mu.Unlock()
			panic(fmt.Sprintf("merge: buffer %d did not pass through this link", b.ID()))
		}
		delete(m.origins, b)
		b.Channel = o.channel
		back[o.input].Append(b)
	}
	m.mu.Unlock()
	var first error
	for i := range back {
		if err := m.inputs[i].Release(&back[i]); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Control implements api.Stage.
func (m *Merge) Control(code api.CmdCode, _ []byte) ([]byte, error) {
	return nil, errors.New(api.ErrCodeUnsupportedCommand, "merge has no control codes").
		WithContext("command", code.String())
}

// Stop implements api.Stage. Queued buffers go back to their producers.
func (m *Merge) Stop() error {
	var (
		bufs  []*api.Buffer
		first error
	)
	m.full.Drain(func(b *api.Buffer) {
		bufs = append(bufs, b)
		if len(bufs) == api.MaxBufs {
			if err := m.giveBack(bufs); err != nil && first == nil {
				first = err
			}
			bufs = bufs[:0]
		}
	})
	if err := m.giveBack(bufs); err != nil && first == nil {
		first = err
	}
	return first
}

// Delete implements api.Stage.
func (m *Merge) Delete() error {
	m.mu.Lock()
	n := len(m.origins)
	m.mu.Unlock()
	if n > 0 {
		m.env.Logger.Warn("deleting merge with buffers still in flight", "buffers", n)
	}
	return nil
}

// GetFullBuffers implements api.Stage.
func (m *Merge) GetFullBuffers(queueID int, list *api.BufferList) error {
	if queueID != 0 {
		return errors.New(api.ErrCodeInvalidParams, "merge link has a single output queue").
			WithContext("queue", queueID)
	}
	for !list.Full() {
		b, ok := m.full.TryPop()
		if !ok {
			break
		}
		list.Append(b)
	}
	return nil
}

// PutEmptyBuffers implements api.Stage.
func (m *Merge) PutEmptyBuffers(queueID int, list *api.BufferList) error {
	if queueID != 0 {
		return errors.New(api.ErrCodeInvalidParams, "merge link has a single output queue").
			WithContext("queue", queueID)
	}
	list.MustValid()
	bufs := append([]*api.Buffer(nil), list.Slice()...)
	list.Reset()
	return m.giveBack(bufs)
}

// BufferStatistics implements api.BufferStatsReporter.
func (m *Merge) BufferStatistics() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{"full": m.full.Count(), "inFlight": len(m.origins)}
}
