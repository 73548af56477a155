// File: links/dup/dup.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package dup fans one input queue out to several output queues without
// copying payloads. Each output queue receives its own handle (a view on the
// producer's payload) so every handle still has exactly one owner; the
// producer's buffer is returned once all views came back.

package dup

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
	In           api.InQueueParams    `json:"in"`
	NumOutQueues int                  `json:"numOutQueues"`
	Next         []api.OutQueueParams `json:"next,omitempty"`
	Depth        int                  `json:"depth"`
}

type origin struct {
	buf  *api.Buffer
	refs int
}

// Dup is the fan-out stage.
type Dup struct {
	env    *link.Env
	in     *link.InputQueue
	queues []*pool.BufferQueue
	next   []api.LinkID

	mu     sync.Mutex
	views  map[*api.Buffer]*origin
	nextID uint32
}

// New builds an unconfigured dup link.
func New(env *link.Env) (api.Stage, error) {
	return &Dup{env: env, views: make(map[*api.Buffer]*origin)}, nil
}

// Create implements api.Stage.
func (d *Dup) Create(param []byte) (api.LinkInfo, error) {
	p := Params{NumOutQueues: 2, Depth: api.MaxBufs}
	if err := api.DecodeParams(param, &p); err != nil {
		return api.LinkInfo{}, err
	}
	if p.NumOutQueues < 1 || p.NumOutQueues > api.MaxQueues {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "output queue count out of range").
			WithContext("queues", p.NumOutQueues)
	}
	if len(p.Next) != 0 && len(p.Next) != p.NumOutQueues {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "one next link per output queue required").
			WithContext("queues", p.NumOutQueues).
			WithContext("next", len(p.Next))
	}
	if p.Depth <= 0 {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "queue depth must be positive")
	}
	in, err := link.NewInputQueue(p.In, d.env.Resolver, d.env.Stats)
	if err != nil {
		return api.LinkInfo{}, err
	}
	qi, err := in.QueueInfo()
	if err != nil {
		return api.LinkInfo{}, err
	}
	d.in = in
	d.queues = make([]*pool.BufferQueue, p.NumOutQueues)
	info := api.LinkInfo{NumQueues: p.NumOutQueues, Queues: make([]api.QueueInfo, p.NumOutQueues)}
	for i := range d.queues {
		d.queues[i] = pool.NewBufferQueue(p.Depth)
		info.Queues[i] = qi
	}
	for _, n := range p.Next {
		d.next = append(d.next, n.Next())
	}
	d.env.Stats.GrowChannels(qi.NumChannels)
	return info, nil
}

// Process implements api.Stage.
func (d *Dup) Process() error {
	produced := make([]bool, len(d.queues))
	var back api.BufferList
	_, err := d.in.Drain(func(batch *api.BufferList) error {
		for _, b := range batch.Slice() {
			if d.fanOut(b, produced) {
				d.env.Stats.InBufProcessCount.Add(1)
				continue
			}
			d.env.Stats.InBufDropCount.Add(1)
			back.Append(b)
			if back.Full() {
				if err := d.in.Release(&back); err != nil {
					return err
				}
			}
		}
		batch.Reset()
		return nil
	})
	if rerr := d.in.Release(&back); rerr != nil && err == nil {
		err = rerr
	}
	for q, ok := range produced {
		if ok && q < len(d.next) && d.env.Notifier != nil {
			if nerr := d.env.Notifier.SendLinkCmd(d.next[q], api.CmdNewData); nerr != nil && err == nil {
				err = nerr
			}
		}
	}
	return err
}

// fanOut queues one view of b per output queue with room. It reports
// whether any view was queued.
func (d *Dup) fanOut(b *api.Buffer, produced []bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	o := &origin{buf: b}
	for q, bq := range d.queues {
		d.nextID++
		view := api.NewBuffer(d.nextID, b.Channel, b.Payload())
		view.CreatedAt, view.ArrivedAt = b.CreatedAt, b.ArrivedAt
		d.views[view] = o
		if err := bq.TryPush(view); err != nil {
			delete(d.views, view)
			d.env.Stats.OutBufDropCount[b.Channel].Add(1)
			continue
		}
		o.refs++
		produced[q] = true
		d.env.Stats.OutBufCount[b.Channel].Add(1)
	}
	return o.refs > 0
}

// returnViews drops the given views and releases producer buffers whose
// last view came back.
func (d *Dup) returnViews(views []*api.Buffer) error {
	var back api.BufferList
	d.mu.Lock()
	var ready []*api.Buffer
	for _, v := range views {
		o, ok := d.views[v]
		if !ok {
			d.mu.Unlock()
			panic(fmt.Sprintf("dup: buffer %d is not a view of this link", v.ID()))
		}
		delete(d.views, v)
		if o.refs--; o.refs == 0 {
			ready = append(ready, o.buf)
		}
	}
	d.mu.Unlock()
	for _, b := range ready {
		back.Append(b)
		if back.Full() {
			if err := d.in.Release(&back); err != nil {
				return err
			}
		}
	}
	return d.in.Release(&back)
}

// Control implements api.Stage.
func (d *Dup) Control(code api.CmdCode, _ []byte) ([]byte, error) {
	return nil, errors.New(api.ErrCodeUnsupportedCommand, "dup has no control codes").
		WithContext("command", code.String())
}

// Stop implements api.Stage. Views nobody consumed are withdrawn.
func (d *Dup) Stop() error {
	var views []*api.Buffer
	for _, q := range d.queues {
		q.Drain(func(b *api.Buffer) { views = append(views, b) })
	}
	return d.returnViews(views)
}

// Delete implements api.Stage.
func (d *Dup) Delete() error {
	d.mu.Lock()
	n := len(d.views)
	d.mu.Unlock()
	if n > 0 {
		d.env.Logger.Warn("deleting dup with views still in flight", "views", n)
	}
	return nil
}

func (d *Dup) queue(queueID int) (*pool.BufferQueue, error) {
	if queueID < 0 || queueID >= len(d.queues) {
		return nil, errors.New(api.ErrCodeInvalidParams, "no such output queue").
			WithContext("queue", queueID)
	}
	return d.queues[queueID], nil
}

// GetFullBuffers implements api.Stage.
func (d *Dup) GetFullBuffers(queueID int, list *api.BufferList) error {
	q, err := d.queue(queueID)
	if err != nil {
		return err
	}
	for !list.Full() {
		b, ok := q.TryPop()
		if !ok {
			break
		}
		list.Append(b)
	}
	return nil
}

// PutEmptyBuffers implements api.Stage.
func (d *Dup) PutEmptyBuffers(queueID int, list *api.BufferList) error {
	if _, err := d.queue(queueID); err != nil {
		return err
	}
	list.MustValid()
	views := append([]*api.Buffer(nil), list.Slice()...)
	list.Reset()
	return d.returnViews(views)
}

// BufferStatistics implements api.BufferStatsReporter.
func (d *Dup) BufferStatistics() map[string]int {
	m := map[string]int{}
	for i, q := range d.queues {
		m[fmt.Sprintf("out%d.full", i)] = q.Count()
	}
	d.mu.Lock()
	m["views"] = len(d.views)
	d.mu.Unlock()
	return m
}
