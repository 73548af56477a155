// File: links/sink/sink.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package sink implements a null sink. By default every received buffer is
// returned at once; in hold mode buffers stay in flight until released with
// CmdRelease or STOP.

package sink

import (
	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/link"
)

// Control codes.
const (
	CmdRelease = api.CmdLinkSpecificBase + 0x20 + iota
	CmdSetHold
	CmdGetReceived
)

// Params configure the sink at CREATE.
type Params struct {
	In   api.InQueueParams `json:"in"`
	Hold bool              `json:"hold"`
}

// HoldParams is the param of CmdSetHold.
type HoldParams struct {
	Hold bool `json:"hold"`
}

// Received is the reply of CmdGetReceived and CmdRelease.
type Received struct {
	Received uint64 `json:"received"`
	Held     int    `json:"held"`
	Released int    `json:"released"`
}

// Sink is the null sink stage.
type Sink struct {
	env      *link.Env
	in       *link.InputQueue
	hold     bool
	held     []*api.Buffer
	received uint64
}

// New builds an unconfigured sink.
func New(env *link.Env) (api.Stage, error) {
	return &Sink{env: env}, nil
}

// Create implements api.Stage. The producer must already be created.
func (s *Sink) Create(param []byte) (api.LinkInfo, error) {
	var p Params
	if err := api.DecodeParams(param, &p); err != nil {
		return api.LinkInfo{}, err
	}
	in, err := link.NewInputQueue(p.In, s.env.Resolver, s.env.Stats)
	if err != nil {
		return api.LinkInfo{}, err
	}
	if _, err := in.QueueInfo(); err != nil {
		return api.LinkInfo{}, err
	}
	s.in, s.hold = in, p.Hold
	return api.LinkInfo{}, nil
}

// Process implements api.Stage.
func (s *Sink) Process() error {
	_, err := s.in.Drain(func(batch *api.BufferList) error {
		now := timecache.CachedTimeNano()
		for _, b := range batch.Slice() {
			if b.ArrivedAt != 0 {
				s.env.Stats.RecordLocalLatency(now - b.ArrivedAt)
			}
		}
		s.received += uint64(batch.Count)
		s.env.Stats.InBufProcessCount.Add(uint64(batch.Count))
		if s.hold {
			s.held = append(s.held, batch.Slice()...)
			batch.Reset()
			return nil
		}
		return s.in.Release(batch)
	})
	return err
}

// release returns every held buffer to the producer.
func (s *Sink) release() (int, error) {
	n := 0
	var list api.BufferList
	for len(s.held) > 0 {
		k := min(len(s.held), api.MaxBufs)
		for _, b := range s.held[:k] {
			list.Append(b)
		}
		if err := s.in.Release(&list); err != nil {
			return n, err
		}
		s.held = s.held[k:]
		n += k
	}
	s.held = nil
	return n, nil
}

// Control implements api.Stage.
func (s *Sink) Control(code api.CmdCode, param []byte) ([]byte, error) {
	switch code {
	case CmdRelease:
		n, err := s.release()
		if err != nil {
			return nil, err
		}
		return api.EncodeParams(Received{Received: s.received, Released: n})
	case CmdSetHold:
		var p HoldParams
		if err := api.DecodeParams(param, &p); err != nil {
			return nil, err
		}
		s.hold = p.Hold
		if !s.hold {
			if _, err := s.release(); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case CmdGetReceived:
		return api.EncodeParams(Received{Received: s.received, Held: len(s.held)})
	}
	return nil, errors.New(api.ErrCodeUnsupportedCommand, "sink control code not supported").
		WithContext("command", code.String())
}

// Stop implements api.Stage. Held buffers are returned.
func (s *Sink) Stop() error {
	_, err := s.release()
	return err
}

// Delete implements api.Stage.
func (s *Sink) Delete() error {
	if len(s.held) > 0 {
		_, err := s.release()
		return err
	}
	return nil
}

// GetFullBuffers implements api.Stage.
func (s *Sink) GetFullBuffers(queueID int, _ *api.BufferList) error {
	return errors.New(api.ErrCodeInvalidParams, "sink has no output queues").
		WithContext("queue", queueID)
}

// PutEmptyBuffers implements api.Stage.
func (s *Sink) PutEmptyBuffers(queueID int, _ *api.BufferList) error {
	return errors.New(api.ErrCodeInvalidParams, "sink has no output queues").
		WithContext("queue", queueID)
}

// BufferStatistics implements api.BufferStatsReporter.
func (s *Sink) BufferStatistics() map[string]int {
	return map[string]int{"held": len(s.held), "received": int(s.received)}
}
