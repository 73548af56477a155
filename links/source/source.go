// File: links/source/source.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package source implements a null capture link. Each NEW_DATA fills one
// buffer per channel with a frame counter pattern; with an interval set the
// link paces itself by posting NEW_DATA to its own inbox.

package source

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/link"
	"github.com/momentics/hioload-link/pool"
)

// Control codes.
const (
	CmdSetInterval = api.CmdLinkSpecificBase + 0x10 + iota
	CmdGetFrameCount
)

// Params configure the source at CREATE.
type Params struct {
	NumChannels       int                 `json:"numChannels"`
	BuffersPerChannel int                 `json:"buffersPerChannel"`
	Channel           api.ChannelInfo     `json:"channel"`
	IntervalMs        int                 `json:"intervalMs"`
	Next              *api.OutQueueParams `json:"next,omitempty"`
}

// IntervalParams is the param of CmdSetInterval.
type IntervalParams struct {
	IntervalMs int `json:"intervalMs"`
}

// FrameCount is the reply of CmdGetFrameCount.
type FrameCount struct {
	Frames uint64 `json:"frames"`
}

// Source is the null source stage.
type Source struct {
	env   *link.Env
	log   *slog.Logger
	out   *link.OutputQueue
	arena *pool.Arena

	frames   atomic.Uint64
	interval time.Duration

	tickMu   sync.Mutex
	tickStop chan struct{}
	tickDone chan struct{}
}

// New builds an unconfigured source.
func New(env *link.Env) (api.Stage, error) {
	return &Source{env: env, log: env.Logger}, nil
}

// Create implements api.Stage.
func (s *Source) Create(param []byte) (api.LinkInfo, error) {
	p := Params{
		NumChannels:       1,
		BuffersPerChannel: 4,
		Channel:           api.ChannelInfo{Width: 64, Height: 32, Format: api.FormatYUV420SP, Kind: api.KindVideoFrame},
	}
	if err := api.DecodeParams(param, &p); err != nil {
		return api.LinkInfo{}, err
	}
	if p.NumChannels <= 0 || p.NumChannels > api.MaxChannels {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "channel count out of range").
			WithContext("channels", p.NumChannels)
	}
	if err := link.ValidateChannel(p.Channel); err != nil {
		return api.LinkInfo{}, err
	}
	if p.IntervalMs < 0 {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "interval must not be negative")
	}
	ci := link.Describe(p.Channel)
	channels := make([]api.ChannelInfo, p.NumChannels)
	for i := range channels {
		channels[i] = ci
	}
	if p.BuffersPerChannel <= 0 {
		return api.LinkInfo{}, errors.New(api.ErrCodeInvalidParams, "buffers per channel must be positive")
	}
	arena, err := link.ArenaFor(channels, p.BuffersPerChannel)
	if err != nil {
		return api.LinkInfo{}, err
	}
	out, err := link.NewOutputQueue(p.NumChannels, p.BuffersPerChannel, link.ArenaPayloads(channels, arena), s.env.Stats)
	if err != nil {
		arena.Close()
		return api.LinkInfo{}, err
	}
	if p.Next != nil {
		out.Connect(p.Next.Next(), s.env.Notifier)
	}
	s.out, s.arena = out, arena
	s.interval = time.Duration(p.IntervalMs) * time.Millisecond
	return api.LinkInfo{
		NumQueues: 1,
		Queues:    []api.QueueInfo{{NumChannels: p.NumChannels, Channels: channels}},
	}, nil
}

// Start implements api.Starter.
func (s *Source) Start() error {
	s.startTicker()
	return nil
}

// Process implements api.Stage.
func (s *Source) Process() error {
	produced := 0
	for ch := 0; ch < s.out.NumChannels(); ch++ {
		b, err := s.out.GetEmptyOutputBuffer(ch)
		if err != nil {
			continue
		}
		s.fill(b, s.frames.Add(1))
		b.CreatedAt = timecache.CachedTimeNano()
		s.out.PutFullOutputBuffer(b)
		produced++
	}
	if produced == 0 {
		return nil
	}
	return s.out.NotifyNext()
}

func (s *Source) fill(b *api.Buffer, seq uint64) {
	var data []byte
	switch p := b.Payload().(type) {
	case *api.VideoFrame:
		data = p.Planes[0]
	case *api.Bitstream:
		p.FilledSize = len(p.Data)
		p.KeyFrame = seq%30 == 1
		data = p.Data
	case *api.MetadataBlock:
		p.FilledSize = len(p.Data)
		data = p.Data
	}
	if len(data) >= 8 {
		binary.LittleEndian.PutUint64(data, seq)
		for i := 8; i < len(data); i++ {
			data[i] = byte(seq)
		}
	}
}

// Control implements api.Stage.
func (s *Source) Control(code api.CmdCode, param []byte) ([]byte, error) {
	switch code {
	case CmdSetInterval:
		var p IntervalParams
		if err := api.DecodeParams(param, &p); err != nil {
			return nil, err
		}
		if p.IntervalMs < 0 {
			return nil, errors.New(api.ErrCodeInvalidParams, "interval must not be negative")
		}
		running := s.stopTicker()
		s.interval = time.Duration(p.IntervalMs) * time.Millisecond
		if running {
			s.startTicker()
		}
		return nil, nil
	case CmdGetFrameCount:
		return api.EncodeParams(FrameCount{Frames: s.frames.Load()})
	}
	return nil, errors.New(api.ErrCodeUnsupportedCommand, "source control code not supported").
		WithContext("command", code.String())
}

// Stop implements api.Stage. Frames nobody consumed go back to the pools.
func (s *Source) Stop() error {
	s.stopTicker()
	if n := s.out.Reclaim(); n > 0 {
		s.log.Debug("reclaimed unconsumed frames", "count", n)
	}
	return nil
}

// Delete implements api.Stage.
func (s *Source) Delete() error {
	s.stopTicker()
	return s.arena.Close()
}

// GetFullBuffers implements api.Stage.
func (s *Source) GetFullBuffers(queueID int, list *api.BufferList) error {
	if queueID != 0 {
		return errors.New(api.ErrCodeInvalidParams, "source has a single output queue").
			WithContext("queue", queueID)
	}
	s.out.GetFullBuffers(list)
	return nil
}

// PutEmptyBuffers implements api.Stage.
func (s *Source) PutEmptyBuffers(queueID int, list *api.BufferList) error {
	if queueID != 0 {
		return errors.New(api.ErrCodeInvalidParams, "source has a single output queue").
			WithContext("queue", queueID)
	}
	s.out.PutEmptyBuffers(list)
	return nil
}

// BufferStatistics implements api.BufferStatsReporter.
func (s *Source) BufferStatistics() map[string]int {
	m := map[string]int{}
	s.out.Statistics("out0", m)
	return m
}

// Output exposes the output queue.
func (s *Source) Output() *link.OutputQueue { return s.out }

func (s *Source) startTicker() {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.interval <= 0 || s.tickStop != nil || s.env.Notifier == nil {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	s.tickStop, s.tickDone = stop, done
	go func(every time.Duration) {
		defer close(done)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				if err := s.env.Notifier.SendLinkCmd(s.env.ID, api.CmdNewData); err != nil {
					s.log.Debug("self notify failed", "error", err)
					return
				}
			}
		}
	}(s.interval)
}

// stopTicker reports whether a ticker was running.
func (s *Source) stopTicker() bool {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()
	if s.tickStop == nil {
		return false
	}
	close(s.tickStop)
	<-s.tickDone
	s.tickStop, s.tickDone = nil, nil
	return true
}
