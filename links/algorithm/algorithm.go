// File: links/algorithm/algorithm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package algorithm wraps an AlgorithmPlugin in a link: each input buffer is
// paired with an empty output buffer of the same channel, the plugin fills
// the outputs, and the inputs go back to the producer. An input whose
// channel has no free output buffer is dropped and counted.

package algorithm

import (
	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/link"
	"github.com/momentics/hioload-link/plugin"
	"github.com/momentics/hioload-link/pool"
)

// Params configure the link at CREATE.
type Params struct {
	In                api.InQueueParams   `json:"in"`
	Next              *api.OutQueueParams `json:"next,omitempty"`
	Plugin            string              `json:"plugin"`
	PluginParams      map[string]any      `json:"pluginParams,omitempty"`
	BuffersPerChannel int                 `json:"buffersPerChannel"`
}

// Algorithm is the plugin-hosting stage.
type Algorithm struct {
	env     *link.Env
	plugins *plugin.Registry

	in     *link.InputQueue
	out    *link.OutputQueue
	arena  *pool.Arena
	plugin api.AlgorithmPlugin
	handle api.PluginHandle
}

// Builder returns a BuildFunc resolving plugins in plugins.
func Builder(plugins *plugin.Registry) link.BuildFunc {
	return func(env *link.Env) (api.Stage, error) {
		return &Algorithm{env: env, plugins: plugins}, nil
	}
}

// Create implements api.Stage.
func (a *Algorithm) Create(param []byte) (api.LinkInfo, error) {
	p := Params{BuffersPerChannel: 4}
	if err := api.DecodeParams(param, &p); err != nil {
		return api.LinkInfo{}, err
	}
	in, err := link.NewInputQueue(p.In, a.env.Resolver, a.env.Stats)
	if err != nil {
		return api.LinkInfo{}, err
	}
	qi, err := in.QueueInfo()
	if err != nil {
		return api.LinkInfo{}, err
	}
	plug, err := a.plugins.New(p.Plugin)
	if err != nil {
		return api.LinkInfo{}, err
	}
	arena, err := link.ArenaFor(qi.Channels, p.BuffersPerChannel)
	if err != nil {
		return api.LinkInfo{}, err
	}
	out, err := link.NewOutputQueue(qi.NumChannels, p.BuffersPerChannel, link.ArenaPayloads(qi.Channels, arena), a.env.Stats)
	if err != nil {
		arena.Close()
		return api.LinkInfo{}, err
	}
	h, err := plug.Create(p.PluginParams)
	if err != nil {
		arena.Close()
		return api.LinkInfo{}, errors.Wrap(err, errors.ErrorCode(api.CodeOf(err)), "plugin create failed").
			WithContext("plugin", p.Plugin)
	}
	if p.Next != nil {
		out.Connect(p.Next.Next(), a.env.Notifier)
	}
	a.in, a.out, a.arena, a.plugin, a.handle = in, out, arena, plug, h
	return api.LinkInfo{NumQueues: 1, Queues: []api.QueueInfo{qi}}, nil
}

// Process implements api.Stage.
func (a *Algorithm) Process() error {
	produced := 0
	_, err := a.in.Drain(func(batch *api.BufferList) error {
		var inKept, outList, dropped api.BufferList
		for _, b := range batch.Slice() {
			ob, err := a.out.GetEmptyOutputBuffer(int(b.Channel))
			if err != nil {
				dropped.Append(b)
				continue
			}
			inKept.Append(b)
			outList.Append(ob)
		}
		batch.Reset()
		if err := a.in.Drop(&dropped); err != nil {
			return err
		}
		if inKept.Count == 0 {
			return nil
		}
		start := timecache.CachedTimeNano()
		if err := a.plugin.Process(a.handle, &inKept, &outList); err != nil {
			a.env.Stats.ProcessErrCount.Add(1)
			a.env.Logger.Debug("plugin failed on batch", "buffers", inKept.Count, "error", err)
			for _, ob := range outList.Slice() {
				a.out.ReturnUnused(ob)
			}
			return a.in.Release(&inKept)
		}
		end := timecache.CachedTimeNano()
		for _, ob := range outList.Slice() {
			a.out.PutFullOutputBuffer(ob)
			a.env.Stats.RecordLocalLatency(end - start)
		}
		produced += outList.Count
		a.env.Stats.InBufProcessCount.Add(uint64(inKept.Count))
		return a.in.Release(&inKept)
	})
	if produced > 0 {
		if nerr := a.out.NotifyNext(); nerr != nil && err == nil {
			err = nerr
		}
	}
	return err
}

// Control implements api.Stage. Link-specific codes belong to the plugin.
func (a *Algorithm) Control(code api.CmdCode, param []byte) ([]byte, error) {
	return a.plugin.Control(a.handle, code, param)
}

// Stop implements api.Stage.
func (a *Algorithm) Stop() error {
	err := a.plugin.Stop(a.handle)
	a.out.Reclaim()
	return err
}

// Delete implements api.Stage.
func (a *Algorithm) Delete() error {
	if err := a.plugin.Delete(a.handle); err != nil {
		return err
	}
	return a.arena.Close()
}

// GetFullBuffers implements api.Stage.
func (a *Algorithm) GetFullBuffers(queueID int, list *api.BufferList) error {
	if queueID != 0 {
		return errors.New(api.ErrCodeInvalidParams, "algorithm link has a single output queue").
			WithContext("queue", queueID)
	}
	a.out.GetFullBuffers(list)
	return nil
}

// PutEmptyBuffers implements api.Stage.
func (a *Algorithm) PutEmptyBuffers(queueID int, list *api.BufferList) error {
	if queueID != 0 {
		return errors.New(api.ErrCodeInvalidParams, "algorithm link has a single output queue").
			WithContext("queue", queueID)
	}
	a.out.PutEmptyBuffers(list)
	return nil
}

// BufferStatistics implements api.BufferStatsReporter.
func (a *Algorithm) BufferStatistics() map[string]int {
	m := map[string]int{}
	a.out.Statistics("out0", m)
	return m
}
