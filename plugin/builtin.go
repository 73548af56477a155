// File: plugin/builtin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package plugin

import (
	"sync/atomic"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

// Plugin control codes.
const (
	CmdGetCounters = api.CmdLinkSpecificBase + 0x100 + iota
	CmdSetLevel
)

// Counters is the reply of CmdGetCounters.
type Counters struct {
	Frames uint64 `json:"frames"`
	Bytes  uint64 `json:"bytes"`
}

type counting struct {
	frames atomic.Uint64
	bytes  atomic.Uint64
}

func (c *counting) control(code api.CmdCode) ([]byte, error) {
	if code != CmdGetCounters {
		return nil, errors.New(api.ErrCodeUnsupportedCommand, "plugin control code not supported").
			WithContext("command", code.String())
	}
	return api.EncodeParams(Counters{Frames: c.frames.Load(), Bytes: c.bytes.Load()})
}

// forEachPair applies fn to every input/output byte slice pair.
func forEachPair(in, out *api.BufferList, fn func(dst, src []byte)) (uint64, error) {
	if in.Count != out.Count {
		return 0, errors.New(api.ErrCodeInvalidParams, "input and output lists differ in length").
			WithContext("in", in.Count).
			WithContext("out", out.Count)
	}
	var n uint64
	for i := 0; i < in.Count; i++ {
		src, dst := in.Buffers[i].Payload(), out.Buffers[i].Payload()
		switch s := src.(type) {
		case *api.VideoFrame:
			d, ok := dst.(*api.VideoFrame)
			if !ok {
				return n, errors.New(api.ErrCodeFail, "output is not a video frame")
			}
			for p := range s.Planes {
				if p < len(d.Planes) {
					fn(d.Planes[p], s.Planes[p])
					n += uint64(len(s.Planes[p]))
				}
			}
		case *api.Bitstream:
			d, ok := dst.(*api.Bitstream)
			if !ok {
				return n, errors.New(api.ErrCodeFail, "output is not a bitstream")
			}
			fn(d.Data, s.Data[:s.FilledSize])
			d.FilledSize = min(s.FilledSize, len(d.Data))
			d.KeyFrame = s.KeyFrame
			n += uint64(d.FilledSize)
		case *api.MetadataBlock:
			d, ok := dst.(*api.MetadataBlock)
			if !ok {
				return n, errors.New(api.ErrCodeFail, "output is not a metadata block")
			}
			fn(d.Data, s.Data[:s.FilledSize])
			d.FilledSize = min(s.FilledSize, len(d.Data))
			n += uint64(d.FilledSize)
		default:
			return n, errors.New(api.ErrCodeFail, "unsupported payload kind").
				WithContext("kind", src.Kind().String())
		}
		out.Buffers[i].CreatedAt = in.Buffers[i].CreatedAt
	}
	return n, nil
}

// Passthrough copies input payloads to the outputs unchanged.
type Passthrough struct{ counting }

func (p *Passthrough) Create(map[string]any) (api.PluginHandle, error) { return p, nil }

func (p *Passthrough) Process(_ api.PluginHandle, in, out *api.BufferList) error {
	n, err := forEachPair(in, out, func(dst, src []byte) { copy(dst, src) })
	p.frames.Add(uint64(in.Count))
	p.bytes.Add(n)
	return err
}

func (p *Passthrough) Control(_ api.PluginHandle, code api.CmdCode, _ []byte) ([]byte, error) {
	return p.control(code)
}

func (p *Passthrough) Stop(api.PluginHandle) error   { return nil }
func (p *Passthrough) Delete(api.PluginHandle) error { return nil }

// Invert writes level minus each input byte. level defaults to 255 and can
// be set at create ("level") or with CmdSetLevel.
type Invert struct {
	counting
	level atomic.Uint32
}

// LevelParams is the param of CmdSetLevel.
type LevelParams struct {
	Level int `json:"level"`
}

func (v *Invert) Create(param map[string]any) (api.PluginHandle, error) {
	level := 255
	if raw, ok := param["level"]; ok {
		f, ok := raw.(float64)
		if !ok || f < 0 || f > 255 {
			return nil, errors.New(api.ErrCodeInvalidParams, "invert level must be 0..255")
		}
		level = int(f)
	}
	v.level.Store(uint32(level))
	return v, nil
}

func (v *Invert) Process(_ api.PluginHandle, in, out *api.BufferList) error {
	level := byte(v.level.Load())
	n, err := forEachPair(in, out, func(dst, src []byte) {
		for i := 0; i < len(src) && i < len(dst); i++ {
			dst[i] = level - src[i]
		}
	})
	v.frames.Add(uint64(in.Count))
	v.bytes.Add(n)
	return err
}

func (v *Invert) Control(_ api.PluginHandle, code api.CmdCode, param []byte) ([]byte, error) {
	if code != CmdSetLevel {
		return v.control(code)
	}
	var p LevelParams
	if err := api.DecodeParams(param, &p); err != nil {
		return nil, err
	}
	if p.Level < 0 || p.Level > 255 {
		return nil, errors.New(api.ErrCodeInvalidParams, "invert level must be 0..255").
			WithContext("level", p.Level)
	}
	v.level.Store(uint32(p.Level))
	return nil, nil
}

func (v *Invert) Stop(api.PluginHandle) error   { return nil }
func (v *Invert) Delete(api.PluginHandle) error { return nil }
