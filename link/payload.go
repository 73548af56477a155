// File: link/payload.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package link

import (
	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/pool"
)

// planeSizes returns the pitch and byte size of each plane of a frame.
func planeSizes(ci api.ChannelInfo) ([3]int, []int) {
	w, h := ci.Width, ci.Height
	switch ci.Format {
	case api.FormatYUV420SP:
		return [3]int{w, w}, []int{w * h, w * h / 2}
	case api.FormatYUV422I:
		return [3]int{w * 2}, []int{w * 2 * h}
	case api.FormatRGB24:
		return [3]int{w * 3}, []int{w * 3 * h}
	default:
		return [3]int{w}, []int{w * h}
	}
}

// ValidateChannel checks that ci describes an allocatable payload.
func ValidateChannel(ci api.ChannelInfo) error {
	if ci.Width <= 0 || ci.Height <= 0 {
		return errors.New(api.ErrCodeInvalidParams, "channel dimensions must be positive").
			WithContext("width", ci.Width).
			WithContext("height", ci.Height)
	}
	if ci.Kind == api.KindCompositeFrameSet {
		return errors.New(api.ErrCodeInvalidParams, "composite frame sets cannot be pooled directly")
	}
	return nil
}

// Describe fills in the pitch of a video channel.
func Describe(ci api.ChannelInfo) api.ChannelInfo {
	if ci.Kind == api.KindVideoFrame {
		ci.Pitch, _ = planeSizes(ci)
	}
	return ci
}

// chunks returns the separate allocations one buffer of ci needs.
func chunks(ci api.ChannelInfo) []int {
	if ci.Kind != api.KindVideoFrame {
		return []int{ci.Width * ci.Height}
	}
	_, sizes := planeSizes(ci)
	return sizes
}

// PayloadSize returns the bytes one buffer of ci needs.
func PayloadSize(ci api.ChannelInfo) int {
	total := 0
	for _, s := range chunks(ci) {
		total += s
	}
	return total
}

// ArenaFor sizes an arena for perChannel buffers of every channel.
func ArenaFor(channels []api.ChannelInfo, perChannel int) (*pool.Arena, error) {
	size := 0
	for _, ci := range channels {
		for _, s := range chunks(ci) {
			size += pool.ArenaSize(s, perChannel)
		}
	}
	arena, err := pool.NewArena(size)
	if err != nil {
		return nil, errors.Wrap(err, api.ErrCodeFail, "map payload arena")
	}
	return arena, nil
}

// NewPayload carves a payload for ci out of arena.
func NewPayload(ci api.ChannelInfo, arena *pool.Arena) api.Payload {
	switch ci.Kind {
	case api.KindBitstream:
		return &api.Bitstream{Data: arena.Alloc(ci.Width * ci.Height)}
	case api.KindMetadataBlock:
		return &api.MetadataBlock{Data: arena.Alloc(ci.Width * ci.Height)}
	}
	pitch, sizes := planeSizes(ci)
	f := &api.VideoFrame{Width: ci.Width, Height: ci.Height, Pitch: pitch, Format: ci.Format}
	for _, s := range sizes {
		f.Planes = append(f.Planes, arena.Alloc(s))
	}
	return f
}

// ArenaPayloads returns a PayloadFunc allocating channels[ch] from arena.
func ArenaPayloads(channels []api.ChannelInfo, arena *pool.Arena) PayloadFunc {
	return func(ch, _ int) api.Payload { return NewPayload(channels[ch], arena) }
}
