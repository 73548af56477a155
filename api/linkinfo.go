// File: api/linkinfo.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed binary form of LinkInfo carried by GET_INFO replies:
//
//	u8 numQueues
//	per queue:   u8 numChannels
//	per channel: u16 width, u16 height, u16 pitch[3], u8 format<<4|kind, u32 flags
//
// Little-endian. The largest LinkInfo (MaxQueues x MaxChannels) fits in
// MaxMsgSize.

package api

import (
	"encoding/binary"

	"github.com/agilira/go-errors"
)

const channelInfoSize = 15

// MaxLinkInfoSize is the encoded size of the largest LinkInfo.
const MaxLinkInfoSize = 1 + MaxQueues*(1+MaxChannels*channelInfoSize)

// EncodeLinkInfo packs info. Values outside the wire ranges (dimensions
// above 65535, inconsistent counts) are rejected with InvalidParams.
func EncodeLinkInfo(info LinkInfo) ([]byte, error) {
	if info.NumQueues < 0 || info.NumQueues > MaxQueues || info.NumQueues != len(info.Queues) {
		return nil, errors.New(ErrCodeInvalidParams, "link info queue count out of range").
			WithContext("numQueues", info.NumQueues)
	}
	le := binary.LittleEndian
	b := make([]byte, 0, MaxLinkInfoSize)
	b = append(b, uint8(info.NumQueues))
	for q, qi := range info.Queues {
		if qi.NumChannels < 0 || qi.NumChannels > MaxChannels || qi.NumChannels != len(qi.Channels) {
			return nil, errors.New(ErrCodeInvalidParams, "link info channel count out of range").
				WithContext("queue", q).
				WithContext("numChannels", qi.NumChannels)
		}
		b = append(b, uint8(qi.NumChannels))
		for ch, ci := range qi.Channels {
			dims := [5]int{ci.Width, ci.Height, ci.Pitch[0], ci.Pitch[1], ci.Pitch[2]}
			for _, d := range dims {
				if d < 0 || d > 0xFFFF {
					return nil, errors.New(ErrCodeInvalidParams, "channel dimension does not fit link info").
						WithContext("queue", q).
						WithContext("channel", ch).
						WithContext("value", d)
				}
				b = le.AppendUint16(b, uint16(d))
			}
			if ci.Format > 0x0F || ci.Kind > 0x0F {
				return nil, errors.New(ErrCodeInvalidParams, "channel format or kind does not fit link info").
					WithContext("queue", q).
					WithContext("channel", ch)
			}
			b = append(b, uint8(ci.Format)<<4|uint8(ci.Kind))
			b = le.AppendUint32(b, ci.Flags)
		}
	}
	return b, nil
}

// DecodeLinkInfo is the inverse of EncodeLinkInfo.
func DecodeLinkInfo(b []byte) (LinkInfo, error) {
	var info LinkInfo
	short := func() (LinkInfo, error) {
		return LinkInfo{}, errors.New(ErrCodeInvalidParams, "truncated link info").
			WithContext("size", len(b))
	}
	if len(b) < 1 {
		return short()
	}
	le := binary.LittleEndian
	info.NumQueues = int(b[0])
	if info.NumQueues > MaxQueues {
		return LinkInfo{}, errors.New(ErrCodeInvalidParams, "link info queue count out of range").
			WithContext("numQueues", info.NumQueues)
	}
	off := 1
	info.Queues = make([]QueueInfo, info.NumQueues)
	for q := range info.Queues {
		if off >= len(b) {
			return short()
		}
		n := int(b[off])
		off++
		if n > MaxChannels {
			return LinkInfo{}, errors.New(ErrCodeInvalidParams, "link info channel count out of range").
				WithContext("queue", q).
				WithContext("numChannels", n)
		}
		if off+n*channelInfoSize > len(b) {
			return short()
		}
		qi := QueueInfo{NumChannels: n, Channels: make([]ChannelInfo, n)}
		for ch := range qi.Channels {
			c := b[off : off+channelInfoSize]
			qi.Channels[ch] = ChannelInfo{
				Width:  int(le.Uint16(c[0:])),
				Height: int(le.Uint16(c[2:])),
				Pitch:  [3]int{int(le.Uint16(c[4:])), int(le.Uint16(c[6:])), int(le.Uint16(c[8:]))},
				Format: DataFormat(c[10] >> 4),
				Kind:   BufferKind(c[10] & 0x0F),
				Flags:  le.Uint32(c[11:]),
			}
			off += channelInfoSize
		}
		info.Queues[q] = qi
	}
	if off != len(b) {
		return LinkInfo{}, errors.New(ErrCodeInvalidParams, "trailing bytes after link info").
			WithContext("size", len(b))
	}
	return info, nil
}
