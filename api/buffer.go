// Package api
// Author: momentics
//
// Buffer handles exchanged between links.
//
// A Buffer is owned by exactly one of: a producer's full queue, a per-channel
// empty pool, or a single worker that popped it ("in flight"). Queues move
// ownership through the owner tag; a handle pushed into a second queue while
// still queued is an invariant violation and panics.

package api

import (
	"fmt"
	"sync/atomic"
)

// BufferKind enumerates payload variants.
type BufferKind uint8

const (
	KindVideoFrame BufferKind = iota
	KindBitstream
	KindMetadataBlock
	KindCompositeFrameSet
)

func (k BufferKind) String() string {
	switch k {
	case KindVideoFrame:
		return "video-frame"
	case KindBitstream:
		return "bitstream"
	case KindMetadataBlock:
		return "metadata"
	case KindCompositeFrameSet:
		return "composite-frame-set"
	default:
		return "unknown"
	}
}

// DataFormat describes the pixel layout of a video frame.
type DataFormat uint8

const (
	FormatYUV420SP DataFormat = iota
	FormatYUV422I
	FormatRGB24
	FormatRaw8
)

// Payload is the typed content of a Buffer.
type Payload interface {
	Kind() BufferKind
}

// VideoFrame is a planar or interleaved image.
type VideoFrame struct {
	Width  int
	Height int
	Pitch  [3]int
	Format DataFormat
	Planes [][]byte
}

// Kind implements Payload.
func (*VideoFrame) Kind() BufferKind { return KindVideoFrame }

// Bitstream is an encoded elementary stream chunk.
type Bitstream struct {
	Data       []byte
	FilledSize int
	KeyFrame   bool
}

// Kind implements Payload.
func (*Bitstream) Kind() BufferKind { return KindBitstream }

// MetadataBlock carries algorithm results.
type MetadataBlock struct {
	Data       []byte
	FilledSize int
}

// Kind implements Payload.
func (*MetadataBlock) Kind() BufferKind { return KindMetadataBlock }

// CompositeFrameSet groups frames captured together (e.g. surround cameras).
type CompositeFrameSet struct {
	Frames    []*VideoFrame
	ValidMask uint32
}

// Kind implements Payload.
func (*CompositeFrameSet) Kind() BufferKind { return KindCompositeFrameSet }

// Buffer is a handle to a payload plus exchange bookkeeping.
type Buffer struct {
	id      uint32
	payload Payload
	owner   atomic.Uint64 // 0: in flight; otherwise the holding queue's tag

	Channel   uint16
	CreatedAt int64 // ns, stamped by the producer when filled
	ArrivedAt int64 // ns, stamped by the consumer on receipt
}

// NewBuffer binds a payload to a new handle. The handle starts in flight.
func NewBuffer(id uint32, channel uint16, payload Payload) *Buffer {
	if payload == nil {
		panic("api: buffer payload must not be nil")
	}
	return &Buffer{id: id, payload: payload, Channel: channel}
}

// ID returns the pool-unique buffer id.
func (b *Buffer) ID() uint32 { return b.id }

// Kind returns the payload variant.
func (b *Buffer) Kind() BufferKind { return b.payload.Kind() }

// Payload returns the payload. Only the current owner may touch it.
func (b *Buffer) Payload() Payload { return b.payload }

// Frame returns the payload as a VideoFrame, or nil.
func (b *Buffer) Frame() *VideoFrame {
	f, _ := b.payload.(*VideoFrame)
	return f
}

// Owner returns the tag of the queue holding b, or 0 when in flight.
func (b *Buffer) Owner() uint64 { return b.owner.Load() }

// Enqueue moves b from in flight into the queue tagged tag.
func (b *Buffer) Enqueue(tag uint64) {
	if !b.owner.CompareAndSwap(0, tag) {
		panic(fmt.Sprintf("api: buffer %d already owned by queue %d", b.id, b.owner.Load()))
	}
}

// Dequeue moves b from the queue tagged tag back to in flight.
func (b *Buffer) Dequeue(tag uint64) {
	if !b.owner.CompareAndSwap(tag, 0) {
		panic(fmt.Sprintf("api: buffer %d popped from queue %d but owned by %d", b.id, tag, b.owner.Load()))
	}
}

// BufferList is the unit of bulk transfer between links.
type BufferList struct {
	Buffers [MaxBufs]*Buffer
	Count   int
}

// Append adds b, returning false when the list is full.
func (l *BufferList) Append(b *Buffer) bool {
	if l.Count >= MaxBufs {
		return false
	}
	l.Buffers[l.Count] = b
	l.Count++
	return true
}

// Full reports whether no more buffers fit.
func (l *BufferList) Full() bool { return l.Count >= MaxBufs }

// Reset empties the list.
func (l *BufferList) Reset() {
	for i := 0; i < l.Count; i++ {
		l.Buffers[i] = nil
	}
	l.Count = 0
}

// Slice returns the populated part of the list.
func (l *BufferList) Slice() []*Buffer { return l.Buffers[:l.Count] }

// MustValid panics when the list holds a nil handle.
func (l *BufferList) MustValid() {
	if l.Count < 0 || l.Count > MaxBufs {
		panic(fmt.Sprintf("api: buffer list count %d out of range", l.Count))
	}
	for i := 0; i < l.Count; i++ {
		if l.Buffers[i] == nil {
			panic(fmt.Sprintf("api: nil buffer handle at index %d", i))
		}
	}
}
