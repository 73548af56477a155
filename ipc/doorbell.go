// File: ipc/doorbell.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Doorbell payload layout (32 bits):
//
//	[31:28] kind   [27:22] source proc   [21:16] destination proc   [15:0] arg
//
// For a message or an ack the arg carries the low bits of the call sequence
// number; for an event it is unused.

package ipc

import (
	"fmt"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

// Kind tags what a doorbell announces.
type Kind uint8

const (
	KindMsg   Kind = 1 // request written into the source's slot
	KindAck   Kind = 2 // reply written into the destination's slot
	KindEvent Kind = 3 // pending NEW_DATA notifications for the destination
)

func (k Kind) String() string {
	switch k {
	case KindMsg:
		return "msg"
	case KindAck:
		return "ack"
	case KindEvent:
		return "event"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

const (
	kindShift = 28
	srcShift  = 22
	dstShift  = 16
	procMask  = 0x3f
)

// Doorbell is the decoded notify payload.
type Doorbell struct {
	Kind Kind
	Src  api.ProcID
	Dst  api.ProcID
	Arg  uint16
}

// Encode packs d. Processor ids above 63 do not fit and panic.
func (d Doorbell) Encode() uint32 {
	if d.Src >= api.MaxProcessors || d.Dst >= api.MaxProcessors {
		panic(fmt.Sprintf("ipc: processor id out of range (%d -> %d)", d.Src, d.Dst))
	}
	return uint32(d.Kind&0xf)<<kindShift |
		uint32(d.Src)<<srcShift |
		uint32(d.Dst)<<dstShift |
		uint32(d.Arg)
}

// DecodeDoorbell unpacks v.
func DecodeDoorbell(v uint32) (Doorbell, error) {
	d := Doorbell{
		Kind: Kind(v >> kindShift),
		Src:  api.ProcID(v >> srcShift & procMask),
		Dst:  api.ProcID(v >> dstShift & procMask),
		Arg:  uint16(v),
	}
	switch d.Kind {
	case KindMsg, KindAck, KindEvent:
		return d, nil
	}
	return d, errors.New(api.ErrCodeInvalidParams, "unknown doorbell kind").
		WithContext("payload", fmt.Sprintf("0x%08x", v))
}
