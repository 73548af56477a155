// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Addressing, command and state declarations shared by every layer of the
// link framework.

package api

import "fmt"

// Protocol limits.
const (
	// MaxMsgSize bounds a command param blob and a reply blob.
	MaxMsgSize = 1024
	// MaxProcessors is the number of processor ids representable on the doorbell.
	MaxProcessors = 64
	// MaxBufs is the capacity of a BufferList.
	MaxBufs = 16
	// MaxQueues bounds output (or input) queues per link.
	MaxQueues = 4
	// MaxChannels bounds channels per queue.
	MaxChannels = 16
)

// ProcID identifies a processor core.
type ProcID uint8

func (p ProcID) String() string {
	return fmt.Sprintf("proc%d", uint8(p))
}

// LinkID is the global address of a link: owning processor plus local index.
type LinkID struct {
	Proc  ProcID
	Index uint16
}

// NewLinkID builds a LinkID.
func NewLinkID(proc ProcID, index uint16) LinkID {
	return LinkID{Proc: proc, Index: index}
}

// Uint32 packs the id for the wire (Proc<<16 | Index).
func (id LinkID) Uint32() uint32 {
	return uint32(id.Proc)<<16 | uint32(id.Index)
}

// LinkIDFromUint32 is the inverse of LinkID.Uint32.
func LinkIDFromUint32(v uint32) LinkID {
	return LinkID{Proc: ProcID(v >> 16), Index: uint16(v)}
}

func (id LinkID) String() string {
	return fmt.Sprintf("%d:%d", uint8(id.Proc), id.Index)
}

// CmdCode is a command opcode.
type CmdCode uint32

// Framework command codes. Link-specific codes start at CmdLinkSpecificBase.
const (
	CmdCreate CmdCode = iota + 1
	CmdStart
	CmdStop
	CmdDelete
	CmdGetInfo
	CmdNewData
	CmdPrintStatistics
	CmdPrintBufferStatistics

	CmdLinkSpecificBase CmdCode = 0x1000
)

// IsLinkSpecific reports whether c belongs to a link's private code space.
func (c CmdCode) IsLinkSpecific() bool {
	return c >= CmdLinkSpecificBase
}

func (c CmdCode) String() string {
	switch c {
	case CmdCreate:
		return "CREATE"
	case CmdStart:
		return "START"
	case CmdStop:
		return "STOP"
	case CmdDelete:
		return "DELETE"
	case CmdGetInfo:
		return "GET_INFO"
	case CmdNewData:
		return "NEW_DATA"
	case CmdPrintStatistics:
		return "PRINT_STATISTICS"
	case CmdPrintBufferStatistics:
		return "PRINT_BUFFER_STATISTICS"
	}
	if c.IsLinkSpecific() {
		return fmt.Sprintf("LINK_CMD(0x%x)", uint32(c))
	}
	return fmt.Sprintf("CMD(%d)", uint32(c))
}

// Command is one request addressed to exactly one LinkID.
type Command struct {
	Code       CmdCode
	Param      []byte
	WaitForAck bool
}

// State is the lifecycle state of a link.
type State int32

const (
	StateIdle State = iota
	StateReady
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
