// File: ipc/slot.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message slot codec. A slot is a fixed window of the shared region:
//
//	off  0  linkID     u32
//	off  4  code       u32
//	off  8  paramSize  u32
//	off 12  flags      u32  bit0 waitForAck
//	off 16  status     i32
//	off 20  seq        u32
//	off 24  reserved   u64
//	off 32  payload    [MaxMsgSize]byte
//
// All fields are little-endian. The request and its reply share the slot:
// the receiver overwrites status, paramSize and payload in place.

package ipc

import (
	"encoding/binary"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

const (
	slotHeaderSize = 32
	// SlotSize is the footprint of one message slot.
	SlotSize = slotHeaderSize + api.MaxMsgSize

	flagWaitForAck = 1 << 0
)

// Message is the decoded slot content.
type Message struct {
	LinkID     api.LinkID
	Code       api.CmdCode
	WaitForAck bool
	Status     int32
	Seq        uint32
	Payload    []byte
}

type slot []byte

func (s slot) writeRequest(m Message) error {
	if len(m.Payload) > api.MaxMsgSize {
		return errors.New(api.ErrCodeInvalidParams, "param blob exceeds message size").
			WithContext("size", len(m.Payload)).
			WithContext("max", api.MaxMsgSize)
	}
	le := binary.LittleEndian
	le.PutUint32(s[0:], m.LinkID.Uint32())
	le.PutUint32(s[4:], uint32(m.Code))
	le.PutUint32(s[8:], uint32(len(m.Payload)))
	var flags uint32
	if m.WaitForAck {
		flags |= flagWaitForAck
	}
	le.PutUint32(s[12:], flags)
	le.PutUint32(s[16:], uint32(m.Status))
	le.PutUint32(s[20:], m.Seq)
	le.PutUint64(s[24:], 0)
	copy(s[slotHeaderSize:], m.Payload)
	return nil
}

func (s slot) read() (Message, error) {
	le := binary.LittleEndian
	size := le.Uint32(s[8:])
	if size > api.MaxMsgSize {
		return Message{}, errors.New(api.ErrCodeFail, "corrupted message slot").
			WithContext("paramSize", size)
	}
	m := Message{
		LinkID:     api.LinkIDFromUint32(le.Uint32(s[0:])),
		Code:       api.CmdCode(le.Uint32(s[4:])),
		WaitForAck: le.Uint32(s[12:])&flagWaitForAck != 0,
		Status:     int32(le.Uint32(s[16:])),
		Seq:        le.Uint32(s[20:]),
	}
	if size > 0 {
		m.Payload = make([]byte, size)
		copy(m.Payload, s[slotHeaderSize:slotHeaderSize+int(size)])
	}
	return m, nil
}

// writeReply stores the outcome of a request. Replies that do not fit are
// turned into an InvalidParams status.
func (s slot) writeReply(status int32, payload []byte) {
	if len(payload) > api.MaxMsgSize {
		status = api.StatusInvalidParams
		payload = []byte("reply exceeds message size")
	}
	le := binary.LittleEndian
	le.PutUint32(s[8:], uint32(len(payload)))
	le.PutUint32(s[16:], uint32(status))
	copy(s[slotHeaderSize:], payload)
}
