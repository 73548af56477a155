// File: api/link.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Link contracts: the registry-facing Link, the Stage callbacks a concrete
// link implements, and the resolution hooks stages use to reach neighbours.

package api

import "context"

// ChannelInfo describes one channel of an output queue.
type ChannelInfo struct {
	Width  int        `json:"width"`
	Height int        `json:"height"`
	Pitch  [3]int     `json:"pitch"`
	Format DataFormat `json:"format"`
	Flags  uint32     `json:"flags"`
	Kind   BufferKind `json:"kind"`
}

// QueueInfo describes one output queue.
type QueueInfo struct {
	NumChannels int           `json:"numChannels"`
	Channels    []ChannelInfo `json:"channels"`
}

// LinkInfo is published by a link at create time and is read-only afterwards.
type LinkInfo struct {
	NumQueues int         `json:"numQueues"`
	Queues    []QueueInfo `json:"queues"`
}

// Link is the registry entry for one pipeline stage.
type Link interface {
	ID() LinkID
	Name() string
	State() State
	// Control delivers cmd to the link worker. With cmd.WaitForAck it blocks
	// until the worker has processed the command and returns its reply.
	Control(ctx context.Context, cmd Command) ([]byte, error)
	GetFullBuffers(queueID int, list *BufferList) error
	PutEmptyBuffers(queueID int, list *BufferList) error
	GetLinkInfo() (LinkInfo, error)
}

// Stage is implemented by each link variant. All callbacks except the two
// buffer-exchange methods run on the link's own worker.
type Stage interface {
	Create(param []byte) (LinkInfo, error)
	Process() error
	Control(code CmdCode, param []byte) ([]byte, error)
	Stop() error
	Delete() error
	GetFullBuffers(queueID int, list *BufferList) error
	PutEmptyBuffers(queueID int, list *BufferList) error
}

// Starter is an optional Stage hook run on START.
type Starter interface {
	Start() error
}

// BufferStatsReporter is an optional Stage hook backing PRINT_BUFFER_STATISTICS.
type BufferStatsReporter interface {
	BufferStatistics() map[string]int
}

// Resolver locates a link anywhere in the system for buffer exchange.
type Resolver interface {
	Resolve(id LinkID) (Link, error)
}

// Notifier sends fire-and-forget commands (NEW_DATA on the hot path).
type Notifier interface {
	SendLinkCmd(id LinkID, code CmdCode) error
}

// InQueueParams addresses the producer queue a consumer reads from.
type InQueueParams struct {
	PrevLinkID  uint32 `json:"prevLinkId"`
	PrevQueueID int    `json:"prevQueueId"`
}

// Prev returns the producer LinkID.
func (p InQueueParams) Prev() LinkID { return LinkIDFromUint32(p.PrevLinkID) }

// OutQueueParams addresses the consumer notified on new output.
type OutQueueParams struct {
	NextLinkID uint32 `json:"nextLinkId"`
}

// Next returns the consumer LinkID.
func (p OutQueueParams) Next() LinkID { return LinkIDFromUint32(p.NextLinkID) }
