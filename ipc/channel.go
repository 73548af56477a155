// File: ipc/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CrossCoreChannel endpoint of one processor.
//
// Outbound: one call in flight per processor. The caller takes the send
// token, writes its own slot, rings the destination and waits on the ack
// semaphore. A caller that gives up (context done) returns a timeout but the
// token is only released once the late ack arrives, so the slot is never
// rewritten while the peer may still be reading it.
//
// Inbound: a single receive goroutine waits on every peer line. Messages are
// served on their own goroutine so a slow handler never holds back acks;
// events are expanded into local fire-and-forget NEW_DATA posts.

package ipc

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

// Handler executes remote requests on the receiving processor.
type Handler interface {
	HandleRemote(ctx context.Context, id api.LinkID, cmd api.Command) ([]byte, error)
	SendLinkCmd(id api.LinkID, code api.CmdCode) error
}

// Options tune a Channel.
type Options struct {
	// RPCTimeout bounds a call whose context carries no deadline. Zero waits
	// for the peer indefinitely.
	RPCTimeout time.Duration
	Logger     *slog.Logger
}

// ChannelStats are the endpoint counters.
type ChannelStats struct {
	Sent         atomic.Uint64
	Served       atomic.Uint64
	RemoteErrors atomic.Uint64
	Timeouts     atomic.Uint64
	LateAcks     atomic.Uint64
	EventsSent   atomic.Uint64
	EventsRung   atomic.Uint64
	EventsRecv   atomic.Uint64
	StrayAcks    atomic.Uint64
}

// Channel is the messaging endpoint of one processor.
type Channel struct {
	self    api.ProcID
	fabric  *Fabric
	handler Handler
	log     *slog.Logger
	timeout time.Duration

	token chan struct{} // send mutex
	ack   chan uint16   // binary ack semaphore, carries the ack arg
	seq   uint32        // guarded by token

	// outstanding is the ack the current call waits for (see expectAck);
	// zero when no call is in flight. The receive loop claims it with a CAS
	// so each call accepts exactly one ack.
	outstanding atomic.Uint32

	started   atomic.Bool
	cancel    context.CancelFunc
	closing   chan struct{}
	loopDone  chan struct{}
	serving   sync.WaitGroup
	closeOnce sync.Once

	stats ChannelStats
}

// NewChannel creates the endpoint of self. Start must run before peers send.
func NewChannel(f *Fabric, self api.ProcID, h Handler, opts Options) (*Channel, error) {
	if !f.Has(self) {
		return nil, errors.New(api.ErrCodeInvalidParams, "processor not part of fabric").
			WithContext("proc", uint8(self))
	}
	if h == nil {
		return nil, errors.New(api.ErrCodeInvalidParams, "channel handler is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		self:     self,
		fabric:   f,
		handler:  h,
		log:      logger.With("component", "ipc", "proc", uint8(self)),
		timeout:  opts.RPCTimeout,
		token:    make(chan struct{}, 1),
		ack:      make(chan uint16, 1),
		closing:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}, nil
}

// Self returns the owning processor.
func (c *Channel) Self() api.ProcID { return c.self }

// Stats exposes the endpoint counters.
func (c *Channel) Stats() *ChannelStats { return &c.stats }

// Start launches the receive goroutine.
func (c *Channel) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New(api.ErrCodeFail, "channel already started").
			WithContext("proc", uint8(c.self))
	}
	ctx, c.cancel = context.WithCancel(ctx)
	go c.receive(ctx)
	c.log.Debug("receive loop started")
	return nil
}

// Send executes cmd on the processor owning id and returns its reply.
// Without WaitForAck only NEW_DATA is accepted; it travels as an event.
func (c *Channel) Send(ctx context.Context, id api.LinkID, cmd api.Command) ([]byte, error) {
	select {
	case <-c.closing:
		return nil, c.closedErr(id)
	default:
	}
	dst := id.Proc
	if dst == c.self {
		return nil, errors.New(api.ErrCodeInvalidParams, "local link sent over cross-core channel").
			WithContext("link", id.String())
	}
	if !c.fabric.Has(dst) {
		return nil, errors.New(api.ErrCodeNotFound, "unknown destination processor").
			WithContext("link", id.String())
	}
	if !cmd.WaitForAck {
		if cmd.Code == api.CmdNewData {
			return nil, c.Notify(id)
		}
		return nil, errors.New(api.ErrCodeInvalidParams, "remote fire-and-forget supports NEW_DATA only").
			WithContext("link", id.String()).
			WithContext("command", cmd.Code.String())
	}
	if len(cmd.Param) > api.MaxMsgSize {
		return nil, errors.New(api.ErrCodeInvalidParams, "param blob exceeds message size").
			WithContext("size", len(cmd.Param))
	}
	if c.timeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
	}

	select {
	case c.token <- struct{}{}:
	case <-ctx.Done():
		c.stats.Timeouts.Add(1)
		return nil, c.timeoutErr(ctx, id, cmd.Code, "waiting for message slot")
	case <-c.closing:
		return nil, c.closedErr(id)
	}

	c.seq++
	seq := c.seq
	s := c.fabric.slots[c.self]
	if err := s.writeRequest(Message{
		LinkID:     id,
		Code:       cmd.Code,
		WaitForAck: true,
		Seq:        seq,
		Payload:    cmd.Param,
	}); err != nil {
		<-c.token
		return nil, err
	}
	c.outstanding.Store(expectAck(dst, uint16(seq)))
	if err := c.fabric.notify.Ring(Doorbell{Kind: KindMsg, Src: c.self, Dst: dst, Arg: uint16(seq)}); err != nil {
		c.outstanding.Store(0)
		<-c.token
		return nil, err
	}
	c.stats.Sent.Add(1)

	select {
	case arg := <-c.ack:
		defer func() { <-c.token }()
		return c.readReply(s, id, seq, arg)
	case <-ctx.Done():
		c.stats.Timeouts.Add(1)
		go c.awaitLateAck()
		return nil, c.timeoutErr(ctx, id, cmd.Code, "waiting for ack")
	case <-c.closing:
		return nil, c.closedErr(id)
	}
}

func (c *Channel) readReply(s slot, id api.LinkID, seq uint32, arg uint16) ([]byte, error) {
	m, err := s.read()
	if err != nil {
		return nil, err
	}
	if m.Seq != seq || arg != uint16(seq) {
		return nil, errors.New(api.ErrCodeFail, "ack does not match outstanding call").
			WithContext("link", id.String()).
			WithContext("seq", seq).
			WithContext("slotSeq", m.Seq)
	}
	if m.Status != api.StatusOK {
		return nil, api.ErrorFromStatus(m.Status, string(m.Payload))
	}
	return m.Payload, nil
}

// awaitLateAck keeps the slot reserved until the abandoned call completes.
func (c *Channel) awaitLateAck() {
	select {
	case <-c.ack:
		c.stats.LateAcks.Add(1)
		<-c.token
	case <-c.closing:
	}
}

// Notify posts a coalesced NEW_DATA for id on its processor.
func (c *Channel) Notify(id api.LinkID) error {
	dst := id.Proc
	set, ok := c.fabric.events[dst]
	if !ok || dst == c.self {
		return errors.New(api.ErrCodeInvalidParams, "event target is not a remote processor").
			WithContext("link", id.String())
	}
	c.stats.EventsSent.Add(1)
	if !set.add(id) {
		return nil
	}
	if err := c.fabric.notify.Ring(Doorbell{Kind: KindEvent, Src: c.self, Dst: dst}); err != nil {
		set.disarm()
		return err
	}
	c.stats.EventsRung.Add(1)
	return nil
}

func (c *Channel) receive(ctx context.Context) {
	defer close(c.loopDone)
	for {
		d, err := c.fabric.notify.Wait(ctx, c.self)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("dropping malformed doorbell", "error", err)
			continue
		}
		switch d.Kind {
		case KindMsg:
			c.serving.Add(1)
			go c.serve(ctx, d)
		case KindAck:
			if !c.outstanding.CompareAndSwap(expectAck(d.Src, d.Arg), 0) {
				c.stats.StrayAcks.Add(1)
				c.log.Warn("ack without outstanding call", "from", uint8(d.Src), "arg", d.Arg)
				continue
			}
			c.ack <- d.Arg
		case KindEvent:
			c.deliverEvents()
		}
	}
}

func (c *Channel) serve(ctx context.Context, d Doorbell) {
	defer c.serving.Done()
	s := c.fabric.slots[d.Src]
	m, err := s.read()
	var reply []byte
	if err == nil {
		reply, err = c.handler.HandleRemote(ctx, m.LinkID, api.Command{
			Code:       m.Code,
			Param:      m.Payload,
			WaitForAck: m.WaitForAck,
		})
	}
	status := api.StatusOK
	if err != nil {
		c.stats.RemoteErrors.Add(1)
		status = api.StatusOf(err)
		reply = errorText(err)
	}
	s.writeReply(status, reply)
	c.stats.Served.Add(1)
	if err := c.fabric.notify.Ring(Doorbell{Kind: KindAck, Src: c.self, Dst: d.Src, Arg: d.Arg}); err != nil {
		c.log.Error("ack ring failed", "to", uint8(d.Src), "error", err)
	}
}

func (c *Channel) deliverEvents() {
	for _, id := range c.fabric.events[c.self].take() {
		c.stats.EventsRecv.Add(1)
		if err := c.handler.SendLinkCmd(id, api.CmdNewData); err != nil {
			c.log.Debug("event target unavailable", "link", id.String(), "error", err)
		}
	}
}

// Close stops the receive loop, waits for in-progress requests and fails
// pending calls with a Closed error.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		if c.started.Load() {
			c.cancel()
			<-c.loopDone
		}
		c.serving.Wait()
		c.log.Debug("channel closed")
	})
}

func (c *Channel) timeoutErr(ctx context.Context, id api.LinkID, code api.CmdCode, what string) error {
	return errors.Wrap(ctx.Err(), api.ErrCodeTimeout, "remote command timed out "+what).
		WithContext("link", id.String()).
		WithContext("command", code.String())
}

func (c *Channel) closedErr(id api.LinkID) error {
	return errors.New(api.ErrCodeClosed, "cross-core channel closed").
		WithContext("link", id.String())
}

// expectAck identifies the ack of call seq sent to dst. Bit 31 keeps it
// distinct from the idle value.
func expectAck(dst api.ProcID, seq uint16) uint32 {
	return 1<<31 | uint32(dst)<<16 | uint32(seq)
}

func errorText(err error) []byte {
	msg := err.Error()
	if len(msg) > api.MaxMsgSize {
		msg = msg[:api.MaxMsgSize]
	}
	return []byte(msg)
}
