// File: dispatch/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package dispatch routes commands to links. A command for a link owned by
// this processor is delivered directly; acknowledged local commands are
// serialized by one link-control mutex per processor. Everything else goes
// to the cross-core channel.

package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

// Table is the local link table.
type Table interface {
	Proc() api.ProcID
	Lookup(id api.LinkID) (api.Link, error)
	Retire(id api.LinkID) error
}

// RemoteSender carries commands to links on other processors.
type RemoteSender interface {
	Send(ctx context.Context, id api.LinkID, cmd api.Command) ([]byte, error)
	Notify(id api.LinkID) error
}

// Stats counts routed commands.
type Stats struct {
	LocalAcked atomic.Uint64
	LocalPosts atomic.Uint64
	Remote     atomic.Uint64
	Notifies   atomic.Uint64
	Errors     atomic.Uint64
}

// Dispatcher is the command router of one processor.
type Dispatcher struct {
	self   api.ProcID
	table  Table
	remote atomic.Pointer[remoteHolder]
	linkMu sync.Mutex
	log    *slog.Logger
	stats  Stats
}

type remoteHolder struct{ RemoteSender }

// New creates a dispatcher over table. A remote sender is attached once the
// processor's channel exists.
func New(table Table, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		self:  table.Proc(),
		table: table,
		log:   logger.With("component", "dispatch", "proc", uint8(table.Proc())),
	}
}

// AttachRemote installs the cross-core sender.
func (d *Dispatcher) AttachRemote(r RemoteSender) {
	d.remote.Store(&remoteHolder{r})
}

// Self returns the owning processor.
func (d *Dispatcher) Self() api.ProcID { return d.self }

// Stats exposes routing counters.
func (d *Dispatcher) Stats() *Stats { return &d.stats }

// Dispatch delivers cmd to id and, when cmd.WaitForAck is set, returns the
// link's reply. A successful acknowledged DELETE retires the id.
func (d *Dispatcher) Dispatch(ctx context.Context, id api.LinkID, cmd api.Command) ([]byte, error) {
	if len(cmd.Param) > api.MaxMsgSize {
		d.stats.Errors.Add(1)
		return nil, errors.New(api.ErrCodeInvalidParams, "param blob exceeds message size").
			WithContext("link", id.String()).
			WithContext("size", len(cmd.Param))
	}
	if id.Proc != d.self {
		r := d.remote.Load()
		if r == nil {
			d.stats.Errors.Add(1)
			return nil, errors.New(api.ErrCodeNotFound, "no route to processor").
				WithContext("link", id.String())
		}
		d.stats.Remote.Add(1)
		reply, err := r.Send(ctx, id, cmd)
		if err != nil {
			d.stats.Errors.Add(1)
		}
		return reply, err
	}
	reply, err := d.local(ctx, id, cmd)
	if err != nil {
		d.stats.Errors.Add(1)
	}
	return reply, err
}

func (d *Dispatcher) local(ctx context.Context, id api.LinkID, cmd api.Command) ([]byte, error) {
	l, err := d.table.Lookup(id)
	if err != nil {
		return nil, err
	}
	if !cmd.WaitForAck {
		d.stats.LocalPosts.Add(1)
		return l.Control(ctx, cmd)
	}
	d.stats.LocalAcked.Add(1)
	d.linkMu.Lock()
	defer d.linkMu.Unlock()
	reply, err := l.Control(ctx, cmd)
	if err == nil && cmd.Code == api.CmdDelete {
		if rerr := d.table.Retire(id); rerr != nil {
			d.log.Error("retire after delete failed", "link", id.String(), "error", rerr)
		}
	}
	return reply, err
}

// SendLinkCmd posts code to id without waiting. It never blocks and never
// takes the link-control mutex. Remote targets only accept NEW_DATA.
func (d *Dispatcher) SendLinkCmd(id api.LinkID, code api.CmdCode) error {
	if id.Proc == d.self {
		l, err := d.table.Lookup(id)
		if err != nil {
			return err
		}
		d.stats.LocalPosts.Add(1)
		_, err = l.Control(context.Background(), api.Command{Code: code})
		return err
	}
	if code != api.CmdNewData {
		return errors.New(api.ErrCodeInvalidParams, "remote fire-and-forget supports NEW_DATA only").
			WithContext("link", id.String()).
			WithContext("command", code.String())
	}
	r := d.remote.Load()
	if r == nil {
		return errors.New(api.ErrCodeNotFound, "no route to processor").
			WithContext("link", id.String())
	}
	d.stats.Notifies.Add(1)
	return r.Notify(id)
}

// HandleRemote runs a request received from another processor exactly like
// a local call.
func (d *Dispatcher) HandleRemote(ctx context.Context, id api.LinkID, cmd api.Command) ([]byte, error) {
	if id.Proc != d.self {
		return nil, errors.New(api.ErrCodeNotFound, "request routed to wrong processor").
			WithContext("link", id.String()).
			WithContext("proc", uint8(d.self))
	}
	reply, err := d.local(ctx, id, cmd)
	if err != nil {
		d.stats.Errors.Add(1)
	}
	return reply, err
}
