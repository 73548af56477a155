// File: ipc/notify.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// NotifyChannel: one doorbell line per ordered processor pair. A line holds
// at most one message, one ack and one event at any time (sends are
// serialized per source and events are coalesced), so ringing never blocks.

package ipc

import (
	"context"
	"reflect"
	"sync"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
)

const lineDepth = 4

type lineKey struct{ src, dst api.ProcID }

// Notify is the doorbell fabric between a fixed set of processors.
type Notify struct {
	procs []api.ProcID
	lines map[lineKey]chan uint32

	mu    sync.Mutex
	cases map[api.ProcID][]reflect.SelectCase
}

// NewNotify wires a line between every ordered pair of procs.
func NewNotify(procs []api.ProcID) (*Notify, error) {
	seen := make(map[api.ProcID]bool, len(procs))
	for _, p := range procs {
		if p >= api.MaxProcessors {
			return nil, errors.New(api.ErrCodeInvalidParams, "processor id out of range").
				WithContext("proc", uint8(p))
		}
		if seen[p] {
			return nil, errors.New(api.ErrCodeInvalidParams, "duplicate processor id").
				WithContext("proc", uint8(p))
		}
		seen[p] = true
	}
	n := &Notify{
		procs: append([]api.ProcID(nil), procs...),
		lines: make(map[lineKey]chan uint32),
		cases: make(map[api.ProcID][]reflect.SelectCase),
	}
	for _, src := range procs {
		for _, dst := range procs {
			if src != dst {
				n.lines[lineKey{src, dst}] = make(chan uint32, lineDepth)
			}
		}
	}
	return n, nil
}

// Procs returns the processors the fabric connects.
func (n *Notify) Procs() []api.ProcID { return append([]api.ProcID(nil), n.procs...) }

// Ring sends d on the src→dst line.
func (n *Notify) Ring(d Doorbell) error {
	line, ok := n.lines[lineKey{d.Src, d.Dst}]
	if !ok {
		return errors.New(api.ErrCodeNotFound, "no notify line").
			WithContext("src", uint8(d.Src)).
			WithContext("dst", uint8(d.Dst))
	}
	line <- d.Encode()
	return nil
}

// Wait blocks until any peer rings self or ctx is done.
func (n *Notify) Wait(ctx context.Context, self api.ProcID) (Doorbell, error) {
	cases := n.selectCases(self)
	sel := make([]reflect.SelectCase, 0, len(cases)+1)
	sel = append(sel, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	sel = append(sel, cases...)
	chosen, v, _ := reflect.Select(sel)
	if chosen == 0 {
		return Doorbell{}, errors.Wrap(ctx.Err(), api.ErrCodeClosed, "notify wait cancelled")
	}
	return DecodeDoorbell(uint32(v.Uint()))
}

func (n *Notify) selectCases(self api.ProcID) []reflect.SelectCase {
	n.mu.Lock()
	defer n.mu.Unlock()
	if c, ok := n.cases[self]; ok {
		return c
	}
	var c []reflect.SelectCase
	for _, src := range n.procs {
		if line, ok := n.lines[lineKey{src, self}]; ok {
			c = append(c, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(line)})
		}
	}
	n.cases[self] = c
	return c
}
