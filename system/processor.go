// File: system/processor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package system

import (
	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/dispatch"
	"github.com/momentics/hioload-link/ipc"
	"github.com/momentics/hioload-link/link"
	"github.com/momentics/hioload-link/registry"
)

// Processor is one simulated core: its link table, command router and
// cross-core endpoint.
type Processor struct {
	spec    ProcessorSpec
	reg     *registry.Registry
	disp    *dispatch.Dispatcher
	channel *ipc.Channel
	runners []*link.Runner
}

// ID returns the processor id.
func (p *Processor) ID() api.ProcID { return api.ProcID(p.spec.ID) }

// Name returns the configured name.
func (p *Processor) Name() string { return p.spec.Name }

// CPUs returns the configured CPU list.
func (p *Processor) CPUs() []int { return p.spec.CPUs }

// Registry returns the local link table.
func (p *Processor) Registry() *registry.Registry { return p.reg }

// Dispatcher returns the command router.
func (p *Processor) Dispatcher() *dispatch.Dispatcher { return p.disp }

// Channel returns the cross-core endpoint.
func (p *Processor) Channel() *ipc.Channel { return p.channel }

func (p *Processor) debugState() map[string]any {
	links := make(map[string]string, len(p.runners))
	for _, r := range p.runners {
		links[r.Name()] = r.State().String()
	}
	ds, cs := p.disp.Stats(), p.channel.Stats()
	return map[string]any{
		"links":      links,
		"registered": p.reg.Len(),
		"dispatch": map[string]uint64{
			"localAcked": ds.LocalAcked.Load(),
			"localPosts": ds.LocalPosts.Load(),
			"remote":     ds.Remote.Load(),
			"notifies":   ds.Notifies.Load(),
			"errors":     ds.Errors.Load(),
		},
		"channel": map[string]uint64{
			"sent":         cs.Sent.Load(),
			"served":       cs.Served.Load(),
			"remoteErrors": cs.RemoteErrors.Load(),
			"timeouts":     cs.Timeouts.Load(),
			"lateAcks":     cs.LateAcks.Load(),
			"eventsSent":   cs.EventsSent.Load(),
			"eventsRung":   cs.EventsRung.Load(),
			"eventsRecv":   cs.EventsRecv.Load(),
			"strayAcks":    cs.StrayAcks.Load(),
		},
	}
}
