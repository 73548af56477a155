// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control over the statistics collector and
// the debug probe registry.

package adapters

import (
	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
)

type ControlAdapter struct {
	stats *control.Collector
	debug *control.DebugProbes
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter exposes stats and debug through api.Control. Nil
// arguments get fresh, empty instances with the platform probes installed.
func NewControlAdapter(stats *control.Collector, debug *control.DebugProbes) *ControlAdapter {
	if stats == nil {
		stats = control.NewCollector()
	}
	if debug == nil {
		debug = control.NewDebugProbes()
		control.RegisterPlatformProbes(debug)
	}
	return &ControlAdapter{stats: stats, debug: debug}
}

// Stats returns "link.<name>" snapshots followed by "debug.<probe>" values.
func (c *ControlAdapter) Stats() map[string]any {
	combined := make(map[string]any)
	for _, snap := range c.stats.Snapshot() {
		combined["link."+snap.Name] = snap
	}
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

func (c *ControlAdapter) Collector() *control.Collector { return c.stats }

func (c *ControlAdapter) Probes() *control.DebugProbes { return c.debug }
