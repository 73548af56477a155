// Package api
// Author: momentics
//
// Live introspection of a running link system.

package api

// Debug collects named probes and evaluates them on demand.
type Debug interface {
	// DumpState evaluates every probe.
	DumpState() map[string]any

	// RegisterProbe adds or replaces a named probe.
	RegisterProbe(name string, fn func() any)
}
