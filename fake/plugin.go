// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"

	"github.com/momentics/hioload-link/api"
)

// Plugin is a fake api.AlgorithmPlugin counting its calls. Process copies
// each input payload into the output buffer at the same index.
type Plugin struct {
	mu         sync.Mutex
	creates    int
	processes  int
	controls   int
	stops      int
	deletes    int
	lastParam  map[string]any
	createErr  error
	processErr error
	failures   int
}

var _ api.AlgorithmPlugin = (*Plugin)(nil)

// NewPlugin creates a fake plugin.
func NewPlugin() *Plugin { return &Plugin{} }

// Create implements api.AlgorithmPlugin.
func (p *Plugin) Create(param map[string]any) (api.PluginHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	p.lastParam = param
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p, nil
}

// Process implements api.AlgorithmPlugin.
func (p *Plugin) Process(_ api.PluginHandle, in, out *api.BufferList) error {
	p.mu.Lock()
	p.processes++
	err := p.processErr
	if p.failures > 0 {
		p.failures--
		if p.failures == 0 {
			p.processErr = nil
		}
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for i := 0; i < in.Count && i < out.Count; i++ {
		src, dst := in.Buffers[i].Frame(), out.Buffers[i].Frame()
		if src == nil || dst == nil {
			continue
		}
		for pl := range dst.Planes {
			if pl < len(src.Planes) {
				copy(dst.Planes[pl], src.Planes[pl])
			}
		}
	}
	return nil
}

// Control implements api.AlgorithmPlugin.
func (p *Plugin) Control(_ api.PluginHandle, code api.CmdCode, param []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.controls++
	return append([]byte(code.String()+":"), param...), nil
}

// Stop implements api.AlgorithmPlugin.
func (p *Plugin) Stop(api.PluginHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

// Delete implements api.AlgorithmPlugin.
func (p *Plugin) Delete(api.PluginHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deletes++
	return nil
}

// Counts returns create, process, control, stop and delete call counts.
func (p *Plugin) Counts() (creates, processes, controls, stops, deletes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates, p.processes, p.controls, p.stops, p.deletes
}

// LastParam returns the params of the last Create.
func (p *Plugin) LastParam() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastParam
}

// SetCreateError makes Create fail.
func (p *Plugin) SetCreateError(err error) {
	p.mu.Lock()
	p.createErr = err
	p.mu.Unlock()
}

// FailNext makes the next n Process calls fail with err.
func (p *Plugin) FailNext(n int, err error) {
	p.mu.Lock()
	p.processErr, p.failures = err, n
	p.mu.Unlock()
}

// SetProcessError makes Process fail.
func (p *Plugin) SetProcessError(err error) {
	p.mu.Lock()
	p.processErr, p.failures = err, 0
	p.mu.Unlock()
}
