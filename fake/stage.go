// Package fake
// Author: momentics <momentics@gmail.com>
//
// Fake implementations for testing and development.
// Provides predictable, controllable behavior for the link contracts.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-link/api"
)

// Stage is a fake api.Stage recording every callback.
type Stage struct {
	mu         sync.Mutex
	calls      []string
	info       api.LinkInfo
	createErr  error
	startErr   error
	processErr error
	controlErr error
	stopErr    error
	deleteErr  error
	onProcess  func()
}

var (
	_ api.Stage               = (*Stage)(nil)
	_ api.Starter             = (*Stage)(nil)
	_ api.BufferStatsReporter = (*Stage)(nil)
)

// NewStage creates a fake stage publishing one queue with one channel.
func NewStage() *Stage {
	return &Stage{
		info: api.LinkInfo{
			NumQueues: 1,
			Queues: []api.QueueInfo{{
				NumChannels: 1,
				Channels:    []api.ChannelInfo{{Width: 64, Height: 32, Pitch: [3]int{64, 64}}},
			}},
		},
	}
}

func (s *Stage) record(format string, args ...any) {
	s.mu.Lock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
	s.mu.Unlock()
}

// Create implements api.Stage.
func (s *Stage) Create(param []byte) (api.LinkInfo, error) {
	s.record("create:%s", param)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return api.LinkInfo{}, s.createErr
	}
	return s.info, nil
}

// SetInfo replaces the LinkInfo published on create.
func (s *Stage) SetInfo(info api.LinkInfo) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

// Start implements api.Starter.
func (s *Stage) Start() error {
	s.record("start")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startErr
}

// Process implements api.Stage.
func (s *Stage) Process() error {
	s.record("process")
	s.mu.Lock()
	hook, err := s.onProcess, s.processErr
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

// Control implements api.Stage. The reply echoes code and param.
func (s *Stage) Control(code api.CmdCode, param []byte) ([]byte, error) {
	s.record("control:%s:%s", code, param)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.controlErr != nil {
		return nil, s.controlErr
	}
	return []byte(fmt.Sprintf("%s:%s", code, param)), nil
}

// Stop implements api.Stage.
func (s *Stage) Stop() error {
	s.record("stop")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopErr
}

// Delete implements api.Stage.
func (s *Stage) Delete() error {
	s.record("delete")
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteErr
}

// GetFullBuffers implements api.Stage; the fake never produces.
func (s *Stage) GetFullBuffers(int, *api.BufferList) error { return nil }

// PutEmptyBuffers implements api.Stage.
func (s *Stage) PutEmptyBuffers(_ int, list *api.BufferList) error {
	list.Reset()
	return nil
}

// BufferStatistics implements api.BufferStatsReporter.
func (s *Stage) BufferStatistics() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{"calls": len(s.calls)}
}

// Calls returns the recorded callbacks in order.
func (s *Stage) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// SetCreateError makes Create fail.
func (s *Stage) SetCreateError(err error) {
	s.mu.Lock()
	s.createErr = err
	s.mu.Unlock()
}

// SetStartError makes Start fail.
func (s *Stage) SetStartError(err error) {
	s.mu.Lock()
	s.startErr = err
	s.mu.Unlock()
}

// SetProcessError makes Process fail.
func (s *Stage) SetProcessError(err error) {
	s.mu.Lock()
	s.processErr = err
	s.mu.Unlock()
}

// SetControlError makes Control fail.
func (s *Stage) SetControlError(err error) {
	s.mu.Lock()
	s.controlErr = err
	s.mu.Unlock()
}

// SetDeleteError makes Delete fail.
func (s *Stage) SetDeleteError(err error) {
	s.mu.Lock()
	s.deleteErr = err
	s.mu.Unlock()
}

// OnProcess installs a hook run inside Process.
func (s *Stage) OnProcess(fn func()) {
	s.mu.Lock()
	s.onProcess = fn
	s.mu.Unlock()
}
