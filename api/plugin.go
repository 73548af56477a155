// File: api/plugin.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Algorithm plugin and hardware bring-up collaborator contracts.

package api

import "context"

// PluginHandle is opaque plugin state; the framework never inspects it.
type PluginHandle any

// AlgorithmPlugin is the processing body wrapped by an algorithm link.
// The framework sequences the calls per the link state machine.
type AlgorithmPlugin interface {
	Create(param map[string]any) (PluginHandle, error)
	Process(h PluginHandle, in, out *BufferList) error
	Control(h PluginHandle, code CmdCode, param []byte) ([]byte, error)
	Stop(h PluginHandle) error
	Delete(h PluginHandle) error
}

// HardwareBringup prepares a processor core before links are registered on it.
type HardwareBringup interface {
	EnsureCoreStarted(ctx context.Context, proc ProcID) error
}
