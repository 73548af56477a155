// File: system/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package system

import (
	"log/slog"
	"time"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/links"
)

// Config holds parameters immutable per run.
type Config struct {
	RPCTimeout      time.Duration       // Bound on a cross-core call whose context has no deadline
	CommandTimeout  time.Duration       // Bound on each lifecycle command issued by the system
	ShutdownTimeout time.Duration       // Bound on the whole stop/delete sequence
	StatsDB         string              // SQLite file for statistics snapshots; empty disables persistence
	CPUAffinity     bool                // Pin link workers to their processor's CPU list
	EnableDebug     bool                // Register platform and per-processor debug probes
	Logger          *slog.Logger        // Root logger; nil uses slog.Default()
	Bringup         api.HardwareBringup // Core bring-up hook; nil assumes cores are running
	Catalog         *links.Catalog      // Link kinds; nil uses the built-in catalog
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		RPCTimeout:      2 * time.Second,  // Generous for control traffic
		CommandTimeout:  5 * time.Second,  // Per lifecycle command
		ShutdownTimeout: 30 * time.Second, // Whole teardown
		StatsDB:         "",               // No persistence
		CPUAffinity:     false,            // Leave scheduling to the runtime
		EnableDebug:     true,             // Debug probes on
	}
}

func (c *Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) catalog() *links.Catalog {
	if c.Catalog != nil {
		return c.Catalog
	}
	return links.NewCatalog(nil)
}
