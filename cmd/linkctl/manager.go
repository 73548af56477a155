// File: cmd/linkctl/manager.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"

	"github.com/momentics/hioload-link/links"
)

const version = "0.3.0"

// Manager wires the linkctl commands.
type Manager struct {
	app     *orpheus.App
	out     io.Writer
	catalog *links.Catalog
}

// NewManager builds the command tree.
func NewManager() *Manager {
	m := &Manager{
		app: orpheus.New("linkctl").
			SetDescription("Link pipeline runner and statistics browser").
			SetVersion(version),
		out:     os.Stdout,
		catalog: links.NewCatalog(nil),
	}

	validateCmd := orpheus.NewCommand("validate", "Validate a topology file").
		SetHandler(m.handleValidate)
	m.app.AddCommand(validateCmd)

	runCmd := orpheus.NewCommand("run", "Run a topology until the duration elapses or a signal arrives").
		SetHandler(m.handleRun)
	runCmd.AddFlag("duration", "d", "10s", "How long to run")
	runCmd.AddFlag("stats-db", "s", "", "SQLite file receiving statistics snapshots")
	runCmd.AddFlag("rpc-timeout", "t", "2s", "Cross-core command timeout")
	runCmd.AddBoolFlag("pin", "p", false, "Pin link workers to their processor's CPUs")
	m.app.AddCommand(runCmd)

	statsCmd := orpheus.NewCommand("stats", "Show persisted statistics snapshots").
		SetHandler(m.handleStats)
	statsCmd.AddFlag("link", "l", "", "Only this link")
	statsCmd.AddIntFlag("limit", "n", 20, "Maximum rows")
	m.app.AddCommand(statsCmd)

	infoCmd := orpheus.NewCommand("info", "List link kinds, plugins and limits").
		SetHandler(m.handleInfo)
	m.app.AddCommand(infoCmd)

	return m
}

// Run executes the CLI with args (without the program name).
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}
