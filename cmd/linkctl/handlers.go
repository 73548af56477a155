// File: cmd/linkctl/handlers.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/system"
)

func (m *Manager) loadTopology(path string) (*system.Topology, error) {
	if path == "" {
		return nil, api.InvalidParams("topology file argument required")
	}
	topo, err := system.LoadTopology(path)
	if err != nil {
		return nil, err
	}
	if err := topo.Validate(m.catalog); err != nil {
		return nil, err
	}
	return topo, nil
}

func (m *Manager) handleValidate(ctx *orpheus.Context) error {
	topo, err := m.loadTopology(ctx.GetArg(0))
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "ok: %d processors, %d links\n", len(topo.Processors), len(topo.Links))
	return nil
}

func (m *Manager) handleRun(ctx *orpheus.Context) error {
	topo, err := m.loadTopology(ctx.GetArg(0))
	if err != nil {
		return err
	}
	duration, err := time.ParseDuration(ctx.GetFlagString("duration"))
	if err != nil {
		return errors.Wrap(err, api.ErrCodeInvalidParams, "bad duration")
	}
	rpcTimeout, err := time.ParseDuration(ctx.GetFlagString("rpc-timeout"))
	if err != nil {
		return errors.Wrap(err, api.ErrCodeInvalidParams, "bad rpc timeout")
	}
	cfg := system.DefaultConfig()
	cfg.StatsDB = ctx.GetFlagString("stats-db")
	cfg.RPCTimeout = rpcTimeout
	cfg.CPUAffinity = ctx.GetFlagBool("pin")
	cfg.Catalog = m.catalog

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sys, err := system.New(sigCtx, cfg, topo)
	if err != nil {
		return err
	}
	if err := m.bringUp(sigCtx, sys); err != nil {
		return err
	}
	fmt.Fprintf(m.out, "running %d links for %s\n", len(sys.Links()), duration)

	select {
	case <-time.After(duration):
	case <-sigCtx.Done():
		fmt.Fprintln(m.out, "interrupted")
	}

	for _, l := range topo.Links {
		snap, err := sys.Statistics(context.Background(), l.Name)
		if err != nil {
			fmt.Fprintf(m.out, "%-16s error: %v\n", l.Name, err)
			continue
		}
		printSnapshot(m, snap)
	}
	return sys.Shutdown()
}

// lifecycle is the part of system.System handleRun drives.
type lifecycle interface {
	Up(ctx context.Context) error
	Shutdown() error
}

// bringUp starts sys, tearing it down again when start fails. The start
// error is returned; a teardown error is reported alongside it.
func (m *Manager) bringUp(ctx context.Context, sys lifecycle) error {
	err := sys.Up(ctx)
	if err == nil {
		return nil
	}
	if serr := sys.Shutdown(); serr != nil {
		fmt.Fprintf(m.out, "shutdown after failed start: %v\n", serr)
	}
	return err
}

func (m *Manager) handleStats(ctx *orpheus.Context) error {
	path := ctx.GetArg(0)
	if path == "" {
		return api.InvalidParams("statistics database argument required")
	}
	store, err := control.OpenStatsStore(path)
	if err != nil {
		return err
	}
	defer store.Close()
	rows, err := store.History(ctx.GetFlagString("link"), ctx.GetFlagInt("limit"))
	if err != nil {
		return err
	}
	for _, row := range rows {
		fmt.Fprintf(m.out, "%s ", time.Unix(0, row.TakenAt).Format(time.RFC3339))
		printSnapshot(m, row.Snapshot)
	}
	return nil
}

func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	fmt.Fprintf(m.out, "linkctl %s\n", version)
	fmt.Fprintf(m.out, "link kinds: %v\n", m.catalog.Kinds())
	fmt.Fprintf(m.out, "plugins:    %v\n", m.catalog.Plugins.Names())
	fmt.Fprintf(m.out, "limits:     %d processors, %d queues, %d channels, %d bufs/list, %d byte messages\n",
		api.MaxProcessors, api.MaxQueues, api.MaxChannels, api.MaxBufs, api.MaxMsgSize)
	return nil
}

func printSnapshot(m *Manager, s control.LinkStatsSnapshot) {
	var out, drop uint64
	for i := range s.OutBufCount {
		out += s.OutBufCount[i]
		drop += s.OutBufDropCount[i]
	}
	fmt.Fprintf(m.out, "%-16s recv=%d proc=%d indrop=%d out=%d outdrop=%d err=%d idle=%d lat=%dns src=%dns\n",
		s.Name, s.InBufRecvCount, s.InBufProcessCount, s.InBufDropCount, out, drop,
		s.ProcessErrCount, s.EmptyWakeupCount, s.LocalLatency.AvgNs, s.SourceLatency.AvgNs)
}
