// File: cmd/linkdemo/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// linkdemo runs a built-in two-processor pipeline:
//
//	proc0: cam (source) ─► proc1: algo (plugin) ─► fan (dup) ─┬─► local (sink, proc1)
//	                                                          └─► remote (sink, proc0)
//
// Every flag can also be set through HIOLINK_<FLAG> environment variables.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	flashflags "github.com/agilira/flash-flags"

	"github.com/momentics/hioload-link/system"
)

type options struct {
	interval time.Duration
	duration time.Duration
	plugin   string
	channels int
	buffers  int
	statsDB  string
	logLevel string
	pin      bool
}

func parseFlags(args []string) (options, error) {
	fs := flashflags.New("linkdemo")
	fs.SetDescription("Two-processor link pipeline demo")
	fs.SetEnvPrefix("HIOLINK")
	fs.Duration("interval", 33*time.Millisecond, "Source frame interval")
	fs.Duration("duration", 5*time.Second, "How long to run")
	fs.String("plugin", "invert", "Algorithm plugin")
	fs.Int("channels", 2, "Source channels")
	fs.Int("buffers", 4, "Buffers per channel")
	fs.String("stats-db", "", "SQLite file receiving statistics snapshots")
	fs.String("log-level", "info", "debug|info|warn|error")
	fs.Bool("pin", false, "Pin link workers to CPUs 0 and 1")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return options{
		interval: fs.GetDuration("interval"),
		duration: fs.GetDuration("duration"),
		plugin:   fs.GetString("plugin"),
		channels: fs.GetInt("channels"),
		buffers:  fs.GetInt("buffers"),
		statsDB:  fs.GetString("stats-db"),
		logLevel: fs.GetString("log-level"),
		pin:      fs.GetBool("pin"),
	}, nil
}

func demoTopology(o options) *system.Topology {
	return &system.Topology{
		Processors: []system.ProcessorSpec{
			{ID: 0, Name: "capture", CPUs: []int{0}},
			{ID: 1, Name: "compute", CPUs: []int{1}},
		},
		Links: []system.LinkSpec{
			{Name: "cam", Kind: "source", Proc: 0, Index: 1, Params: map[string]any{
				"numChannels":       o.channels,
				"buffersPerChannel": o.buffers,
				"intervalMs":        int(o.interval / time.Millisecond),
				"next":              map[string]any{"nextLinkId": "@algo"},
			}},
			{Name: "algo", Kind: "algorithm", Proc: 1, Index: 1, Params: map[string]any{
				"in":                map[string]any{"prevLinkId": "@cam"},
				"next":              map[string]any{"nextLinkId": "@fan"},
				"plugin":            o.plugin,
				"buffersPerChannel": o.buffers,
			}},
			{Name: "fan", Kind: "dup", Proc: 1, Index: 2, Params: map[string]any{
				"in":           map[string]any{"prevLinkId": "@algo"},
				"numOutQueues": 2,
				"next": []any{
					map[string]any{"nextLinkId": "@local"},
					map[string]any{"nextLinkId": "@remote"},
				},
			}},
			{Name: "local", Kind: "sink", Proc: 1, Index: 3, Params: map[string]any{
				"in": map[string]any{"prevLinkId": "@fan", "prevQueueId": 0},
			}},
			{Name: "remote", Kind: "sink", Proc: 0, Index: 2, Params: map[string]any{
				"in": map[string]any{"prevLinkId": "@fan", "prevQueueId": 1},
			}},
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func run(o options) error {
	logger := newLogger(o.logLevel)
	cfg := system.DefaultConfig()
	cfg.Logger = logger
	cfg.StatsDB = o.statsDB
	cfg.CPUAffinity = o.pin

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sys, err := system.New(ctx, cfg, demoTopology(o))
	if err != nil {
		return err
	}
	if err := sys.Up(ctx); err != nil {
		sys.Shutdown()
		return err
	}
	select {
	case <-time.After(o.duration):
	case <-ctx.Done():
	}
	for _, r := range sys.Links() {
		snap, err := sys.Statistics(context.Background(), r.Name())
		if err != nil {
			logger.Warn("statistics unavailable", "link", r.Name(), "error", err)
			continue
		}
		logger.Info("link summary", "link", snap.Name,
			"in", snap.InBufRecvCount, "processed", snap.InBufProcessCount,
			"out", snap.OutBufCount, "outDrop", snap.OutBufDropCount,
			"latencyNs", snap.LocalLatency.AvgNs)
	}
	return sys.Shutdown()
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := run(o); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
