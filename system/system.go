// File: system/system.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package system assembles processors and links from a topology and drives
// the pipeline lifecycle: create in topology order, start in reverse, stop
// in order, delete in reverse. Every lifecycle command is issued from the
// first processor, so links on other processors are reached over the
// cross-core channel exactly as in production.

package system

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"

	"github.com/momentics/hioload-link/adapters"
	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/dispatch"
	"github.com/momentics/hioload-link/ipc"
	"github.com/momentics/hioload-link/link"
	"github.com/momentics/hioload-link/links"
	"github.com/momentics/hioload-link/registry"
)

// System is a running pipeline.
type System struct {
	cfg  *Config
	log  *slog.Logger
	topo *Topology

	fabric  *ipc.Fabric
	procs   map[api.ProcID]*Processor
	order   []*Processor
	runners []*link.Runner
	specs   []LinkSpec
	byName  map[string]*link.Runner

	control *adapters.ControlAdapter
	store   *control.StatsStore
	cancel  context.CancelFunc

	shutdownOnce sync.Once
	shutdownErr  error
}

var (
	_ api.GracefulShutdown = (*System)(nil)
	_ api.Control          = (*System)(nil)
	_ api.Resolver         = (*System)(nil)
)

// New validates topo, brings up every processor, starts its receive loop and
// registers its links in the Idle state. ctx bounds bring-up only.
func New(ctx context.Context, cfg *Config, topo *Topology) (*System, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if topo == nil {
		return nil, api.InvalidParams("nil topology")
	}
	cat := cfg.catalog()
	if err := topo.Validate(cat); err != nil {
		return nil, err
	}
	s := &System{
		cfg:    cfg,
		log:    cfg.logger().With("component", "system"),
		topo:   topo,
		procs:  make(map[api.ProcID]*Processor, len(topo.Processors)),
		byName: make(map[string]*link.Runner, len(topo.Links)),
	}
	probes := control.NewDebugProbes()
	if cfg.EnableDebug {
		control.RegisterPlatformProbes(probes)
	}
	s.control = adapters.NewControlAdapter(control.NewCollector(), probes)

	if cfg.StatsDB != "" {
		store, err := control.OpenStatsStore(cfg.StatsDB)
		if err != nil {
			return nil, err
		}
		s.store = store
	}

	ids := make([]api.ProcID, 0, len(topo.Processors))
	for _, p := range topo.Processors {
		ids = append(ids, api.ProcID(p.ID))
	}
	fabric, err := ipc.NewFabric(ids)
	if err != nil {
		s.teardown()
		return nil, err
	}
	s.fabric = fabric

	// Receive loops live until Shutdown, not until ctx ends.
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, ps := range topo.Processors {
		if err := s.addProcessor(ctx, runCtx, ps); err != nil {
			s.teardown()
			return nil, err
		}
	}
	for _, ls := range topo.Links {
		if err := s.addLink(cat, ls); err != nil {
			s.teardown()
			return nil, err
		}
	}
	s.log.Info("system assembled", "processors", len(s.order), "links", len(s.runners))
	return s, nil
}

func (s *System) addProcessor(ctx, runCtx context.Context, ps ProcessorSpec) error {
	id := api.ProcID(ps.ID)
	if s.cfg.Bringup != nil {
		if err := s.cfg.Bringup.EnsureCoreStarted(ctx, id); err != nil {
			return errors.Wrap(err, errors.ErrorCode(api.CodeOf(err)), "processor bring-up failed").
				WithContext("proc", ps.ID)
		}
	}
	logger := s.cfg.logger()
	reg := registry.New(id)
	disp := dispatch.New(reg, logger)
	ch, err := ipc.NewChannel(s.fabric, id, disp, ipc.Options{RPCTimeout: s.cfg.RPCTimeout, Logger: logger})
	if err != nil {
		return err
	}
	disp.AttachRemote(ch)
	p := &Processor{spec: ps, reg: reg, disp: disp, channel: ch}
	s.procs[id] = p
	s.order = append(s.order, p)
	if err := ch.Start(runCtx); err != nil {
		return err
	}
	if s.cfg.EnableDebug {
		s.control.RegisterDebugProbe(fmt.Sprintf("proc%d", ps.ID), func() any { return p.debugState() })
	}
	s.log.Debug("processor ready", "proc", ps.ID, "name", ps.Name, "cpus", ps.CPUs)
	return nil
}

func (s *System) addLink(cat *links.Catalog, ls LinkSpec) error {
	build, err := cat.Builder(ls.Kind)
	if err != nil {
		return err
	}
	p := s.procs[api.ProcID(ls.Proc)]
	opts := link.Options{
		Resolver:     s,
		Notifier:     p.disp,
		Collector:    s.control.Collector(),
		Logger:       s.cfg.logger(),
		OnStatistics: s.persist,
	}
	if s.cfg.CPUAffinity && len(p.spec.CPUs) > 0 {
		opts.CPUs = p.spec.CPUs
		opts.Affinity = func() api.Affinity { return adapters.NewAffinityAdapter() }
	}
	r, err := link.New(ls.ID(), ls.Name, build, opts)
	if err != nil {
		return err
	}
	p.reg.Register(r)
	p.runners = append(p.runners, r)
	s.runners = append(s.runners, r)
	s.specs = append(s.specs, ls)
	s.byName[ls.Name] = r
	return nil
}

// Resolve implements api.Resolver over every processor's registry.
func (s *System) Resolve(id api.LinkID) (api.Link, error) {
	p, ok := s.procs[id.Proc]
	if !ok {
		return nil, errors.New(api.ErrCodeNotFound, "unknown processor").
			WithContext("link", id.String())
	}
	return p.reg.Lookup(id)
}

func (s *System) controller() *dispatch.Dispatcher { return s.order[0].disp }

// Command sends cmd to the link called name from the controlling processor.
func (s *System) Command(ctx context.Context, name string, cmd api.Command) ([]byte, error) {
	r, ok := s.byName[name]
	if !ok {
		return nil, errors.New(api.ErrCodeNotFound, "no link with that name").
			WithContext("link", name)
	}
	if _, ok := ctx.Deadline(); !ok && s.cfg.CommandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CommandTimeout)
		defer cancel()
	}
	return s.controller().Dispatch(ctx, r.ID(), cmd)
}

// Post sends a fire-and-forget command to the link called name.
func (s *System) Post(name string, code api.CmdCode) error {
	r, ok := s.byName[name]
	if !ok {
		return errors.New(api.ErrCodeNotFound, "no link with that name").
			WithContext("link", name)
	}
	return s.controller().SendLinkCmd(r.ID(), code)
}

func (s *System) ack(ctx context.Context, i int, code api.CmdCode, param []byte) error {
	_, err := s.Command(ctx, s.specs[i].Name, api.Command{Code: code, Param: param, WaitForAck: true})
	if err != nil {
		return errors.Wrap(err, errors.ErrorCode(api.CodeOf(err)), "lifecycle command failed").
			WithContext("link", s.specs[i].Name).
			WithContext("command", code.String())
	}
	return nil
}

// Create sends CREATE to every link in topology order.
func (s *System) Create(ctx context.Context) error {
	for i, spec := range s.specs {
		param, err := s.topo.CreateParams(spec)
		if err != nil {
			return err
		}
		if err := s.ack(ctx, i, api.CmdCreate, param); err != nil {
			return err
		}
	}
	return nil
}

// Start sends START to every link in reverse topology order, consumers first.
func (s *System) Start(ctx context.Context) error {
	for i := len(s.runners) - 1; i >= 0; i-- {
		if err := s.ack(ctx, i, api.CmdStart, nil); err != nil {
			return err
		}
	}
	return nil
}

// Up creates and starts the pipeline.
func (s *System) Up(ctx context.Context) error {
	if err := s.Create(ctx); err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	s.log.Info("pipeline running")
	return nil
}

// Stop sends STOP to every running link in topology order, producers first.
func (s *System) Stop(ctx context.Context) error {
	var first error
	for i, r := range s.runners {
		if r.State() != api.StateRunning {
			continue
		}
		if err := s.ack(ctx, i, api.CmdStop, nil); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Delete sends DELETE to every created link in reverse topology order.
// Links that never left Idle are terminated directly.
func (s *System) Delete(ctx context.Context) error {
	var first error
	for i := len(s.runners) - 1; i >= 0; i-- {
		switch s.runners[i].State() {
		case api.StateIdle:
			s.runners[i].Kill()
		case api.StateReady:
			if err := s.ack(ctx, i, api.CmdDelete, nil); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Shutdown implements api.GracefulShutdown: stop, persist statistics,
// delete, then close channels and shared memory.
func (s *System) Shutdown() error {
	s.shutdownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		first := s.Stop(ctx)
		if err := s.PersistStats(); err != nil && first == nil {
			first = err
		}
		if err := s.Delete(ctx); err != nil && first == nil {
			first = err
		}
		if err := s.teardown(); err != nil && first == nil {
			first = err
		}
		s.shutdownErr = first
		s.log.Info("system shut down", "error", first)
	})
	return s.shutdownErr
}

func (s *System) teardown() error {
	for _, r := range s.runners {
		if r.State() != api.StateTerminated {
			r.Kill()
		}
	}
	for _, p := range s.order {
		p.channel.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	var first error
	if s.fabric != nil {
		first = s.fabric.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (s *System) persist(snap control.LinkStatsSnapshot) {
	if s.store == nil {
		return
	}
	if err := s.store.Save(timecache.CachedTimeNano(), []control.LinkStatsSnapshot{snap}); err != nil {
		s.log.Warn("statistics not persisted", "link", snap.Name, "error", err)
	}
}

// PersistStats saves a snapshot of every registered link.
func (s *System) PersistStats() error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(timecache.CachedTimeNano(), s.control.Collector().Snapshot())
}

// Info returns the LinkInfo of the link called name.
func (s *System) Info(ctx context.Context, name string) (api.LinkInfo, error) {
	reply, err := s.Command(ctx, name, api.Command{Code: api.CmdGetInfo, WaitForAck: true})
	if err != nil {
		return api.LinkInfo{}, err
	}
	return api.DecodeLinkInfo(reply)
}

// Statistics runs PRINT_STATISTICS on the link called name.
func (s *System) Statistics(ctx context.Context, name string) (control.LinkStatsSnapshot, error) {
	var snap control.LinkStatsSnapshot
	reply, err := s.Command(ctx, name, api.Command{Code: api.CmdPrintStatistics, WaitForAck: true})
	if err != nil {
		return snap, err
	}
	err = api.DecodeParams(reply, &snap)
	return snap, err
}

// Stats implements api.Control.
func (s *System) Stats() map[string]any { return s.control.Stats() }

// RegisterDebugProbe implements api.Control.
func (s *System) RegisterDebugProbe(name string, fn func() any) {
	s.control.RegisterDebugProbe(name, fn)
}

// Processor returns the processor with id.
func (s *System) Processor(id api.ProcID) (*Processor, bool) {
	p, ok := s.procs[id]
	return p, ok
}

// Processors returns the processors in topology order.
func (s *System) Processors() []*Processor { return s.order }

// Link returns the link called name.
func (s *System) Link(name string) (*link.Runner, bool) {
	r, ok := s.byName[name]
	return r, ok
}

// Links returns every link in topology order.
func (s *System) Links() []*link.Runner { return s.runners }

// Store returns the statistics store, or nil when persistence is off.
func (s *System) Store() *control.StatsStore { return s.store }
