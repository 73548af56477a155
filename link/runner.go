// File: link/runner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runner drives one Stage: it owns the link state machine, the worker
// goroutine and the command inbox. Commands are handled strictly in inbox
// order; Stage callbacks other than buffer exchange only ever run on the
// worker.

package link

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/internal/concurrency"
)

// Env is what a stage may use besides its own state.
type Env struct {
	ID       api.LinkID
	Name     string
	Resolver api.Resolver
	Notifier api.Notifier
	Stats    *control.LinkStats
	Logger   *slog.Logger
}

// BuildFunc constructs the stage a Runner drives.
type BuildFunc func(env *Env) (api.Stage, error)

// Options configure a Runner.
type Options struct {
	Resolver  api.Resolver
	Notifier  api.Notifier
	Collector *control.Collector
	Logger    *slog.Logger
	// OnStatistics receives every snapshot taken by PRINT_STATISTICS.
	OnStatistics func(control.LinkStatsSnapshot)
	// CPUs, when set together with Affinity, pins the worker thread.
	CPUs     []int
	Affinity func() api.Affinity
}

type result struct {
	data []byte
	err  error
}

type request struct {
	cmd   api.Command
	reply chan result
}

// Runner implements api.Link on top of a Stage.
type Runner struct {
	id    api.LinkID
	name  string
	stage api.Stage
	env   *Env
	opts  Options
	log   *slog.Logger

	inbox   *concurrency.Inbox[request]
	state   atomic.Int32
	info    atomic.Pointer[api.LinkInfo]
	pending atomic.Bool // fire-and-forget NEW_DATA queued
	done    chan struct{}
}

var _ api.Link = (*Runner)(nil)

// New builds the stage and starts the worker in the Idle state.
func New(id api.LinkID, name string, build BuildFunc, opts Options) (*Runner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "link", "link", name, "id", id.String())

	var stats *control.LinkStats
	if opts.Collector != nil {
		s, err := opts.Collector.Register(name)
		if err != nil {
			return nil, err
		}
		stats = s
	} else {
		stats = control.NewLinkStats(name)
	}
	env := &Env{
		ID:       id,
		Name:     name,
		Resolver: opts.Resolver,
		Notifier: opts.Notifier,
		Stats:    stats,
		Logger:   logger,
	}
	stage, err := build(env)
	if err != nil {
		if opts.Collector != nil {
			opts.Collector.Deregister(name)
		}
		return nil, errors.Wrap(err, errors.ErrorCode(api.CodeOf(err)), "build link stage").
			WithContext("link", name)
	}
	r := &Runner{
		id:    id,
		name:  name,
		stage: stage,
		env:   env,
		opts:  opts,
		log:   logger,
		inbox: concurrency.NewInbox[request](),
		done:  make(chan struct{}),
	}
	go r.work()
	return r, nil
}

// ID implements api.Link.
func (r *Runner) ID() api.LinkID { return r.id }

// Name implements api.Link.
func (r *Runner) Name() string { return r.name }

// State implements api.Link.
func (r *Runner) State() api.State { return api.State(r.state.Load()) }

// Stats returns the link counters.
func (r *Runner) Stats() *control.LinkStats { return r.env.Stats }

// Stage returns the driven stage.
func (r *Runner) Stage() api.Stage { return r.stage }

// Done is closed when the worker has exited.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Control implements api.Link. Fire-and-forget NEW_DATA is coalesced while
// one is already queued.
func (r *Runner) Control(ctx context.Context, cmd api.Command) ([]byte, error) {
	if r.State() == api.StateTerminated {
		return nil, r.terminatedErr(cmd.Code)
	}
	if !cmd.WaitForAck {
		if cmd.Code == api.CmdNewData && r.pending.Swap(true) {
			return nil, nil
		}
		if !r.inbox.Post(request{cmd: cmd}) {
			return nil, r.terminatedErr(cmd.Code)
		}
		return nil, nil
	}
	reply := make(chan result, 1)
	if !r.inbox.Post(request{cmd: cmd, reply: reply}) {
		return nil, r.terminatedErr(cmd.Code)
	}
	select {
	case res := <-reply:
		return res.data, res.err
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), api.ErrCodeTimeout, "link did not acknowledge command").
			WithContext("link", r.name).
			WithContext("command", cmd.Code.String())
	}
}

// GetFullBuffers implements api.Link.
func (r *Runner) GetFullBuffers(queueID int, list *api.BufferList) error {
	if err := r.exchangeAllowed(); err != nil {
		return err
	}
	return r.stage.GetFullBuffers(queueID, list)
}

// PutEmptyBuffers implements api.Link.
func (r *Runner) PutEmptyBuffers(queueID int, list *api.BufferList) error {
	if err := r.exchangeAllowed(); err != nil {
		return err
	}
	return r.stage.PutEmptyBuffers(queueID, list)
}

// GetLinkInfo implements api.Link.
func (r *Runner) GetLinkInfo() (api.LinkInfo, error) {
	info := r.info.Load()
	if info == nil {
		if r.State() == api.StateTerminated {
			return api.LinkInfo{}, r.terminatedErr(api.CmdGetInfo)
		}
		return api.LinkInfo{}, api.Unsupported(api.CmdGetInfo, r.State())
	}
	return *info, nil
}

func (r *Runner) exchangeAllowed() error {
	switch st := r.State(); st {
	case api.StateReady, api.StateRunning:
		return nil
	case api.StateTerminated:
		return r.terminatedErr(api.CmdNewData)
	default:
		return errors.New(api.ErrCodeUnsupportedCommand, "buffer exchange before create").
			WithContext("link", r.name).
			WithContext("state", st.String())
	}
}

// Kill stops the worker without running any stage callback. It is used for
// links that never left Idle.
func (r *Runner) Kill() {
	r.state.Store(int32(api.StateTerminated))
	r.failRest(r.inbox.Close())
	<-r.done
}

func (r *Runner) work() {
	defer close(r.done)
	if r.opts.Affinity != nil && len(r.opts.CPUs) > 0 {
		a := r.opts.Affinity()
		if err := a.Pin(r.opts.CPUs); err != nil {
			r.log.Warn("worker not pinned", "cpus", r.opts.CPUs, "error", err)
		} else {
			defer func() {
				if err := a.Unpin(); err != nil {
					r.log.Warn("worker thread retired with narrowed cpu mask", "error", err)
				}
			}()
		}
	}
	for {
		req, ok := r.inbox.Take()
		if !ok {
			return
		}
		if req.reply == nil && req.cmd.Code == api.CmdNewData {
			r.pending.Store(false)
		}
		data, err := r.handle(req.cmd)
		if req.reply != nil {
			req.reply <- result{data: data, err: err}
		} else if err != nil {
			r.log.Debug("posted command failed", "command", req.cmd.Code.String(), "error", err)
		}
		if r.State() == api.StateTerminated {
			r.failRest(r.inbox.Close())
			return
		}
	}
}

func (r *Runner) failRest(rest []request) {
	for _, req := range rest {
		if req.reply != nil {
			req.reply <- result{err: r.terminatedErr(req.cmd.Code)}
		}
	}
}

func (r *Runner) handle(cmd api.Command) ([]byte, error) {
	st := r.State()
	switch st {
	case api.StateIdle:
		if cmd.Code != api.CmdCreate {
			return nil, api.Unsupported(cmd.Code, st)
		}
		return nil, r.create(cmd.Param)

	case api.StateReady:
		switch cmd.Code {
		case api.CmdStart:
			return nil, r.start()
		case api.CmdDelete:
			return nil, r.delete()
		case api.CmdStop, api.CmdNewData:
			return nil, nil
		case api.CmdGetInfo, api.CmdPrintStatistics, api.CmdPrintBufferStatistics:
			return r.report(cmd.Code)
		}
		if cmd.Code.IsLinkSpecific() {
			return r.stage.Control(cmd.Code, cmd.Param)
		}
		return nil, api.Unsupported(cmd.Code, st)

	case api.StateRunning:
		switch cmd.Code {
		case api.CmdNewData:
			r.process()
			return nil, nil
		case api.CmdStop:
			return nil, r.stop()
		case api.CmdCreate, api.CmdDelete:
			return nil, api.Unsupported(cmd.Code, st)
		case api.CmdGetInfo, api.CmdPrintStatistics, api.CmdPrintBufferStatistics:
			return r.report(cmd.Code)
		}
		if cmd.Code.IsLinkSpecific() {
			return r.stage.Control(cmd.Code, cmd.Param)
		}
		return nil, nil
	}
	return nil, r.terminatedErr(cmd.Code)
}

func (r *Runner) create(param []byte) error {
	info, err := r.stage.Create(param)
	if err != nil {
		r.log.Warn("create failed", "error", err)
		return err
	}
	if _, err := api.EncodeLinkInfo(info); err != nil {
		r.log.Warn("create rejected link info", "error", err)
		if derr := r.stage.Delete(); derr != nil {
			r.log.Warn("delete after rejected create failed", "error", derr)
		}
		return errors.Wrap(err, api.ErrCodeInvalidParams, "stage published unreportable link info").
			WithContext("link", r.name)
	}
	r.info.Store(&info)
	r.state.Store(int32(api.StateReady))
	r.log.Info("link created", "queues", info.NumQueues)
	return nil
}

func (r *Runner) start() error {
	if s, ok := r.stage.(api.Starter); ok {
		if err := s.Start(); err != nil {
			r.log.Warn("start failed", "error", err)
			return err
		}
	}
	r.state.Store(int32(api.StateRunning))
	r.log.Info("link started")
	return nil
}

func (r *Runner) process() {
	r.env.Stats.NewDataCmdCount.Add(1)
	if err := r.stage.Process(); err != nil {
		r.env.Stats.ProcessErrCount.Add(1)
		r.log.Debug("process failed", "error", err)
	}
}

func (r *Runner) stop() error {
	err := r.stage.Stop()
	r.state.Store(int32(api.StateReady))
	if err != nil {
		r.log.Warn("stop reported error", "error", err)
		return err
	}
	r.log.Info("link stopped")
	return nil
}

func (r *Runner) delete() error {
	if err := r.stage.Delete(); err != nil {
		r.log.Warn("delete failed", "error", err)
		return err
	}
	r.state.Store(int32(api.StateTerminated))
	r.info.Store(nil)
	if r.opts.Collector != nil {
		r.opts.Collector.Deregister(r.name)
	}
	r.log.Info("link deleted")
	return nil
}

func (r *Runner) report(code api.CmdCode) ([]byte, error) {
	switch code {
	case api.CmdGetInfo:
		info := r.info.Load()
		if info == nil {
			return nil, api.Unsupported(code, r.State())
		}
		return api.EncodeLinkInfo(*info)
	case api.CmdPrintStatistics:
		snap := r.env.Stats.Snapshot()
		r.log.Info("statistics",
			"newData", snap.NewDataCmdCount,
			"inRecv", snap.InBufRecvCount,
			"inDrop", snap.InBufDropCount,
			"inProcess", snap.InBufProcessCount,
			"outCount", snap.OutBufCount,
			"outDrop", snap.OutBufDropCount,
			"processErr", snap.ProcessErrCount,
			"emptyWakeups", snap.EmptyWakeupCount,
			"localAvgNs", snap.LocalLatency.AvgNs,
			"sourceAvgNs", snap.SourceLatency.AvgNs)
		if r.opts.OnStatistics != nil {
			r.opts.OnStatistics(snap)
		}
		return api.EncodeParams(snap)
	default:
		counts := map[string]int{}
		if rep, ok := r.stage.(api.BufferStatsReporter); ok {
			counts = rep.BufferStatistics()
		}
		r.log.Info("buffer statistics", "counts", counts)
		return api.EncodeParams(counts)
	}
}

func (r *Runner) terminatedErr(code api.CmdCode) error {
	return errors.New(api.ErrCodeTerminated, "link is terminated").
		WithContext("link", r.name).
		WithContext("command", code.String())
}
