package link_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agilira/go-errors"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/fake"
	"github.com/momentics/hioload-link/link"
)

func newRunner(t *testing.T, stage api.Stage, opts link.Options) *link.Runner {
	t.Helper()
	r, err := link.New(api.NewLinkID(0, 1), "under-test", func(*link.Env) (api.Stage, error) { return stage, nil }, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if r.State() != api.StateTerminated {
			r.Kill()
		}
	})
	return r
}

func ack(r *link.Runner, code api.CmdCode, param string) ([]byte, error) {
	return r.Control(context.Background(), api.Command{Code: code, Param: []byte(param), WaitForAck: true})
}

func TestStateMachineLegality(t *testing.T) {
	stage := fake.NewStage()
	r := newRunner(t, stage, link.Options{})
	linkCode := api.CmdLinkSpecificBase + 1

	steps := []struct {
		code    api.CmdCode
		errCode string
		state   api.State
	}{
		{api.CmdStart, api.ErrCodeUnsupportedCommand, api.StateIdle},
		{api.CmdNewData, api.ErrCodeUnsupportedCommand, api.StateIdle},
		{api.CmdDelete, api.ErrCodeUnsupportedCommand, api.StateIdle},
		{api.CmdCreate, "", api.StateReady},
		{api.CmdCreate, api.ErrCodeUnsupportedCommand, api.StateReady},
		{api.CmdStop, "", api.StateReady},
		{api.CmdNewData, "", api.StateReady},
		{linkCode, "", api.StateReady},
		{api.CmdStart, "", api.StateRunning},
		{api.CmdNewData, "", api.StateRunning},
		{api.CmdCode(77), "", api.StateRunning},
		{api.CmdDelete, api.ErrCodeUnsupportedCommand, api.StateRunning},
		{api.CmdCreate, api.ErrCodeUnsupportedCommand, api.StateRunning},
		{linkCode, "", api.StateRunning},
		{api.CmdStop, "", api.StateReady},
		{api.CmdDelete, "", api.StateTerminated},
		{api.CmdStart, api.ErrCodeTerminated, api.StateTerminated},
		{api.CmdCreate, api.ErrCodeTerminated, api.StateTerminated},
	}
	for i, st := range steps {
		_, err := ack(r, st.code, "")
		if st.errCode == "" && err != nil {
			t.Fatalf("step %d %s: unexpected error %v", i, st.code, err)
		}
		if st.errCode != "" && !api.HasCode(err, st.errCode) {
			t.Fatalf("step %d %s: got %v, want %s", i, st.code, err, st.errCode)
		}
		if r.State() != st.state {
			t.Fatalf("step %d %s: state %s, want %s", i, st.code, r.State(), st.state)
		}
	}

	want := []string{"create:", "control:" + linkCode.String() + ":", "start", "process", "control:" + linkCode.String() + ":", "stop", "delete"}
	if got := stage.Calls(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("stage calls\n got %v\nwant %v", got, want)
	}
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Error("worker still running after delete")
	}
	if _, err := r.GetLinkInfo(); !api.HasCode(err, api.ErrCodeTerminated) {
		t.Errorf("link info after delete: %v", err)
	}
}

func TestCreateRejectsUnreportableLinkInfo(t *testing.T) {
	stage := fake.NewStage()
	stage.SetInfo(api.LinkInfo{
		NumQueues: 1,
		Queues: []api.QueueInfo{{
			NumChannels: 1,
			Channels:    []api.ChannelInfo{{Width: 70000, Height: 2}},
		}},
	})
	r := newRunner(t, stage, link.Options{})
	if _, err := ack(r, api.CmdCreate, ""); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Fatalf("create with oversized channel: %v", err)
	}
	if r.State() != api.StateIdle {
		t.Fatalf("state %s", r.State())
	}
	if got := stage.Calls(); strings.Join(got, ",") != "create:,delete" {
		t.Errorf("stage calls %v", got)
	}
}

func TestGetInfoAtChannelLimits(t *testing.T) {
	full := api.LinkInfo{NumQueues: api.MaxQueues}
	for q := 0; q < api.MaxQueues; q++ {
		qi := api.QueueInfo{NumChannels: api.MaxChannels}
		for ch := 0; ch < api.MaxChannels; ch++ {
			qi.Channels = append(qi.Channels, api.ChannelInfo{
				Width: 1920, Height: 1080, Pitch: [3]int{1920, 1920},
				Format: api.FormatYUV420SP, Flags: uint32(q<<8 | ch),
			})
		}
		full.Queues = append(full.Queues, qi)
	}
	stage := fake.NewStage()
	stage.SetInfo(full)
	r := newRunner(t, stage, link.Options{})
	if _, err := ack(r, api.CmdCreate, ""); err != nil {
		t.Fatal(err)
	}
	reply, err := ack(r, api.CmdGetInfo, "")
	if err != nil {
		t.Fatalf("get info: %v", err)
	}
	if len(reply) > api.MaxMsgSize {
		t.Fatalf("reply %d bytes", len(reply))
	}
	info, err := api.DecodeLinkInfo(reply)
	if err != nil {
		t.Fatal(err)
	}
	if info.NumQueues != api.MaxQueues || info.Queues[3].Channels[15] != full.Queues[3].Channels[15] {
		t.Errorf("decoded %+v", info.Queues[3].Channels[15])
	}
}

func TestCreateFailureStaysIdle(t *testing.T) {
	stage := fake.NewStage()
	stage.SetCreateError(api.InvalidParams("bad width"))
	r := newRunner(t, stage, link.Options{})
	_, err := ack(r, api.CmdCreate, `{"width":0}`)
	if !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Fatalf("got %v", err)
	}
	if r.State() != api.StateIdle {
		t.Fatalf("state %s after failed create", r.State())
	}
	if _, err := r.GetLinkInfo(); !api.HasCode(err, api.ErrCodeUnsupportedCommand) {
		t.Errorf("link info before create: %v", err)
	}
	var list api.BufferList
	if err := r.GetFullBuffers(0, &list); !api.HasCode(err, api.ErrCodeUnsupportedCommand) {
		t.Errorf("exchange before create: %v", err)
	}
}

func TestCommandsProcessedInOrder(t *testing.T) {
	stage := fake.NewStage()
	r := newRunner(t, stage, link.Options{})
	if _, err := ack(r, api.CmdCreate, ""); err != nil {
		t.Fatal(err)
	}
	code := api.CmdLinkSpecificBase
	for i := 0; i < 50; i++ {
		if _, err := r.Control(context.Background(), api.Command{Code: code, Param: []byte(fmt.Sprint(i))}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := ack(r, code, "last"); err != nil {
		t.Fatal(err)
	}
	calls := stage.Calls()[1:]
	if len(calls) != 51 {
		t.Fatalf("got %d calls", len(calls))
	}
	for i := 0; i < 50; i++ {
		if want := fmt.Sprintf("control:%s:%d", code, i); calls[i] != want {
			t.Fatalf("call %d = %q, want %q", i, calls[i], want)
		}
	}
}

func TestNewDataCoalescedAndErrorsAbsorbed(t *testing.T) {
	stage := fake.NewStage()
	r := newRunner(t, stage, link.Options{})
	ack(r, api.CmdCreate, "")
	ack(r, api.CmdStart, "")

	gate := make(chan struct{})
	var once sync.Once
	entered := make(chan struct{})
	stage.OnProcess(func() {
		once.Do(func() {
			close(entered)
			<-gate
		})
	})
	stage.SetProcessError(errors.New(api.ErrCodeFail, "bad frame"))

	post := func() {
		if _, err := r.Control(context.Background(), api.Command{Code: api.CmdNewData}); err != nil {
			t.Fatal(err)
		}
	}
	post()
	<-entered
	for i := 0; i < 10; i++ {
		post()
	}
	close(gate)
	if _, err := ack(r, api.CmdGetInfo, ""); err != nil {
		t.Fatal(err)
	}

	processed := 0
	for _, c := range stage.Calls() {
		if c == "process" {
			processed++
		}
	}
	if processed != 2 {
		t.Errorf("processed %d times, want 2 (one running, one coalesced)", processed)
	}
	snap := r.Stats().Snapshot()
	if snap.ProcessErrCount != 2 || snap.NewDataCmdCount != 2 {
		t.Errorf("stats %+v", snap)
	}
	if r.State() != api.StateRunning {
		t.Errorf("state %s after process errors", r.State())
	}
}

func TestReportsAndStatisticsHook(t *testing.T) {
	stage := fake.NewStage()
	collector := control.NewCollector()
	var got []control.LinkStatsSnapshot
	r := newRunner(t, stage, link.Options{
		Collector:    collector,
		OnStatistics: func(s control.LinkStatsSnapshot) { got = append(got, s) },
	})
	ack(r, api.CmdCreate, "")

	reply, err := ack(r, api.CmdGetInfo, "")
	if err != nil {
		t.Fatal(err)
	}
	info, err := api.DecodeLinkInfo(reply)
	if err != nil || info.NumQueues != 1 || info.Queues[0].Channels[0].Width != 64 {
		t.Fatalf("info %+v, %v", info, err)
	}

	reply, err = ack(r, api.CmdPrintStatistics, "")
	if err != nil {
		t.Fatal(err)
	}
	var snap control.LinkStatsSnapshot
	if err := api.DecodeParams(reply, &snap); err != nil || snap.Name != "under-test" {
		t.Fatalf("snapshot %+v, %v", snap, err)
	}
	if len(got) != 1 {
		t.Errorf("statistics hook called %d times", len(got))
	}

	reply, err = ack(r, api.CmdPrintBufferStatistics, "")
	if err != nil {
		t.Fatal(err)
	}
	var counts map[string]int
	if err := api.DecodeParams(reply, &counts); err != nil || counts["calls"] == 0 {
		t.Fatalf("buffer statistics %v, %v", counts, err)
	}

	if _, ok := collector.Get("under-test"); !ok {
		t.Fatal("statistics not registered")
	}
	ack(r, api.CmdDelete, "")
	if _, ok := collector.Get("under-test"); ok {
		t.Error("statistics still registered after delete")
	}
}

func TestAckWaitHonorsContext(t *testing.T) {
	stage := fake.NewStage()
	r := newRunner(t, stage, link.Options{})
	ack(r, api.CmdCreate, "")
	ack(r, api.CmdStart, "")
	gate := make(chan struct{})
	stage.OnProcess(func() { <-gate })
	defer close(gate)

	r.Control(context.Background(), api.Command{Code: api.CmdNewData})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.Control(ctx, api.Command{Code: api.CmdGetInfo, WaitForAck: true}); !api.HasCode(err, api.ErrCodeTimeout) {
		t.Fatalf("got %v", err)
	}
}
