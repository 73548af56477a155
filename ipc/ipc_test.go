package ipc

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-link/api"
)

type call struct {
	id  api.LinkID
	cmd api.Command
}

type recordingHandler struct {
	mu     sync.Mutex
	calls  []call
	posts  map[api.LinkID]int
	reply  func(id api.LinkID, cmd api.Command) ([]byte, error)
	posted chan api.LinkID
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		posts:  make(map[api.LinkID]int),
		posted: make(chan api.LinkID, 1024),
	}
}

func (h *recordingHandler) HandleRemote(_ context.Context, id api.LinkID, cmd api.Command) ([]byte, error) {
	h.mu.Lock()
	h.calls = append(h.calls, call{id, cmd})
	reply := h.reply
	h.mu.Unlock()
	if reply != nil {
		return reply(id, cmd)
	}
	return cmd.Param, nil
}

func (h *recordingHandler) SendLinkCmd(id api.LinkID, code api.CmdCode) error {
	h.mu.Lock()
	h.posts[id]++
	h.mu.Unlock()
	h.posted <- id
	return nil
}

type testSystem struct {
	fabric   *Fabric
	channels map[api.ProcID]*Channel
	handlers map[api.ProcID]*recordingHandler
}

func newTestSystem(t *testing.T, timeout time.Duration, procs ...api.ProcID) *testSystem {
	t.Helper()
	f, err := NewFabric(procs)
	if err != nil {
		t.Fatal(err)
	}
	ts := &testSystem{
		fabric:   f,
		channels: make(map[api.ProcID]*Channel),
		handlers: make(map[api.ProcID]*recordingHandler),
	}
	for _, p := range procs {
		h := newRecordingHandler()
		ch, err := NewChannel(f, p, h, Options{RPCTimeout: timeout})
		if err != nil {
			t.Fatal(err)
		}
		if err := ch.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		ts.channels[p] = ch
		ts.handlers[p] = h
	}
	t.Cleanup(func() {
		for _, ch := range ts.channels {
			ch.Close()
		}
		f.Close()
	})
	return ts
}

func TestDoorbellEncoding(t *testing.T) {
	for _, d := range []Doorbell{
		{Kind: KindMsg, Src: 0, Dst: 63, Arg: 0xffff},
		{Kind: KindAck, Src: 63, Dst: 0, Arg: 1},
		{Kind: KindEvent, Src: 5, Dst: 7},
	} {
		got, err := DecodeDoorbell(d.Encode())
		if err != nil || got != d {
			t.Errorf("decode(encode(%+v)) = %+v, %v", d, got, err)
		}
	}
	if _, err := DecodeDoorbell(0); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("kind 0 accepted: %v", err)
	}
}

func TestSendFramingRoundTrip(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1)
	rng := rand.New(rand.NewSource(7))
	target := api.NewLinkID(1, 9)
	for _, size := range []int{0, 1, 31, 512, api.MaxMsgSize} {
		blob := make([]byte, size)
		rng.Read(blob)
		code := api.CmdLinkSpecificBase + api.CmdCode(size)
		reply, err := ts.channels[0].Send(context.Background(), target, api.Command{Code: code, Param: blob, WaitForAck: true})
		if err != nil {
			t.Fatalf("size %d: %v", size, err)
		}
		if !bytes.Equal(reply, blob) {
			t.Errorf("size %d: reply differs", size)
		}
		h := ts.handlers[1]
		h.mu.Lock()
		last := h.calls[len(h.calls)-1]
		h.mu.Unlock()
		if last.id != target || last.cmd.Code != code || !bytes.Equal(last.cmd.Param, blob) || !last.cmd.WaitForAck {
			t.Errorf("size %d: receiver saw %+v", size, last)
		}
	}
}

func TestRemoteErrorPropagates(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1)
	ts.handlers[1].reply = func(api.LinkID, api.Command) ([]byte, error) {
		return nil, api.Unsupported(api.CmdStart, api.StateIdle)
	}
	_, err := ts.channels[0].Send(context.Background(), api.NewLinkID(1, 0), api.Command{Code: api.CmdStart, WaitForAck: true})
	if !api.HasCode(err, api.ErrCodeUnsupportedCommand) {
		t.Fatalf("got %v", err)
	}
	if !strings.Contains(err.Error(), "not supported") {
		t.Errorf("remote message lost: %v", err)
	}
}

func TestSendRejectsBadRequests(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1)
	ch := ts.channels[0]
	ctx := context.Background()
	cases := []struct {
		name string
		id   api.LinkID
		cmd  api.Command
		code string
	}{
		{"local", api.NewLinkID(0, 1), api.Command{Code: api.CmdStart, WaitForAck: true}, api.ErrCodeInvalidParams},
		{"unknown proc", api.NewLinkID(9, 1), api.Command{Code: api.CmdStart, WaitForAck: true}, api.ErrCodeNotFound},
		{"no ack", api.NewLinkID(1, 1), api.Command{Code: api.CmdStart}, api.ErrCodeInvalidParams},
		{"oversized", api.NewLinkID(1, 1), api.Command{Code: api.CmdStart, Param: make([]byte, api.MaxMsgSize+1), WaitForAck: true}, api.ErrCodeInvalidParams},
	}
	for _, tc := range cases {
		if _, err := ch.Send(ctx, tc.id, tc.cmd); !api.HasCode(err, tc.code) {
			t.Errorf("%s: got %v, want %s", tc.name, err, tc.code)
		}
	}
}

func TestSendTimeoutKeepsSlotReserved(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1)
	release := make(chan struct{})
	var blocked sync.Once
	ts.handlers[1].reply = func(_ api.LinkID, cmd api.Command) ([]byte, error) {
		if cmd.Code == api.CmdStop {
			blocked.Do(func() { <-release })
		}
		return []byte("ok"), nil
	}
	ch := ts.channels[0]
	id := api.NewLinkID(1, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ch.Send(ctx, id, api.Command{Code: api.CmdStop, WaitForAck: true}); !api.HasCode(err, api.ErrCodeTimeout) {
		t.Fatalf("first call: got %v", err)
	}

	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	if _, err := ch.Send(ctx2, id, api.Command{Code: api.CmdStart, WaitForAck: true}); !api.HasCode(err, api.ErrCodeTimeout) {
		t.Fatalf("second call while slot reserved: got %v", err)
	}

	close(release)
	reply, err := ch.Send(context.Background(), id, api.Command{Code: api.CmdStart, WaitForAck: true})
	if err != nil || string(reply) != "ok" {
		t.Fatalf("after late ack: %q, %v", reply, err)
	}
	if ch.Stats().LateAcks.Load() != 1 {
		t.Errorf("late acks = %d", ch.Stats().LateAcks.Load())
	}
}

func TestConfiguredTimeoutApplies(t *testing.T) {
	ts := newTestSystem(t, 20*time.Millisecond, 0, 1)
	release := make(chan struct{})
	defer close(release)
	ts.handlers[1].reply = func(api.LinkID, api.Command) ([]byte, error) {
		<-release
		return nil, nil
	}
	_, err := ts.channels[0].Send(context.Background(), api.NewLinkID(1, 0), api.Command{Code: api.CmdStart, WaitForAck: true})
	if !api.HasCode(err, api.ErrCodeTimeout) {
		t.Fatalf("got %v", err)
	}
}

func TestConcurrentCallersAcrossProcessors(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1, 2)
	for p, h := range ts.handlers {
		p := p
		h.reply = func(id api.LinkID, cmd api.Command) ([]byte, error) {
			return []byte(fmt.Sprintf("%d|%s", p, cmd.Param)), nil
		}
	}
	var wg sync.WaitGroup
	for src := api.ProcID(0); src < 3; src++ {
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(src api.ProcID, g int) {
				defer wg.Done()
				for i := 0; i < 50; i++ {
					dst := (src + api.ProcID(1+i%2)) % 3
					param := fmt.Sprintf("%d-%d-%d", src, g, i)
					reply, err := ts.channels[src].Send(context.Background(), api.NewLinkID(dst, 0),
						api.Command{Code: api.CmdGetInfo, Param: []byte(param), WaitForAck: true})
					if err != nil {
						t.Error(err)
						return
					}
					if want := fmt.Sprintf("%d|%s", dst, param); string(reply) != want {
						t.Errorf("reply %q, want %q", reply, want)
						return
					}
				}
			}(src, g)
		}
	}
	wg.Wait()
}

func TestEventsCoalesceAndDeliver(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1)
	a, b := api.NewLinkID(1, 1), api.NewLinkID(1, 2)
	for i := 0; i < 100; i++ {
		if err := ts.channels[0].Notify(a); err != nil {
			t.Fatal(err)
		}
		if _, err := ts.channels[0].Send(context.Background(), b, api.Command{Code: api.CmdNewData}); err != nil {
			t.Fatal(err)
		}
	}
	seen := map[api.LinkID]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[a] || !seen[b] {
		select {
		case id := <-ts.handlers[1].posted:
			seen[id] = true
		case <-deadline:
			t.Fatalf("events not delivered: %v", seen)
		}
	}
	st := ts.channels[0].Stats()
	if st.EventsSent.Load() != 200 {
		t.Errorf("events sent = %d", st.EventsSent.Load())
	}
	if st.EventsRung.Load() > st.EventsSent.Load() {
		t.Errorf("rung %d > sent %d", st.EventsRung.Load(), st.EventsSent.Load())
	}
	if err := ts.channels[0].Notify(api.NewLinkID(0, 1)); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("local event target: got %v", err)
	}
}

func TestSendAfterClose(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1)
	ts.channels[0].Close()
	_, err := ts.channels[0].Send(context.Background(), api.NewLinkID(1, 0), api.Command{Code: api.CmdStart, WaitForAck: true})
	if !api.HasCode(err, api.ErrCodeClosed) {
		t.Fatalf("got %v", err)
	}
}

func TestStrayAckDoesNotDisturbCalls(t *testing.T) {
	ts := newTestSystem(t, 0, 0, 1)
	ch := ts.channels[0]
	if err := ts.fabric.notify.Ring(Doorbell{Kind: KindAck, Src: 1, Dst: 0, Arg: 999}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for ch.Stats().StrayAcks.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("stray ack not counted")
		}
		time.Sleep(time.Millisecond)
	}

	target := api.NewLinkID(1, 3)
	for i := 0; i < 3; i++ {
		param := fmt.Sprintf("call-%d", i)
		reply, err := ch.Send(context.Background(), target, api.Command{Code: api.CmdGetInfo, Param: []byte(param), WaitForAck: true})
		if err != nil || string(reply) != param {
			t.Fatalf("call %d after stray ack: %q, %v", i, reply, err)
		}
	}

	// An ack from a processor the call was not sent to is stray as well.
	ts3 := newTestSystem(t, 0, 0, 1, 2)
	h := ts3.handlers[1]
	h.mu.Lock()
	h.reply = func(id api.LinkID, cmd api.Command) ([]byte, error) {
		ts3.fabric.notify.Ring(Doorbell{Kind: KindAck, Src: 2, Dst: 0, Arg: 1})
		return []byte("ok"), nil
	}
	h.mu.Unlock()
	reply, err := ts3.channels[0].Send(context.Background(), target, api.Command{Code: api.CmdGetInfo, WaitForAck: true})
	if err != nil || string(reply) != "ok" {
		t.Fatalf("call with foreign ack: %q, %v", reply, err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for ts3.channels[0].Stats().StrayAcks.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("foreign ack not counted")
		}
		time.Sleep(time.Millisecond)
	}
}
