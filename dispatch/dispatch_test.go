package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/registry"
)

type stubLink struct {
	id      api.LinkID
	active  *atomic.Int32
	overlap *atomic.Bool
	block   chan struct{}
	calls   atomic.Int32
}

func (p *stubLink) ID() api.LinkID   { return p.id }
func (p *stubLink) Name() string     { return "stub" }
func (p *stubLink) State() api.State { return api.StateReady }
func (p *stubLink) Control(_ context.Context, cmd api.Command) ([]byte, error) {
	p.calls.Add(1)
	if !cmd.WaitForAck {
		return nil, nil
	}
	if p.active.Add(1) > 1 {
		p.overlap.Store(true)
	}
	defer p.active.Add(-1)
	if p.block != nil {
		<-p.block
	}
	time.Sleep(time.Millisecond)
	return []byte(cmd.Code.String()), nil
}
func (p *stubLink) GetFullBuffers(int, *api.BufferList) error  { return nil }
func (p *stubLink) PutEmptyBuffers(int, *api.BufferList) error { return nil }
func (p *stubLink) GetLinkInfo() (api.LinkInfo, error)         { return api.LinkInfo{}, nil }

type fakeRemote struct {
	mu       sync.Mutex
	sent     []api.LinkID
	notified []api.LinkID
}

func (f *fakeRemote) Send(_ context.Context, id api.LinkID, cmd api.Command) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, id)
	return []byte("remote"), nil
}

func (f *fakeRemote) Notify(id api.LinkID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, id)
	return nil
}

func setup(n int) (*Dispatcher, *registry.Registry, []*stubLink) {
	reg := registry.New(0)
	var active atomic.Int32
	var overlap atomic.Bool
	links := make([]*stubLink, n)
	for i := range links {
		links[i] = &stubLink{id: api.NewLinkID(0, uint16(i)), active: &active, overlap: &overlap}
		reg.Register(links[i])
	}
	return New(reg, nil), reg, links
}

func TestAckedLocalCallsAreSerialized(t *testing.T) {
	d, _, links := setup(4)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := d.Dispatch(context.Background(), links[i%4].id, api.Command{Code: api.CmdGetInfo, WaitForAck: true})
			if err != nil || string(reply) != "GET_INFO" {
				t.Errorf("dispatch: %q, %v", reply, err)
			}
		}(i)
	}
	wg.Wait()
	if links[0].overlap.Load() {
		t.Error("acknowledged local calls overlapped")
	}
	if d.Stats().LocalAcked.Load() != 16 {
		t.Errorf("local acked = %d", d.Stats().LocalAcked.Load())
	}
}

func TestSendLinkCmdBypassesMutex(t *testing.T) {
	d, _, links := setup(2)
	links[0].block = make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(context.Background(), links[0].id, api.Command{Code: api.CmdStop, WaitForAck: true})
	}()
	for links[0].calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	posted := make(chan error, 1)
	go func() { posted <- d.SendLinkCmd(links[1].id, api.CmdNewData) }()
	select {
	case err := <-posted:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("fire-and-forget blocked behind an acknowledged call")
	}
	close(links[0].block)
	<-done
}

func TestRemoteRouting(t *testing.T) {
	d, _, _ := setup(1)
	remoteID := api.NewLinkID(3, 7)
	if _, err := d.Dispatch(context.Background(), remoteID, api.Command{Code: api.CmdStart, WaitForAck: true}); !api.HasCode(err, api.ErrCodeNotFound) {
		t.Fatalf("without route: %v", err)
	}
	r := &fakeRemote{}
	d.AttachRemote(r)
	reply, err := d.Dispatch(context.Background(), remoteID, api.Command{Code: api.CmdStart, WaitForAck: true})
	if err != nil || string(reply) != "remote" {
		t.Fatalf("remote dispatch: %q, %v", reply, err)
	}
	if err := d.SendLinkCmd(remoteID, api.CmdNewData); err != nil {
		t.Fatal(err)
	}
	if err := d.SendLinkCmd(remoteID, api.CmdStop); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("remote fire-and-forget STOP: %v", err)
	}
	if len(r.sent) != 1 || len(r.notified) != 1 {
		t.Errorf("sent %v notified %v", r.sent, r.notified)
	}
	if _, err := d.HandleRemote(context.Background(), remoteID, api.Command{Code: api.CmdStart}); !api.HasCode(err, api.ErrCodeNotFound) {
		t.Errorf("misrouted remote request: %v", err)
	}
}

func TestDeleteRetiresID(t *testing.T) {
	d, reg, links := setup(1)
	if _, err := d.Dispatch(context.Background(), links[0].id, api.Command{Code: api.CmdDelete, WaitForAck: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Lookup(links[0].id); !api.HasCode(err, api.ErrCodeTerminated) {
		t.Fatalf("lookup after delete: %v", err)
	}
	before := links[0].calls.Load()
	if _, err := d.Dispatch(context.Background(), links[0].id, api.Command{Code: api.CmdStart, WaitForAck: true}); !api.HasCode(err, api.ErrCodeTerminated) {
		t.Errorf("dispatch after delete: %v", err)
	}
	if links[0].calls.Load() != before {
		t.Error("command reached a deleted link")
	}
}

func TestOversizedParamRejected(t *testing.T) {
	d, _, links := setup(1)
	_, err := d.Dispatch(context.Background(), links[0].id, api.Command{Code: api.CmdCreate, Param: make([]byte, api.MaxMsgSize+1), WaitForAck: true})
	if !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Fatalf("got %v", err)
	}
}
