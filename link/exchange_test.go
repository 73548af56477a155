package link_test

import (
	"math/rand"
	"testing"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/control"
	"github.com/momentics/hioload-link/fake"
	"github.com/momentics/hioload-link/link"
)

func frames(ch, i int) api.Payload {
	return &api.MetadataBlock{Data: make([]byte, 16)}
}

// producerStage exposes one OutputQueue through the Stage contract.
type producerStage struct {
	*fake.Stage
	out *link.OutputQueue
}

func (p *producerStage) GetFullBuffers(_ int, list *api.BufferList) error {
	p.out.GetFullBuffers(list)
	return nil
}

func (p *producerStage) PutEmptyBuffers(_ int, list *api.BufferList) error {
	p.out.PutEmptyBuffers(list)
	return nil
}

func TestGetEmptyOutputBufferBackpressure(t *testing.T) {
	stats := control.NewLinkStats("p")
	q, err := link.NewOutputQueue(2, 2, frames, stats)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if _, err := q.GetEmptyOutputBuffer(1); err != nil {
			t.Fatal(err)
		}
	}
	_, err = q.GetEmptyOutputBuffer(1)
	if !api.HasCode(err, api.ErrCodeNoMoreBuffers) {
		t.Fatalf("got %v", err)
	}
	snap := stats.Snapshot()
	if snap.OutBufDropCount[1] != 1 || snap.OutBufDropCount[0] != 0 {
		t.Errorf("drop counters %v", snap.OutBufDropCount)
	}
	if q.EmptyCount(0) != 2 {
		t.Errorf("channel 0 touched: %d", q.EmptyCount(0))
	}
}

func TestOutputQueueInvariantViolationsPanic(t *testing.T) {
	q, _ := link.NewOutputQueue(1, 1, frames, nil)
	other, _ := link.NewOutputQueue(1, 1, frames, nil)
	foreign, _ := other.GetEmptyOutputBuffer(0)

	for name, fn := range map[string]func(){
		"foreign buffer": func() { q.PutFullOutputBuffer(foreign) },
		"nil in list": func() {
			list := api.BufferList{Count: 1}
			q.PutEmptyBuffers(&list)
		},
		"channel out of range": func() { q.GetEmptyOutputBuffer(3) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("%s: expected panic", name)
				}
			}()
			fn()
		}()
	}
}

// TestBufferConservation cycles buffers between a producer and a consumer
// at random and checks that no handle is ever lost or held twice.
func TestBufferConservation(t *testing.T) {
	const channels, perChannel = 3, 5
	resolver := fake.NewResolver()
	pstats := control.NewLinkStats("producer")
	out, err := link.NewOutputQueue(channels, perChannel, frames, pstats)
	if err != nil {
		t.Fatal(err)
	}
	producer, err := link.New(api.NewLinkID(0, 1), "producer", func(*link.Env) (api.Stage, error) {
		return &producerStage{Stage: fake.NewStage(), out: out}, nil
	}, link.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer producer.Kill()
	if _, err := ack(producer, api.CmdCreate, ""); err != nil {
		t.Fatal(err)
	}
	resolver.Add(producer)

	cstats := control.NewLinkStats("consumer")
	in, err := link.NewInputQueue(api.InQueueParams{PrevLinkID: producer.ID().Uint32()}, resolver, cstats)
	if err != nil {
		t.Fatal(err)
	}

	rng := rand.New(rand.NewSource(42))
	var produced, pulled, released uint64
	var held []*api.Buffer
	var list api.BufferList
	for step := 0; step < 5000; step++ {
		switch rng.Intn(3) {
		case 0:
			ch := rng.Intn(channels)
			b, err := out.GetEmptyOutputBuffer(ch)
			if err != nil {
				break
			}
			out.PutFullOutputBuffer(b)
			produced++
		case 1:
			n, err := in.Pull(&list)
			if err != nil {
				t.Fatal(err)
			}
			pulled += uint64(n)
			held = append(held, list.Slice()...)
			list.Reset()
		case 2:
			if len(held) == 0 {
				break
			}
			k := 1 + rng.Intn(len(held))
			if k > api.MaxBufs {
				k = api.MaxBufs
			}
			for _, b := range held[:k] {
				list.Append(b)
			}
			held = held[k:]
			if err := in.Release(&list); err != nil {
				t.Fatal(err)
			}
			released += uint64(k)
		}

		inFlight := map[*api.Buffer]bool{}
		for _, b := range held {
			if inFlight[b] {
				t.Fatalf("step %d: buffer %d held twice", step, b.ID())
			}
			inFlight[b] = true
			if b.Owner() != 0 {
				t.Fatalf("step %d: held buffer %d still owned by a queue", step, b.ID())
			}
		}
		total := out.FullCount() + len(held)
		for ch := 0; ch < channels; ch++ {
			total += out.EmptyCount(ch)
		}
		if total != channels*perChannel {
			t.Fatalf("step %d: %d buffers accounted, want %d", step, total, channels*perChannel)
		}
	}
	if pulled > produced || released > pulled {
		t.Errorf("produced %d pulled %d released %d", produced, pulled, released)
	}
	if got := cstats.Snapshot().InBufRecvCount; got != pulled {
		t.Errorf("inBufRecvCount %d, want %d", got, pulled)
	}
}

func TestInputQueueInfo(t *testing.T) {
	resolver := fake.NewResolver()
	producer, _ := link.New(api.NewLinkID(0, 2), "p", func(*link.Env) (api.Stage, error) {
		return fake.NewStage(), nil
	}, link.Options{})
	defer producer.Kill()
	ack(producer, api.CmdCreate, "")
	resolver.Add(producer)

	in, _ := link.NewInputQueue(api.InQueueParams{PrevLinkID: producer.ID().Uint32()}, resolver, nil)
	qi, err := in.QueueInfo()
	if err != nil || qi.NumChannels != 1 {
		t.Fatalf("queue info %+v, %v", qi, err)
	}
	bad, _ := link.NewInputQueue(api.InQueueParams{PrevLinkID: producer.ID().Uint32(), PrevQueueID: 2}, resolver, nil)
	if _, err := bad.QueueInfo(); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("missing queue: %v", err)
	}
	if _, err := link.NewInputQueue(api.InQueueParams{PrevQueueID: -1}, resolver, nil); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("negative queue: %v", err)
	}
}
