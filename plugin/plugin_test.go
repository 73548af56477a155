package plugin

import (
	"testing"

	"github.com/momentics/hioload-link/api"
)

func metaList(data ...[]byte) *api.BufferList {
	var l api.BufferList
	for i, d := range data {
		l.Append(api.NewBuffer(uint32(i), 0, &api.MetadataBlock{Data: d, FilledSize: len(d)}))
	}
	return &l
}

func TestDefaultRegistry(t *testing.T) {
	names := Default.Names()
	if len(names) != 2 || names[0] != "invert" || names[1] != "passthrough" {
		t.Fatalf("builtins %v", names)
	}
	if _, err := Default.New("missing"); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("unknown plugin: %v", err)
	}
}

func TestInvertProcessAndControl(t *testing.T) {
	p, _ := Default.New("invert")
	h, err := p.Create(map[string]any{"level": float64(100)})
	if err != nil {
		t.Fatal(err)
	}
	in := metaList([]byte{10, 20, 30})
	out := metaList(make([]byte, 3))
	if err := p.Process(h, in, out); err != nil {
		t.Fatal(err)
	}
	got := out.Buffers[0].Payload().(*api.MetadataBlock).Data
	if got[0] != 90 || got[1] != 80 || got[2] != 70 {
		t.Errorf("inverted %v", got)
	}

	if _, err := p.Control(h, CmdSetLevel, api.MustEncodeParams(LevelParams{Level: 300})); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("level 300: %v", err)
	}
	reply, err := p.Control(h, CmdGetCounters, nil)
	if err != nil {
		t.Fatal(err)
	}
	var c Counters
	if err := api.DecodeParams(reply, &c); err != nil || c.Frames != 1 || c.Bytes != 3 {
		t.Errorf("counters %+v, %v", c, err)
	}
	if _, err := p.Create(map[string]any{"level": "high"}); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("bad level type: %v", err)
	}
}

func TestPassthroughRejectsMismatchedLists(t *testing.T) {
	p := &Passthrough{}
	if err := p.Process(p, metaList([]byte{1}), metaList()); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Fatalf("got %v", err)
	}
}
