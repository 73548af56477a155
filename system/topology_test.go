package system_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/momentics/hioload-link/api"
	"github.com/momentics/hioload-link/links"
	"github.com/momentics/hioload-link/links/sink"
	"github.com/momentics/hioload-link/system"
)

const pipelineYAML = `
processors:
  - id: 0
    name: capture
    cpus: [0]
  - id: 1
    name: display
links:
  - name: cam
    kind: source
    proc: 0
    index: 1
    params:
      buffersPerChannel: 4
      next: {nextLinkId: "@out"}
  - name: out
    kind: sink
    proc: 1
    index: 1
    params:
      in: {prevLinkId: "@cam", prevQueueId: 0}
      hold: true
`

func TestLoadTopology(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	if err := os.WriteFile(path, []byte(pipelineYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	topo, err := system.LoadTopology(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(topo.Processors) != 2 || len(topo.Links) != 2 {
		t.Fatalf("parsed %+v", topo)
	}
	if err := topo.Validate(links.NewCatalog(nil)); err != nil {
		t.Fatal(err)
	}
	out, _ := topo.Link("out")
	blob, err := topo.CreateParams(out)
	if err != nil {
		t.Fatal(err)
	}
	var p sink.Params
	if err := api.DecodeParams(blob, &p); err != nil {
		t.Fatal(err)
	}
	if p.In.Prev() != api.NewLinkID(0, 1) || !p.Hold {
		t.Errorf("resolved params %+v", p)
	}
}

func TestLoadTopologyMissingFile(t *testing.T) {
	_, err := system.LoadTopology(filepath.Join(t.TempDir(), "nope.yaml"))
	if !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("got %v", err)
	}
}

func TestTopologyValidation(t *testing.T) {
	cases := map[string]string{
		"no processors": "links: []",
		"duplicate processor": `
processors: [{id: 0}, {id: 0}]`,
		"processor out of range": `
processors: [{id: 64}]`,
		"undeclared processor": `
processors: [{id: 0}]
links: [{name: a, kind: sink, proc: 1, index: 1}]`,
		"duplicate name": `
processors: [{id: 0}]
links: [{name: a, kind: sink, proc: 0, index: 1}, {name: a, kind: sink, proc: 0, index: 2}]`,
		"duplicate id": `
processors: [{id: 0}]
links: [{name: a, kind: sink, proc: 0, index: 1}, {name: b, kind: sink, proc: 0, index: 1}]`,
		"unknown kind": `
processors: [{id: 0}]
links: [{name: a, kind: camera, proc: 0, index: 1}]`,
		"dangling reference": `
processors: [{id: 0}]
links: [{name: a, kind: sink, proc: 0, index: 1, params: {in: {prevLinkId: "@ghost"}}}]`,
		"nameless link": `
processors: [{id: 0}]
links: [{kind: sink, proc: 0, index: 1}]`,
	}
	cat := links.NewCatalog(nil)
	for name, doc := range cases {
		topo, err := system.ParseTopology([]byte(strings.TrimSpace(doc)))
		if err != nil {
			t.Errorf("%s: parse: %v", name, err)
			continue
		}
		if err := topo.Validate(cat); !api.HasCode(err, api.ErrCodeInvalidParams) {
			t.Errorf("%s: got %v", name, err)
		}
	}
}

func TestParseTopologyRejectsGarbage(t *testing.T) {
	if _, err := system.ParseTopology([]byte("processors: {id: [")); !api.HasCode(err, api.ErrCodeInvalidParams) {
		t.Errorf("got %v", err)
	}
}
