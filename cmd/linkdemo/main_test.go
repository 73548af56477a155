package main

import (
	"testing"
	"time"

	"github.com/momentics/hioload-link/links"
)

func TestDemoTopologyIsValid(t *testing.T) {
	o, err := parseFlags(nil)
	if err != nil {
		t.Fatal(err)
	}
	topo := demoTopology(o)
	if err := topo.Validate(links.NewCatalog(nil)); err != nil {
		t.Fatal(err)
	}
	if o.plugin != "invert" || o.buffers != 4 {
		t.Errorf("defaults %+v", o)
	}
}

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"--plugin", "passthrough", "--duration", "1s", "--channels", "3"})
	if err != nil {
		t.Fatal(err)
	}
	if o.plugin != "passthrough" || o.duration != time.Second || o.channels != 3 {
		t.Errorf("parsed %+v", o)
	}
}

func TestRunShortDemo(t *testing.T) {
	o, _ := parseFlags(nil)
	o.duration = 50 * time.Millisecond
	o.interval = 2 * time.Millisecond
	o.logLevel = "error"
	if err := run(o); err != nil {
		t.Fatal(err)
	}
}
