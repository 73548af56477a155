package adapters_test

import (
	"testing"

	"github.com/momentics/hioload-link/adapters"
	"github.com/momentics/hioload-link/control"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter(nil, nil)
	stats := ctrl.Stats()
	if _, ok := stats["debug.platform.cpus"]; !ok {
		t.Error("Expected platform probes on a fresh adapter")
	}
	s, err := ctrl.Collector().Register("cam")
	if err != nil {
		t.Fatal(err)
	}
	s.InBufRecvCount.Add(3)
	ctrl.RegisterDebugProbe("answer", func() any { return 42 })
	stats = ctrl.Stats()
	snap, ok := stats["link.cam"].(control.LinkStatsSnapshot)
	if !ok || snap.InBufRecvCount != 3 {
		t.Errorf("link snapshot missing: %v", stats["link.cam"])
	}
	if stats["debug.answer"] != 42 {
		t.Error("probe not reported")
	}
}

func TestControlAdapterSharesProbes(t *testing.T) {
	probes := control.NewDebugProbes()
	ctrl := adapters.NewControlAdapter(control.NewCollector(), probes)
	probes.RegisterProbe("x", func() any { return "y" })
	if ctrl.Stats()["debug.x"] != "y" {
		t.Error("adapter does not read the given probe registry")
	}
	if _, ok := ctrl.Stats()["debug.platform.cpus"]; ok {
		t.Error("platform probes installed on a caller-owned registry")
	}
}
