// control/stats.go
// Author: momentics <momentics@gmail.com>
//
// Per-link statistics and the process-wide collector they register into.
// Counters are atomics so workers update them without locks; latency
// aggregates take a short mutex.

package control

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"

	"github.com/momentics/hioload-link/api"
)

type latency struct {
	mu       sync.Mutex
	min, max int64
	sum      int64
	n        uint64
}

func (l *latency) record(ns int64) {
	if ns < 0 {
		ns = 0
	}
	l.mu.Lock()
	if l.n == 0 || ns < l.min {
		l.min = ns
	}
	if ns > l.max {
		l.max = ns
	}
	l.sum += ns
	l.n++
	l.mu.Unlock()
}

func (l *latency) snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := LatencySnapshot{MinNs: l.min, MaxNs: l.max, Count: l.n}
	if l.n > 0 {
		s.AvgNs = l.sum / int64(l.n)
	}
	return s
}

func (l *latency) reset() {
	l.mu.Lock()
	l.min, l.max, l.sum, l.n = 0, 0, 0, 0
	l.mu.Unlock()
}

// LinkStats holds the counters of one link.
type LinkStats struct {
	name      string
	startedAt atomic.Int64
	channels  atomic.Int32

	NewDataCmdCount   atomic.Uint64
	InBufRecvCount    atomic.Uint64
	InBufDropCount    atomic.Uint64
	InBufProcessCount atomic.Uint64
	ProcessErrCount   atomic.Uint64
	EmptyWakeupCount  atomic.Uint64
	OutBufCount       [api.MaxChannels]atomic.Uint64
	OutBufDropCount   [api.MaxChannels]atomic.Uint64

	local  latency
	source latency
}

// NewLinkStats creates detached counters (not registered with a collector).
func NewLinkStats(name string) *LinkStats {
	s := &LinkStats{name: name}
	s.startedAt.Store(timecache.CachedTimeNano())
	return s
}

// Name returns the link name the counters belong to.
func (s *LinkStats) Name() string { return s.name }

// SetChannels declares how many output channels are reported.
func (s *LinkStats) SetChannels(n int) {
	if n < 0 {
		n = 0
	}
	if n > api.MaxChannels {
		n = api.MaxChannels
	}
	s.channels.Store(int32(n))
}

// GrowChannels raises the reported channel count to at least n.
func (s *LinkStats) GrowChannels(n int) {
	if n > api.MaxChannels {
		n = api.MaxChannels
	}
	for {
		cur := s.channels.Load()
		if int(cur) >= n || s.channels.CompareAndSwap(cur, int32(n)) {
			return
		}
	}
}

// RecordLocalLatency records time spent inside the link for one buffer.
func (s *LinkStats) RecordLocalLatency(ns int64) { s.local.record(ns) }

// RecordSourceLatency records capture-to-here latency for one buffer.
func (s *LinkStats) RecordSourceLatency(ns int64) { s.source.record(ns) }

// Reset zeroes all counters.
func (s *LinkStats) Reset() {
	s.NewDataCmdCount.Store(0)
	s.InBufRecvCount.Store(0)
	s.InBufDropCount.Store(0)
	s.InBufProcessCount.Store(0)
	s.ProcessErrCount.Store(0)
	s.EmptyWakeupCount.Store(0)
	for i := range s.OutBufCount {
		s.OutBufCount[i].Store(0)
		s.OutBufDropCount[i].Store(0)
	}
	s.local.reset()
	s.source.reset()
	s.startedAt.Store(timecache.CachedTimeNano())
}

// LatencySnapshot is an aggregate in nanoseconds.
type LatencySnapshot struct {
	MinNs int64  `json:"minNs"`
	MaxNs int64  `json:"maxNs"`
	AvgNs int64  `json:"avgNs"`
	Count uint64 `json:"count"`
}

// LinkStatsSnapshot is a point-in-time copy of LinkStats.
type LinkStatsSnapshot struct {
	Name              string          `json:"name"`
	ElapsedNs         int64           `json:"elapsedNs"`
	NewDataCmdCount   uint64          `json:"newDataCmdCount"`
	InBufRecvCount    uint64          `json:"inBufRecvCount"`
	InBufDropCount    uint64          `json:"inBufDropCount"`
	InBufProcessCount uint64          `json:"inBufProcessCount"`
	ProcessErrCount   uint64          `json:"processErrCount"`
	EmptyWakeupCount  uint64          `json:"emptyWakeupCount"`
	OutBufCount       []uint64        `json:"outBufCount"`
	OutBufDropCount   []uint64        `json:"outBufDropCount"`
	LocalLatency      LatencySnapshot `json:"localLatency"`
	SourceLatency     LatencySnapshot `json:"sourceLatency"`
}

// Snapshot copies the counters.
func (s *LinkStats) Snapshot() LinkStatsSnapshot {
	ch := int(s.channels.Load())
	out := LinkStatsSnapshot{
		Name:              s.name,
		ElapsedNs:         timecache.CachedTimeNano() - s.startedAt.Load(),
		NewDataCmdCount:   s.NewDataCmdCount.Load(),
		InBufRecvCount:    s.InBufRecvCount.Load(),
		InBufDropCount:    s.InBufDropCount.Load(),
		InBufProcessCount: s.InBufProcessCount.Load(),
		ProcessErrCount:   s.ProcessErrCount.Load(),
		EmptyWakeupCount:  s.EmptyWakeupCount.Load(),
		OutBufCount:       make([]uint64, ch),
		OutBufDropCount:   make([]uint64, ch),
		LocalLatency:      s.local.snapshot(),
		SourceLatency:     s.source.snapshot(),
	}
	for i := 0; i < ch; i++ {
		out.OutBufCount[i] = s.OutBufCount[i].Load()
		out.OutBufDropCount[i] = s.OutBufDropCount[i].Load()
	}
	return out
}

// Collector is the process-wide statistics table keyed by link name.
type Collector struct {
	mu    sync.RWMutex
	links map[string]*LinkStats
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{links: make(map[string]*LinkStats)}
}

// Register creates and registers counters for name.
func (c *Collector) Register(name string) (*LinkStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.links[name]; ok {
		return nil, errors.New(api.ErrCodeInvalidParams, "statistics already registered").
			WithContext("link", name)
	}
	s := NewLinkStats(name)
	c.links[name] = s
	return s, nil
}

// Deregister removes name.
func (c *Collector) Deregister(name string) {
	c.mu.Lock()
	delete(c.links, name)
	c.mu.Unlock()
}

// Get returns the counters registered for name.
func (c *Collector) Get(name string) (*LinkStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.links[name]
	return s, ok
}

// Len returns the number of registered links.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.links)
}

// Snapshot copies every registered link, ordered by name.
func (c *Collector) Snapshot() []LinkStatsSnapshot {
	c.mu.RLock()
	all := make([]*LinkStats, 0, len(c.links))
	for _, s := range c.links {
		all = append(all, s)
	}
	c.mu.RUnlock()
	out := make([]LinkStatsSnapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
