// Package telemetry aggregates run metrics in process and reports them
// through the logger.
package telemetry

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind is how a metric aggregates.
type Kind string

const (
	// Counter sums every recorded value.
	Counter Kind = "counter"
	// Gauge keeps the last recorded value.
	Gauge Kind = "gauge"
	// Timer sums durations and counts observations.
	Timer Kind = "timer"
)

// Metric is one aggregated series.
type Metric struct {
	Name    string        `json:"name"`
	Kind    Kind          `json:"kind"`
	Value   float64       `json:"value"`
	Count   int           `json:"count"`
	Total   time.Duration `json:"total,omitempty"`
	Updated time.Time     `json:"updated"`
}

// Collector aggregates metrics by name. A disabled collector drops everything.
type Collector struct {
	mu      sync.Mutex
	enabled bool
	series  map[string]*Metric
}

// NewCollector returns a collector that records only when enabled.
func NewCollector(enabled bool) *Collector {
	return &Collector{enabled: enabled, series: map[string]*Metric{}}
}

// Enabled reports whether c records anything.
func (c *Collector) Enabled() bool { return c != nil && c.enabled }

// Counter adds delta to a counter.
func (c *Collector) Counter(name string, delta float64) {
	c.record(name, Counter, func(m *Metric) { m.Value += delta })
}

// Gauge sets a gauge to value.
func (c *Collector) Gauge(name string, value float64) {
	c.record(name, Gauge, func(m *Metric) { m.Value = value })
}

// Timer adds one observation of d to a timer.
func (c *Collector) Timer(name string, d time.Duration) {
	c.record(name, Timer, func(m *Metric) {
		m.Total += d
		m.Value = float64(m.Total.Milliseconds())
	})
}

// Since records the time elapsed from start under a timer.
func (c *Collector) Since(name string, start time.Time) {
	c.Timer(name, time.Since(start))
}

func (c *Collector) record(name string, kind Kind, apply func(*Metric)) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.series[name]
	if !ok {
		m = &Metric{Name: name, Kind: kind}
		c.series[name] = m
	}
	apply(m)
	m.Count++
	m.Updated = time.Now()
}

// Snapshot returns the current series sorted by name.
func (c *Collector) Snapshot() []Metric {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Metric, 0, len(c.series))
	for _, m := range c.series {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Flush logs every series and resets the collector.
func (c *Collector) Flush() {
	metrics := c.Snapshot()
	if len(metrics) == 0 {
		return
	}
	c.mu.Lock()
	c.series = map[string]*Metric{}
	c.mu.Unlock()
	for _, m := range metrics {
		ev := log.Info().Str("name", m.Name).Str("kind", string(m.Kind)).Float64("value", m.Value).Int("count", m.Count)
		if m.Kind == Timer {
			ev = ev.Dur("total", m.Total)
		}
		ev.Msg("metric")
	}
}

var (
	globalMu sync.Mutex
	global   *Collector
)

// InitGlobal replaces the process collector.
func InitGlobal(enabled bool) *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	global = NewCollector(enabled)
	return global
}

// Global returns the process collector, disabled unless InitGlobal enabled it.
func Global() *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	if global == nil {
		global = NewCollector(false)
	}
	return global
}
