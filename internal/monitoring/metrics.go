// Package monitoring holds the in-memory metrics collector and the optional
// HTTP surface exposing it. The collector is dependency-injected and fed from
// the event bus, so the core packages never touch it directly.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/duetalk/duetalk/internal/event"
)

const maxHistogramSamples = 1000

// Collector accumulates counters, gauges and latency histograms. All methods
// are safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

func NewCollector() *Collector {
	return &Collector{
		counters:   map[string]float64{},
		gauges:     map[string]float64{},
		histograms: map[string][]float64{},
	}
}

// Counter adds delta to the named counter.
func (c *Collector) Counter(name string, delta float64, labels map[string]string) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key] += delta
}

// Gauge sets the named gauge.
func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[key] = value
}

// Observe appends a sample to the named histogram, keeping a bounded window.
func (c *Collector) Observe(name string, value float64, labels map[string]string) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	samples := append(c.histograms[key], value)
	if len(samples) > maxHistogramSamples {
		samples = samples[len(samples)-maxHistogramSamples:]
	}
	c.histograms[key] = samples
}

// ObserveLatency records d in milliseconds.
func (c *Collector) ObserveLatency(name string, d time.Duration, labels map[string]string) {
	c.Observe(name, float64(d.Milliseconds()), labels)
}

// HistogramStats summarizes one histogram.
type HistogramStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

func (c *Collector) CounterValue(name string, labels map[string]string) float64 {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key]
}

func (c *Collector) GaugeValue(name string, labels map[string]string) (float64, bool) {
	key := metricKey(name, labels)
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.gauges[key]
	return v, ok
}

func (c *Collector) Histogram(name string, labels map[string]string) HistogramStats {
	key := metricKey(name, labels)
	c.mu.Lock()
	samples := append([]float64(nil), c.histograms[key]...)
	c.mu.Unlock()
	return summarize(samples)
}

// Snapshot returns every metric in one JSON-friendly map.
func (c *Collector) Snapshot() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	counters := make(map[string]float64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	gauges := make(map[string]float64, len(c.gauges))
	for k, v := range c.gauges {
		gauges[k] = v
	}
	histograms := make(map[string]HistogramStats, len(c.histograms))
	for k, samples := range c.histograms {
		histograms[k] = summarize(samples)
	}
	return map[string]any{
		"counters":   counters,
		"gauges":     gauges,
		"histograms": histograms,
	}
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters = map[string]float64{}
	c.gauges = map[string]float64{}
	c.histograms = map[string][]float64{}
}

func summarize(samples []float64) HistogramStats {
	if len(samples) == 0 {
		return HistogramStats{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return HistogramStats{
		Count: len(sorted),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 0.50),
		P95:   percentile(sorted, 0.95),
	}
}

func percentile(sorted []float64, p float64) float64 {
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=%s", k, labels[k])
	}
	b.WriteString("}")
	return b.String()
}

// SubscribeToBus registers handlers so task lifecycle and orchestration
// events feed the collector. Must be called before the bus router starts.
func (c *Collector) SubscribeToBus(bus *event.EventBus) {
	count := func(eventType event.EventType, name string) {
		bus.SubscribeAsync(eventType, "metrics."+name, func(*message.Message) error {
			c.Counter(name, 1, nil)
			return nil
		})
	}
	count(event.TaskStarted, "tasks_started")
	count(event.TaskCompleted, "tasks_completed")
	count(event.TaskPaused, "tasks_paused")
	count(event.TaskResumed, "tasks_resumed")
	count(event.TurnFailed, "turns_failed")

	bus.SubscribeAsync(event.TaskCancelled, "metrics.tasks_cancelled", func(msg *message.Message) error {
		var em event.EventMessage
		if err := json.Unmarshal(msg.Payload, &em); err != nil {
			return err
		}
		var data event.TaskCancelledData
		if err := json.Unmarshal(em.Data, &data); err != nil {
			return err
		}
		labels := map[string]string{"forced": fmt.Sprintf("%t", data.Forced)}
		c.Counter("tasks_cancelled", 1, labels)
		return nil
	})

	bus.SubscribeAsync(event.HandoffRecorded, "metrics.handoffs", func(msg *message.Message) error {
		var em event.EventMessage
		if err := json.Unmarshal(msg.Payload, &em); err != nil {
			return err
		}
		var data event.HandoffRecordedData
		if err := json.Unmarshal(em.Data, &data); err != nil {
			return err
		}
		c.Counter("handoffs", 1, map[string]string{"kind": data.Kind})
		return nil
	})

	event.SubscribeTyped(bus, event.TurnCompleted, "metrics.turn_latency",
		func(_ context.Context, e *event.Event[event.TurnCompletedData]) error {
			c.Counter("turns_completed", 1, map[string]string{"agent": e.Data.Agent})
			c.ObserveLatency("turn_latency_ms", e.Data.Elapsed, map[string]string{"agent": e.Data.Agent})
			return nil
		})
}
