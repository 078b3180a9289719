package monitoring

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duetalk/duetalk/internal/event"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()
	c.Counter("requests", 1, nil)
	c.Counter("requests", 1, nil)
	c.Counter("requests", 1, map[string]string{"agent": "talker"})

	assert.Equal(t, 2.0, c.CounterValue("requests", nil))
	assert.Equal(t, 1.0, c.CounterValue("requests", map[string]string{"agent": "talker"}))
}

func TestCollectorGauge(t *testing.T) {
	c := NewCollector()
	_, ok := c.GaugeValue("queue_depth", nil)
	assert.False(t, ok)

	c.Gauge("queue_depth", 3, nil)
	v, ok := c.GaugeValue("queue_depth", nil)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestCollectorHistogram(t *testing.T) {
	c := NewCollector()
	for _, v := range []float64{10, 20, 30, 40, 50} {
		c.Observe("latency", v, nil)
	}
	stats := c.Histogram("latency", nil)
	assert.Equal(t, 5, stats.Count)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 50.0, stats.Max)
	assert.Equal(t, 30.0, stats.Mean)
	assert.Equal(t, 30.0, stats.P50)
}

func TestMetricKeyStable(t *testing.T) {
	a := metricKey("m", map[string]string{"b": "2", "a": "1"})
	b := metricKey("m", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, "m{a=1,b=2}", a)
	assert.Equal(t, a, b)
}

func TestCollectorFedFromBus(t *testing.T) {
	bus, err := event.NewEventBus()
	require.NoError(t, err)

	c := NewCollector()
	c.SubscribeToBus(bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = bus.Start(ctx) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, "test", event.TurnCompletedData{
		SessionID: "s1", Agent: "talker", Complexity: "simple", Elapsed: 120 * time.Millisecond,
	}))
	require.NoError(t, bus.Publish(ctx, "test", event.TaskCancelledData{TaskID: "t1", Forced: true}))

	assert.Eventually(t, func() bool {
		return c.CounterValue("turns_completed", map[string]string{"agent": "talker"}) == 1 &&
			c.CounterValue("tasks_cancelled", map[string]string{"forced": "true"}) == 1
	}, 2*time.Second, 20*time.Millisecond)

	stats := c.Histogram("turn_latency_ms", map[string]string{"agent": "talker"})
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, 120.0, stats.Min)
}

func TestServerEndpoints(t *testing.T) {
	c := NewCollector()
	c.Counter("requests", 2, nil)
	srv := NewServer("127.0.0.1:0", c, func() map[string]any {
		return map[string]any{"total_requests": 2}
	}, slog.New(slog.DiscardHandler))
	handler := srv.routes()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "metrics")
	assert.Contains(t, body, "orchestrator")
}
