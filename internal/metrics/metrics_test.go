package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/models"
)

type fakeGauges struct {
	length  int
	running models.RunningContainerID
}

func (f fakeGauges) QueueLength(context.Context) int { return f.length }

func (f fakeGauges) Running(context.Context) (models.RunningContainerID, bool) {
	return f.running, f.running != ""
}

func scrape(t *testing.T, pc *PrometheusCollector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	pc.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestPrometheusCollector_CountsEvents(t *testing.T) {
	pc := NewPrometheusCollector("", nil)

	require.NoError(t, pc.Publish(context.Background(), events.New(events.TypeQueued)))
	require.NoError(t, pc.Publish(context.Background(), events.New(events.TypeQueued)))
	require.NoError(t, pc.Publish(context.Background(), events.New(events.TypeFinished)))

	body := scrape(t, pc)
	assert.Contains(t, body, `docker_queue_events_total{type="QUEUED"} 2`)
	assert.Contains(t, body, `docker_queue_events_total{type="FINISHED"} 1`)
}

func TestPrometheusCollector_LaunchHistogram(t *testing.T) {
	pc := NewPrometheusCollector("dq", nil)
	pc.ObserveLaunch(50*time.Millisecond, nil)
	pc.ObserveLaunch(time.Second, errors.New("exit 125"))

	body := scrape(t, pc)
	assert.Contains(t, body, `dq_launch_duration_seconds_count{status="success"} 1`)
	assert.Contains(t, body, `dq_launch_duration_seconds_count{status="error"} 1`)
}

func TestPrometheusCollector_Gauges(t *testing.T) {
	body := scrape(t, NewPrometheusCollector("dq", fakeGauges{length: 3, running: "abc"}))
	assert.Contains(t, body, "dq_queue_depth 3")
	assert.Contains(t, body, "dq_slot_occupied 1")

	body = scrape(t, NewPrometheusCollector("dq", fakeGauges{}))
	assert.Contains(t, body, "dq_slot_occupied 0")
}

func TestPrometheusCollector_AddGauge(t *testing.T) {
	pc := NewPrometheusCollector("dq", nil)
	clients := 0
	require.NoError(t, pc.AddGauge("websocket_clients", "Connected event subscribers", func() float64 {
		return float64(clients)
	}))

	clients = 4
	assert.Contains(t, scrape(t, pc), "dq_websocket_clients 4")

	assert.Error(t, pc.AddGauge("websocket_clients", "duplicate", func() float64 { return 0 }))
}
