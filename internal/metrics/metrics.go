package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lcnr/docker-queue/internal/events"
	"github.com/lcnr/docker-queue/internal/models"
)

// Recorder is what the coordinator reports launch timings to.
type Recorder interface {
	ObserveLaunch(d time.Duration, err error)
}

// Gauges reads the live queue state on scrape.
type Gauges interface {
	QueueLength(ctx context.Context) int
	Running(ctx context.Context) (models.RunningContainerID, bool)
}

// PrometheusCollector keeps the daemon's metrics on a private registry.
type PrometheusCollector struct {
	events         *prometheus.CounterVec
	launchDuration *prometheus.HistogramVec

	namespace string
	registry  *prometheus.Registry
}

// NewPrometheusCollector creates a collector. gauges may be nil.
func NewPrometheusCollector(namespace string, gauges Gauges) *PrometheusCollector {
	if namespace == "" {
		namespace = "docker_queue"
	}

	pc := &PrometheusCollector{namespace: namespace, registry: prometheus.NewRegistry()}

	pc.events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of lifecycle events by type",
		},
		[]string{"type"},
	)

	pc.launchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "launch_duration_seconds",
			Help:      "Time spent running the launch command",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	pc.registry.MustRegister(
		pc.events,
		pc.launchDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if gauges != nil {
		pc.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queue_depth",
				Help:      "Number of pending launch requests",
			}, func() float64 {
				return float64(gauges.QueueLength(context.Background()))
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "slot_occupied",
				Help:      "1 while a container holds the running slot",
			}, func() float64 {
				if _, ok := gauges.Running(context.Background()); ok {
					return 1
				}
				return 0
			}),
		)
	}

	return pc
}

func (pc *PrometheusCollector) Name() string { return "metrics" }

// Publish counts ev.
func (pc *PrometheusCollector) Publish(ctx context.Context, ev events.Event) error {
	pc.events.WithLabelValues(string(ev.Type)).Inc()
	return nil
}

func (pc *PrometheusCollector) ObserveLaunch(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	pc.launchDuration.WithLabelValues(status).Observe(d.Seconds())
}

// AddGauge registers a gauge that calls fn on every scrape.
func (pc *PrometheusCollector) AddGauge(name, help string, fn func() float64) error {
	return pc.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: pc.namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Handler serves the exposition format.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{Registry: pc.registry})
}

// Nop discards observations.
type Nop struct{}

func (Nop) ObserveLaunch(time.Duration, error) {}
