package simserver

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector tracks tick throughput and connection load. Each
// collector owns its registry so independent servers (and tests) never
// collide on metric registration.
type MetricsCollector struct {
	registry          *prometheus.Registry
	ticksTotal        *prometheus.CounterVec
	tickDuration      prometheus.Histogram
	simulationBodies  prometheus.Gauge
	connectionsActive prometheus.Gauge
}

func NewMetricsCollector() *MetricsCollector {
	m := &MetricsCollector{
		registry: prometheus.NewRegistry(),
		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solarsim_ticks_total",
				Help: "Tick requests by outcome",
			},
			[]string{"status"},
		),
		tickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "solarsim_tick_duration_seconds",
				Help:    "Wall time spent integrating one tick",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
		),
		simulationBodies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "solarsim_simulation_bodies",
				Help: "Bodies in the most recently ticked simulation",
			},
		),
		connectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "solarsim_connections_active",
				Help: "Open simulation websocket connections",
			},
		),
	}

	m.registry.MustRegister(m.ticksTotal)
	m.registry.MustRegister(m.tickDuration)
	m.registry.MustRegister(m.simulationBodies)
	m.registry.MustRegister(m.connectionsActive)

	return m
}

func (m *MetricsCollector) RecordTick(bodies int, elapsed time.Duration) {
	m.ticksTotal.WithLabelValues("ok").Inc()
	m.tickDuration.Observe(elapsed.Seconds())
	m.simulationBodies.Set(float64(bodies))
}

func (m *MetricsCollector) RecordDroppedTick(reason string) {
	m.ticksTotal.WithLabelValues(reason).Inc()
}

func (m *MetricsCollector) ConnectionOpened() {
	m.connectionsActive.Inc()
}

func (m *MetricsCollector) ConnectionClosed() {
	m.connectionsActive.Dec()
}

// Handler exposes the collector's registry in Prometheus text format.
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
