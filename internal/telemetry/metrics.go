package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zeusync/cabintrainer/internal/core/events/bus"
)

var _ bus.EventBusObserver = (*Metrics)(nil)

// Metrics counts notifications by kind and times their delivery. Each
// instance owns its registry so sessions and tests do not collide.
type Metrics struct {
	registry *prometheus.Registry

	notifications *prometheus.CounterVec
	failures      *prometheus.CounterVec
	delivery      *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cabintrainer",
				Subsystem: "bus",
				Name:      "notifications_total",
				Help:      "Notifications published, by kind.",
			},
			[]string{"kind"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cabintrainer",
				Subsystem: "bus",
				Name:      "delivery_errors_total",
				Help:      "Notifications whose handlers returned an error, by kind.",
			},
			[]string{"kind"},
		),
		delivery: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "cabintrainer",
				Subsystem: "bus",
				Name:      "delivery_duration_seconds",
				Help:      "Time spent delivering a notification to its handlers.",
				Buckets:   []float64{1e-6, 1e-5, 1e-4, 1e-3, 1e-2},
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(m.notifications, m.failures, m.delivery)
	return m
}

func (m *Metrics) OnPublish(_, eventType string, _ bus.Event) {
	m.notifications.WithLabelValues(eventType).Inc()
}

func (m *Metrics) OnDelivered(_, eventType string, _ int, err error, d time.Duration) {
	if err != nil {
		m.failures.WithLabelValues(eventType).Inc()
	}
	m.delivery.WithLabelValues(eventType).Observe(d.Seconds())
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Mux serves the hub on /ws and the metrics on /metrics.
func Mux(h *Hub, m *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	mux.Handle("/metrics", m.Handler())
	return mux
}
