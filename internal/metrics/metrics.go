// Package metrics exposes the worker's Prometheus counters: events by
// (gate, vehicle_type, direction), notifications by (channel, outcome) and
// stream errors by camera.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Events        *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	StreamErrors  *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry so tests and multiple
// instances never collide on registration.
func New() *Metrics {
	m := &Metrics{
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewatch_events_total",
			Help: "Vehicle crossing events persisted, by gate, vehicle type and direction.",
		}, []string{"gate", "vehicle_type", "direction"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewatch_notifications_total",
			Help: "Notification send attempts, by channel and outcome.",
		}, []string{"channel", "outcome"}),
		StreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gatewatch_stream_errors_total",
			Help: "Camera stream failures, by camera.",
		}, []string{"camera"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(m.Events, m.Notifications, m.StreamErrors)
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return m
}

func (m *Metrics) IncEvent(gateID int64, vehicleType, direction string) {
	m.Events.WithLabelValues(strconv.FormatInt(gateID, 10), vehicleType, direction).Inc()
}

func (m *Metrics) IncNotification(channel, outcome string) {
	m.Notifications.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) IncStreamError(cameraID int64) {
	m.StreamErrors.WithLabelValues(strconv.FormatInt(cameraID, 10)).Inc()
}

// Handler serves the registry for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
