// Package metrics exposes the prometheus collectors of the dashboard.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Loads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensormap_registry_loads_total",
		Help: "Registry loads by result",
	}, []string{"result"})
	Sensors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensormap_registry_sensors",
		Help: "Sensors currently held by the registry",
	})
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensormap_transitions_total",
		Help: "Activate/deactivate requests by action and result",
	}, []string{"action", "result"})
	TransitionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sensormap_transition_latency_seconds",
		Help:    "Latency of activate/deactivate collaborator calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})
	Pushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensormap_push_updates_total",
		Help: "Pushed sensor updates by outcome",
	}, []string{"outcome"})
	RenderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensormap_render_failures_total",
		Help: "Times the map engine failed and rendering was disabled",
	})
	Markers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensormap_markers",
		Help: "Markers currently rendered",
	})
)

// ObserveTransition records the latency of one transition call.
func ObserveTransition(action string, start time.Time) {
	TransitionLatency.WithLabelValues(action).Observe(time.Since(start).Seconds())
}
