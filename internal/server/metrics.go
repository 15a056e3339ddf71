package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the server's Prometheus collectors. Each server owns
// its own registry so tests can run servers side by side.
type metrics struct {
	registry *prometheus.Registry

	observations *prometheus.CounterVec
	evalSeconds  prometheus.Histogram
	driftScore   *prometheus.GaugeVec
	layerCount   prometheus.GaugeFunc
	persistDepth prometheus.GaugeFunc
}

func newMetrics(layerCount func() float64, persistDepth func() float64) *metrics {
	reg := prometheus.NewRegistry()

	m := &metrics{
		registry: reg,
		observations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftgate_observations_total",
			Help: "Observations processed, labeled by final decision.",
		}, []string{"decision"}),
		evalSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftgate_evaluation_seconds",
			Help:    "End-to-end submission pipeline latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		driftScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "driftgate_divergence_score",
			Help: "Current divergence score per subject.",
		}, []string{"subject_id"}),
		layerCount: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "driftgate_layers_registered",
			Help: "Number of registered rule layers.",
		}, layerCount),
		persistDepth: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "driftgate_persist_queue_depth",
			Help: "Evaluations waiting for the async writer.",
		}, persistDepth),
	}

	reg.MustRegister(m.observations, m.evalSeconds, m.driftScore, m.layerCount, m.persistDepth)
	return m
}
