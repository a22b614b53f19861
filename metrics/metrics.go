// Package metrics exposes Prometheus collectors for the tagging service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry so the
// default Go runtime collectors do not leak into the scrape output.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	loaded   *prometheus.GaugeVec
}

// New builds and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "autotagger_requests_total",
			Help: "Tagging requests handled, by backend and HTTP status.",
		}, []string{"tagger", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "autotagger_request_duration_seconds",
			Help:    "Time spent handling tagging requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"tagger"}),
		loaded: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "autotagger_model_loaded",
			Help: "Whether a tagger backend is available (1) or not (0).",
		}, []string{"tagger"}),
	}
}

// ObserveRequest records one handled tagging request.
func (m *Metrics) ObserveRequest(tagger, status string, seconds float64) {
	m.requests.WithLabelValues(tagger, status).Inc()
	m.duration.WithLabelValues(tagger).Observe(seconds)
}

// SetModelLoaded publishes backend availability.
func (m *Metrics) SetModelLoaded(tagger string, loaded bool) {
	v := 0.0
	if loaded {
		v = 1
	}
	m.loaded.WithLabelValues(tagger).Set(v)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
