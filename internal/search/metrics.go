package search

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names, namespaced with "orangesearch".
const (
	MetricSearchRequests     = "search_requests_total"
	MetricSearchPath         = "search_retrieval_path_total"
	MetricEmbeddingFallbacks = "search_embedding_fallbacks_total"
	MetricSearchDuration     = "search_duration_seconds"
)

// Metrics holds collectors for search execution.
type Metrics struct {
	requests  *prometheus.CounterVec
	paths     *prometheus.CounterVec
	fallbacks prometheus.Counter
	duration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orangesearch",
				Name:      MetricSearchRequests,
				Help:      "Search executions by result code (OK on success)",
			},
			[]string{"code"},
		),
		paths: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orangesearch",
				Name:      MetricSearchPath,
				Help:      "Successful searches by retrieval path (fused or fallback)",
			},
			[]string{"path"},
		),
		fallbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "orangesearch",
				Name:      MetricEmbeddingFallbacks,
				Help:      "Searches that fell back to lexical ranking after an embedding failure",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "orangesearch",
				Name:      MetricSearchDuration,
				Help:      "End-to-end search execution time in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"code"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.paths, m.fallbacks, m.duration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observe(code string, path Path, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(code).Inc()
	m.duration.WithLabelValues(code).Observe(d.Seconds())
	if path != "" {
		m.paths.WithLabelValues(string(path)).Inc()
	}
}

func (m *Metrics) incFallback() {
	if m == nil {
		return
	}
	m.fallbacks.Inc()
}
