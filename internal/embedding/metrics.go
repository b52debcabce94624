package embedding

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metric names, namespaced with "orangesearch".
const (
	MetricEmbeddingRequests = "embedding_requests_total"
	MetricEmbeddingDuration = "embedding_request_duration_seconds"
	MetricEmbeddingCache    = "embedding_cache_lookups_total"
)

// Metrics holds collectors for embedding calls.
type Metrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
}

// NewMetrics creates the collectors. They are not registered; call Register.
func NewMetrics() *Metrics {
	return &Metrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orangesearch",
				Name:      MetricEmbeddingRequests,
				Help:      "Embedding provider calls by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "orangesearch",
				Name:      MetricEmbeddingDuration,
				Help:      "Embedding provider latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"provider"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "orangesearch",
				Name:      MetricEmbeddingCache,
				Help:      "Embedding cache lookups by result (hit or miss)",
			},
			[]string{"result"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.requests, m.duration, m.cacheLookups} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) observe(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(provider, outcome).Inc()
	m.duration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) cacheResult(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// instrumented records latency and outcome of every call to next.
type instrumented struct {
	next     Embedder
	provider string
	metrics  *Metrics
}

// Instrument wraps e so every call is counted under provider.
// With nil metrics e is returned unchanged.
func Instrument(e Embedder, provider string, metrics *Metrics) Embedder {
	if metrics == nil {
		return e
	}
	return &instrumented{next: e, provider: provider, metrics: metrics}
}

func (i *instrumented) Embed(ctx context.Context, req Request) ([]float32, error) {
	start := time.Now()
	vec, err := i.next.Embed(ctx, req)

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	default:
		outcome = "error"
	}
	i.metrics.observe(i.provider, outcome, time.Since(start))
	return vec, err
}
