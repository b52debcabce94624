package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/orangesearch/internal/middleware"
)

// RouterConfig wires the handlers and middleware into one http.Handler.
type RouterConfig struct {
	Search  *SearchHandlers
	History *HistoryHandlers
	Health  *HealthHandlers

	// Gatherer serves /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	Metrics  *middleware.Metrics

	// Limiter guards non-search routes. Search applies its own rate check
	// after query validation.
	Limiter   middleware.RateLimitStore
	KeyFunc   middleware.KeyFunc
	Validator middleware.TokenValidator

	// CORS allows browser callers on other origins; zero value disables it.
	CORS middleware.CORSConfig

	ServiceName    string
	TracingEnabled bool
	Logger         *slog.Logger
}

// NewRouter builds the service's HTTP handler.
//
// Middleware order, outermost first: RequestID, Tracing, CORS, Authenticate,
// Logging, HTTPMetrics.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = middleware.IPKeyFunc(false)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/search", cfg.Search.Search)

	associate := http.Handler(http.HandlerFunc(cfg.History.Associate))
	if cfg.Limiter != nil {
		associate = middleware.RateLimiter(cfg.Limiter, middleware.MethodCost, keyFunc, cfg.Metrics)(associate)
	}
	mux.Handle("/history/associate", associate)

	mux.HandleFunc("/health", cfg.Health.Health)
	mux.HandleFunc("/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r.Context(), http.StatusNotFound, ErrCodeNotFound, "The requested resource was not found")
	})

	var handler http.Handler = mux
	handler = middleware.HTTPMetrics(cfg.Metrics)(handler)
	handler = middleware.Logging(logger)(handler)
	handler = middleware.Authenticate(cfg.Validator)(handler)
	handler = middleware.CORS(cfg.CORS)(handler)
	if cfg.TracingEnabled {
		handler = middleware.Tracing(cfg.ServiceName)(handler)
	}
	return middleware.RequestID(handler)
}
