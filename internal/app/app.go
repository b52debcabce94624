// Package app assembles the search service from configuration. Both the API
// server and the operator CLI build their dependencies here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/orangesearch/internal/api"
	"github.com/onnwee/orangesearch/internal/auth"
	"github.com/onnwee/orangesearch/internal/config"
	"github.com/onnwee/orangesearch/internal/db"
	"github.com/onnwee/orangesearch/internal/document"
	"github.com/onnwee/orangesearch/internal/embedding"
	"github.com/onnwee/orangesearch/internal/health"
	"github.com/onnwee/orangesearch/internal/history"
	"github.com/onnwee/orangesearch/internal/middleware"
	"github.com/onnwee/orangesearch/internal/search"
	"github.com/onnwee/orangesearch/internal/tracing"
)

// cleanupInterval is how often idle in-memory rate-limit buckets are swept.
const cleanupInterval = time.Minute

// Backends are the storage handles an App is built on.
// DB and Redis may be nil; Index and History are required.
type Backends struct {
	DB      *sql.DB
	Redis   redis.UniversalClient
	Index   document.Index
	History history.Repository
}

// App is a fully wired search service.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Backends Backends

	Search   *search.Service
	Recorder *history.Recorder
	Quota    *history.QuotaTracker
	Limiter  middleware.RateLimitStore
	// Tokens is nil when no JWT secret is configured.
	Tokens   *auth.JWTService
	Registry *prometheus.Registry
	Tracing  *tracing.Provider
	Handler  http.Handler

	cancel  context.CancelFunc
	closers []func() error
}

// New opens Postgres and, when configured, Redis, then assembles the App.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	pool, err := db.Open(ctx, cfg.Database())
	if err != nil {
		return nil, err
	}
	b := Backends{
		DB:      pool,
		Index:   document.NewPostgresIndex(pool, logger),
		History: history.NewPostgresRepository(pool, logger),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		b.Redis = redis.NewClient(opts)
	}

	a, err := Assemble(ctx, cfg, logger, b)
	if err != nil {
		if b.Redis != nil {
			_ = b.Redis.Close()
		}
		_ = pool.Close()
		return nil, err
	}
	if b.Redis != nil {
		a.closers = append(a.closers, b.Redis.Close)
	}
	a.closers = append(a.closers, pool.Close)
	return a, nil
}

// Assemble wires every component on top of b. It does not take ownership of
// the handles in b.
func Assemble(ctx context.Context, cfg *config.Config, logger *slog.Logger, b Backends) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if b.Index == nil || b.History == nil {
		return nil, errors.New("app: index and history repository are required")
	}
	searchCfg, err := cfg.Search()
	if err != nil {
		return nil, err
	}
	rateCfg := cfg.RateLimit()
	if err := rateCfg.Validate(); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	a := &App{Config: cfg, Logger: logger, Backends: b, cancel: cancel}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close(context.Background())
		}
	}()

	a.Tracing, err = tracing.NewProvider(ctx, cfg.Tracing(), logger)
	if err != nil {
		return nil, err
	}

	a.Registry = prometheus.NewRegistry()
	httpMetrics := middleware.NewMetrics()
	searchMetrics := search.NewMetrics()
	embedMetrics := embedding.NewMetrics()
	for _, register := range []func(prometheus.Registerer) error{
		httpMetrics.Register,
		searchMetrics.Register,
		embedMetrics.Register,
	} {
		if err := register(a.Registry); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	a.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if b.Redis != nil {
		a.Limiter = middleware.NewRedisRateLimitStore(b.Redis, rateCfg, httpMetrics, logger)
		logger.Info("rate limiter using redis")
	} else {
		mem := middleware.NewInMemoryRateLimitStore(rateCfg)
		mem.StartCleanup(ctx, cleanupInterval)
		a.Limiter = mem
		logger.Info("rate limiter using in-process buckets")
	}

	embedder, closeEmbedder, err := embedding.New(ctx, cfg.Embedding(), embedMetrics, logger)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	a.closers = append(a.closers, closeEmbedder)

	a.Quota = history.NewQuotaTracker(b.History, cfg.AnonymousSearchLimit)
	a.Recorder = history.NewRecorder(b.History, logger)

	a.Search, err = search.NewService(searchCfg, search.Dependencies{
		Index:    b.Index,
		Embedder: embedder,
		Limiter:  a.Limiter,
		Quota:    a.Quota,
		Recorder: a.Recorder,
		Metrics:  searchMetrics,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	// A nil interface, not a typed nil pointer, disables authentication.
	var validator middleware.TokenValidator
	if cfg.JWTSecret != "" {
		a.Tokens = auth.NewJWTService(cfg.JWTSecret, cfg.JWTPreviousSecret)
		validator = a.Tokens
	} else {
		logger.Warn("JWT_SECRET not set, all requests are anonymous")
	}

	checkers := map[string]api.HealthChecker{}
	if b.DB != nil {
		checkers["database"] = health.NewDBChecker(b.DB, true)
	}
	if b.Redis != nil {
		checkers["redis"] = health.NewRedisChecker(b.Redis)
	}

	a.Handler = api.NewRouter(api.RouterConfig{
		Search:         api.NewSearchHandlers(a.Search),
		History:        api.NewHistoryHandlers(a.Recorder, cfg.AnonymousSearchLimit),
		Health:         api.NewHealthHandlers(checkers),
		Gatherer:       a.Registry,
		Metrics:        httpMetrics,
		Limiter:        a.Limiter,
		KeyFunc:        middleware.IPKeyFunc(false),
		Validator:      validator,
		CORS:           cfg.CORS(),
		ServiceName:    config.DefaultTracingServiceName,
		TracingEnabled: a.Tracing.Enabled(),
		Logger:         logger,
	})

	ok = true
	return a, nil
}

// Close stops background work, flushes spans and releases resources in
// reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	var errs []error
	if err := a.Tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
