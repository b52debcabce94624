// Package embedding turns query text into dense vectors for semantic
// retrieval.
//
// Every failure, whatever the provider, wraps ErrUnavailable: callers treat
// it as "no vector signal" and fall back to lexical ranking.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

// ErrUnavailable is wrapped by every error an Embedder returns.
var ErrUnavailable = errors.New("embedding unavailable")

// TaskType tells the provider how the vector will be used.
type TaskType string

const (
	// TaskRetrievalQuery embeds a search query.
	TaskRetrievalQuery TaskType = "RETRIEVAL_QUERY"
	// TaskRetrievalDocument embeds indexed content.
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
)

// DefaultDimensions matches the width of the indexed document vectors.
const DefaultDimensions = 256

// Request is a single embedding request.
type Request struct {
	Text       string
	Task       TaskType
	Dimensions int
}

// Embedder produces a vector for a request.
type Embedder interface {
	Embed(ctx context.Context, req Request) ([]float32, error)
}

// Provider names accepted by New.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config selects and configures a provider.
type Config struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string // OpenAI-compatible endpoints only
	Dimensions int
	CacheSize  int
	CacheTTL   time.Duration
}

// Default models per provider.
const (
	DefaultGeminiModel = "gemini-embedding-001"
	DefaultOpenAIModel = "text-embedding-3-small"
)

// New builds the Embedder described by cfg, wrapped with metrics and, when
// CacheSize > 0, a result cache. metrics may be nil. The returned close
// function releases provider resources.
func New(ctx context.Context, cfg Config, metrics *Metrics, logger *slog.Logger) (Embedder, func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}

	var base Embedder
	closeFn := func() error { return nil }
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case ProviderGemini, "":
		provider = ProviderGemini
		if cfg.APIKey == "" {
			logger.Warn("no embedding api key configured, semantic retrieval disabled")
			return Disabled{}, closeFn, nil
		}
		model := cfg.Model
		if model == "" {
			model = DefaultGeminiModel
		}
		g, err := NewGeminiEmbedder(ctx, cfg.APIKey, model)
		if err != nil {
			return nil, nil, err
		}
		base, closeFn = g, g.Close
	case ProviderOpenAI:
		model := cfg.Model
		if model == "" {
			model = DefaultOpenAIModel
		}
		base = NewOpenAIEmbedder(cfg.APIKey, cfg.BaseURL, model)
	case ProviderNone:
		return Disabled{}, closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	var e Embedder = Instrument(base, provider, metrics)
	if cfg.CacheSize > 0 {
		e = NewCachedEmbedder(e, cfg.CacheSize, cfg.CacheTTL, metrics)
	}

	logger.Info("embedding provider configured",
		"provider", provider,
		"dimensions", cfg.Dimensions,
		"cache_size", cfg.CacheSize)
	return e, closeFn, nil
}

// Disabled always fails, so every search takes the lexical path.
type Disabled struct{}

// Embed implements Embedder.
func (Disabled) Embed(context.Context, Request) ([]float32, error) {
	return nil, fmt.Errorf("%w: no provider configured", ErrUnavailable)
}

// fitDimensions checks a provider vector and truncates it to dims.
// Leading components of these models are ordered by importance, so a prefix
// is a valid lower-dimensional embedding.
func fitDimensions(values []float32, dims int) ([]float32, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding", ErrUnavailable)
	}
	if dims > 0 {
		if len(values) < dims {
			return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrUnavailable, len(values), dims)
		}
		values = values[:dims]
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return nil, fmt.Errorf("%w: non-finite component at %d", ErrUnavailable, i)
		}
	}
	out := make([]float32, len(values))
	copy(out, values)
	return out, nil
}
