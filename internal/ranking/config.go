package ranking

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// Fixed retrieval policy. These are not configurable.
const (
	// CandidateLimit is the number of candidates pulled from each ranked list.
	CandidateLimit = 100
	// ResultLimit is the number of results returned to the caller.
	ResultLimit = 20
)

// Configuration validation errors.
var (
	ErrInvalidWeight = errors.New("weight must be a finite, non-negative number")
	ErrInvalidRRFK   = errors.New("rrf_k must be a positive integer")
)

// HybridWeights are used when a query vector is available.
type HybridWeights struct {
	FTSWeight      float64 `koanf:"fts_weight"`      // Weight of the lexical RRF term (default: 1.0)
	VectorWeight   float64 `koanf:"vector_weight"`   // Weight of the vector RRF term (default: 1.0)
	PagerankWeight float64 `koanf:"pagerank_weight"` // Multiplicative authority modulation (default: 0.5)
	RRFK           int     `koanf:"rrf_k"`           // Rank smoothing constant (default: 60)
}

// LexicalWeights are used by the lexical-only fallback.
type LexicalWeights struct {
	FTSWeight      float64 `koanf:"fts_weight"`      // Weight of ts_rank_cd relevance (default: 1.0)
	PagerankWeight float64 `koanf:"pagerank_weight"` // Additive authority weight (default: 1.0)
}

// ScoringConfig is the process-wide weighting configuration. It is built once
// at startup by NewScoringConfig and passed around by value.
type ScoringConfig struct {
	Hybrid  HybridWeights
	Lexical LexicalWeights
}

// DefaultHybridWeights returns the default fused-path weights.
func DefaultHybridWeights() HybridWeights {
	return HybridWeights{
		FTSWeight:      1.0,
		VectorWeight:   1.0,
		PagerankWeight: 0.5,
		RRFK:           60,
	}
}

// DefaultLexicalWeights returns the default fallback weights.
func DefaultLexicalWeights() LexicalWeights {
	return LexicalWeights{
		FTSWeight:      1.0,
		PagerankWeight: 1.0,
	}
}

// DefaultScoringConfig returns the default scoring configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Hybrid:  DefaultHybridWeights(),
		Lexical: DefaultLexicalWeights(),
	}
}

// NewScoringConfig validates both weight sets and returns an immutable config.
func NewScoringConfig(hybrid HybridWeights, lexical LexicalWeights) (ScoringConfig, error) {
	cfg := ScoringConfig{Hybrid: hybrid, Lexical: lexical}
	if err := cfg.Validate(); err != nil {
		return ScoringConfig{}, err
	}
	return cfg, nil
}

// Validate checks every weight and the RRF constant.
func (c ScoringConfig) Validate() error {
	weights := []struct {
		name  string
		value float64
	}{
		{"hybrid.fts_weight", c.Hybrid.FTSWeight},
		{"hybrid.vector_weight", c.Hybrid.VectorWeight},
		{"hybrid.pagerank_weight", c.Hybrid.PagerankWeight},
		{"fts.fts_weight", c.Lexical.FTSWeight},
		{"fts.pagerank_weight", c.Lexical.PagerankWeight},
	}
	var errs []error
	for _, w := range weights {
		if math.IsNaN(w.value) || math.IsInf(w.value, 0) || w.value < 0 {
			errs = append(errs, fmt.Errorf("%s=%v: %w", w.name, w.value, ErrInvalidWeight))
		}
	}
	if c.Hybrid.RRFK <= 0 {
		errs = append(errs, fmt.Errorf("hybrid.rrf_k=%d: %w", c.Hybrid.RRFK, ErrInvalidRRFK))
	}
	return errors.Join(errs...)
}

// LogValue implements slog.LogValuer.
func (c ScoringConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Group("hybrid",
			slog.Float64("fts_weight", c.Hybrid.FTSWeight),
			slog.Float64("vector_weight", c.Hybrid.VectorWeight),
			slog.Float64("pagerank_weight", c.Hybrid.PagerankWeight),
			slog.Int("rrf_k", c.Hybrid.RRFK),
		),
		slog.Group("fts",
			slog.Float64("fts_weight", c.Lexical.FTSWeight),
			slog.Float64("pagerank_weight", c.Lexical.PagerankWeight),
		),
	)
}
