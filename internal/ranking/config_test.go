package ranking

import (
	"errors"
	"math"
	"testing"
)

func TestDefaultScoringConfig(t *testing.T) {
	cfg := DefaultScoringConfig()

	if cfg.Hybrid.FTSWeight != 1.0 || cfg.Hybrid.VectorWeight != 1.0 {
		t.Errorf("unexpected hybrid rank weights: %+v", cfg.Hybrid)
	}
	if cfg.Hybrid.PagerankWeight != 0.5 {
		t.Errorf("expected hybrid pagerank weight 0.5, got %v", cfg.Hybrid.PagerankWeight)
	}
	if cfg.Hybrid.RRFK != 60 {
		t.Errorf("expected rrf_k 60, got %d", cfg.Hybrid.RRFK)
	}
	if cfg.Lexical.FTSWeight != 1.0 || cfg.Lexical.PagerankWeight != 1.0 {
		t.Errorf("unexpected lexical weights: %+v", cfg.Lexical)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestNewScoringConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		hybrid  HybridWeights
		lexical LexicalWeights
		wantErr error
	}{
		{
			name:    "valid",
			hybrid:  HybridWeights{FTSWeight: 2, VectorWeight: 0, PagerankWeight: 0, RRFK: 1},
			lexical: LexicalWeights{FTSWeight: 0, PagerankWeight: 3},
		},
		{
			name:    "negative hybrid weight",
			hybrid:  HybridWeights{FTSWeight: -1, VectorWeight: 1, PagerankWeight: 1, RRFK: 60},
			lexical: DefaultLexicalWeights(),
			wantErr: ErrInvalidWeight,
		},
		{
			name:    "NaN lexical weight",
			hybrid:  DefaultHybridWeights(),
			lexical: LexicalWeights{FTSWeight: math.NaN(), PagerankWeight: 1},
			wantErr: ErrInvalidWeight,
		},
		{
			name:    "infinite vector weight",
			hybrid:  HybridWeights{FTSWeight: 1, VectorWeight: math.Inf(1), PagerankWeight: 1, RRFK: 60},
			lexical: DefaultLexicalWeights(),
			wantErr: ErrInvalidWeight,
		},
		{
			name:    "zero rrf_k",
			hybrid:  HybridWeights{FTSWeight: 1, VectorWeight: 1, PagerankWeight: 1, RRFK: 0},
			lexical: DefaultLexicalWeights(),
			wantErr: ErrInvalidRRFK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := NewScoringConfig(tt.hybrid, tt.lexical)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if cfg.Hybrid != tt.hybrid || cfg.Lexical != tt.lexical {
					t.Errorf("config not preserved: %+v", cfg)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if cfg != (ScoringConfig{}) {
				t.Errorf("expected zero config on error, got %+v", cfg)
			}
		})
	}
}

func TestScoringConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := ScoringConfig{
		Hybrid:  HybridWeights{FTSWeight: -1, VectorWeight: -1, PagerankWeight: 0, RRFK: -5},
		Lexical: DefaultLexicalWeights(),
	}
	err := cfg.Validate()
	if !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("expected ErrInvalidWeight in %v", err)
	}
	if !errors.Is(err, ErrInvalidRRFK) {
		t.Errorf("expected ErrInvalidRRFK in %v", err)
	}
}
