// Package search executes a query end to end: admission (rate limit and
// anonymous quota), history recording, retrieval and ranking.
//
// A search takes one of two paths. The fused path embeds the query, fetches
// lexical and vector candidates concurrently and merges them with weighted
// reciprocal rank fusion. If the embedding fails for any reason the search
// degrades once to the lexical-only path; there are no other retries.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/orangesearch/internal/document"
	"github.com/onnwee/orangesearch/internal/embedding"
	"github.com/onnwee/orangesearch/internal/ranking"
	"github.com/onnwee/orangesearch/internal/tracing"
	"github.com/onnwee/orangesearch/internal/validate"
)

// searchCost is the rate-limit cost of one search.
const searchCost = 1

// DefaultEmbeddingTimeout bounds the embedding call when none is configured.
const DefaultEmbeddingTimeout = 3 * time.Second

// Path identifies how results were produced.
type Path string

const (
	// PathFused merged lexical and vector candidates.
	PathFused Path = "fused"
	// PathFallback ranked lexical matches only, after an embedding failure.
	PathFallback Path = "fallback"
)

// Identity is who is searching. Either field may be empty.
type Identity struct {
	UserID *int64
	IP     string
}

// Anonymous reports whether no user is signed in.
func (id Identity) Anonymous() bool {
	return id.UserID == nil
}

// Outcome is a successful search.
type Outcome struct {
	// Query is the normalized query that was executed.
	Query   string
	Results []ranking.Scored
	Path    Path
	// DegradedBy is the embedding error that forced PathFallback.
	DegradedBy error
}

// RateLimiter admits or rejects a request for key.
type RateLimiter interface {
	Consume(ctx context.Context, key string, cost int) (allowed bool, retryAfter int)
}

// QuotaChecker decides whether an anonymous IP may run a query.
type QuotaChecker interface {
	Check(ctx context.Context, ip, query string) (exhausted bool, err error)
}

// HistoryRecorder appends a query to the search log.
type HistoryRecorder interface {
	Record(ctx context.Context, userID *int64, ip string, query string) error
}

// Config holds tuning for the Service.
type Config struct {
	Scoring             ranking.ScoringConfig
	EmbeddingTimeout    time.Duration
	EmbeddingDimensions int
}

// Dependencies are the collaborators of a Service.
// Limiter and Metrics may be nil.
type Dependencies struct {
	Index    document.Index
	Embedder embedding.Embedder
	Limiter  RateLimiter
	Quota    QuotaChecker
	Recorder HistoryRecorder
	Metrics  *Metrics
	Logger   *slog.Logger
}

// Service executes searches. It is safe for concurrent use.
type Service struct {
	cfg      Config
	index    document.Index
	embedder embedding.Embedder
	limiter  RateLimiter
	quota    QuotaChecker
	recorder HistoryRecorder
	metrics  *Metrics
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(cfg Config, deps Dependencies) (*Service, error) {
	switch {
	case deps.Index == nil:
		return nil, errors.New("search: index is required")
	case deps.Embedder == nil:
		return nil, errors.New("search: embedder is required")
	case deps.Quota == nil:
		return nil, errors.New("search: quota checker is required")
	case deps.Recorder == nil:
		return nil, errors.New("search: history recorder is required")
	}
	if err := cfg.Scoring.Validate(); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if cfg.EmbeddingTimeout <= 0 {
		cfg.EmbeddingTimeout = DefaultEmbeddingTimeout
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = embedding.DefaultDimensions
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		cfg:      cfg,
		index:    deps.Index,
		embedder: deps.Embedder,
		limiter:  deps.Limiter,
		quota:    deps.Quota,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		logger:   logger,
	}, nil
}

// ExecuteSearch runs rawQuery for id. Every error is a *Error.
//
// Validation happens before anything else, so a missing or invalid query
// consumes no rate-limit tokens and writes no history. An anonymous caller
// over quota gets CodeSearchLimitExceeded and nothing is logged.
func (s *Service) ExecuteSearch(ctx context.Context, rawQuery string, id Identity) (out *Outcome, err error) {
	start := time.Now()
	ctx, endSpan := tracing.StartSpan(ctx, "search.execute")
	defer func() {
		code, path := "OK", Path("")
		if out != nil {
			path = out.Path
		}
		var serr *Error
		if errors.As(err, &serr) {
			code = string(serr.Code)
		}
		s.metrics.observe(code, path, time.Since(start))
		tracing.SetAttributes(ctx,
			attribute.String("search.code", code),
			attribute.String("search.path", string(path)))
		endSpan(err)
	}()

	query, verr := validate.Query(rawQuery)
	if verr != nil {
		return nil, queryError(verr)
	}

	if s.limiter != nil {
		if allowed, retryAfter := s.limiter.Consume(ctx, id.IP, searchCost); !allowed {
			return nil, &Error{Code: CodeRateLimitExceeded, Message: msgRateLimited, RetryAfter: retryAfter}
		}
	}

	if id.Anonymous() && id.IP != "" {
		exhausted, qerr := s.quota.Check(ctx, id.IP, query)
		if qerr != nil {
			return nil, s.internal(ctx, "quota check failed", qerr)
		}
		if exhausted {
			return nil, &Error{Code: CodeSearchLimitExceeded, Message: msgSearchLimit}
		}
	}

	if id.UserID != nil || id.IP != "" {
		if rerr := s.recorder.Record(ctx, id.UserID, id.IP, query); rerr != nil {
			return nil, s.internal(ctx, "record search failed", rerr)
		}
	}

	vec, eerr := s.embed(ctx, query)
	if eerr == nil {
		results, ferr := s.fused(ctx, query, vec)
		if ferr != nil {
			return nil, s.internal(ctx, "fused retrieval failed", ferr)
		}
		return &Outcome{Query: query, Results: results, Path: PathFused}, nil
	}

	s.metrics.incFallback()
	s.logger.WarnContext(ctx, "embedding failed, falling back to lexical ranking",
		slog.String("query", query),
		slog.String("error", eerr.Error()))

	results, lerr := s.lexicalOnly(ctx, query)
	if lerr != nil {
		return nil, s.internal(ctx, "lexical retrieval failed", lerr)
	}
	return &Outcome{Query: query, Results: results, Path: PathFallback, DegradedBy: eerr}, nil
}

func (s *Service) embed(ctx context.Context, query string) (vec []float32, err error) {
	ctx, endSpan := tracing.StartSpan(ctx, "search.embed")
	defer func() { endSpan(err) }()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.EmbeddingTimeout)
	defer cancel()

	return s.embedder.Embed(ctx, embedding.Request{
		Text:       query,
		Task:       embedding.TaskRetrievalQuery,
		Dimensions: s.cfg.EmbeddingDimensions,
	})
}

func (s *Service) fused(ctx context.Context, query string, vec []float32) ([]ranking.Scored, error) {
	var lexical, vector []ranking.Candidate

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lexical, err = s.index.LexicalCandidates(gctx, query, ranking.CandidateLimit)
		return err
	})
	g.Go(func() error {
		var err error
		vector, err = s.index.VectorCandidates(gctx, vec, ranking.CandidateLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return ranking.Fuse(s.cfg.Scoring.Hybrid, lexical, vector, ranking.ResultLimit), nil
}

func (s *Service) lexicalOnly(ctx context.Context, query string) ([]ranking.Scored, error) {
	candidates, err := s.index.LexicalRanked(ctx, query, s.cfg.Scoring.Lexical, ranking.ResultLimit)
	if err != nil {
		return nil, err
	}
	return ranking.RankLexicalOnly(s.cfg.Scoring.Lexical, candidates, ranking.ResultLimit), nil
}

func (s *Service) internal(ctx context.Context, msg string, err error) *Error {
	s.logger.ErrorContext(ctx, msg, slog.String("error", err.Error()))
	return internalError(err)
}

func queryError(err error) *Error {
	switch {
	case errors.Is(err, validate.ErrEmpty):
		return &Error{Code: CodeMissingQuery, Message: msgMissingQuery}
	case errors.Is(err, validate.ErrStringTooLong):
		return &Error{Code: CodeInvalidQuery, Message: msgQueryTooLong, Err: err}
	default:
		return &Error{Code: CodeInvalidQuery, Message: msgInvalidQuery, Err: err}
	}
}
