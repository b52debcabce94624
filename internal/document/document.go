// Package document reads ranking candidates from the crawled document index.
//
// The index is owned by the crawler: urls holds one row per page with its
// crawl status and authority (PageRank) score, url_content holds the
// extracted text, tsvector and embedding. This package only reads it.
package document

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/onnwee/orangesearch/internal/ranking"
	"github.com/onnwee/orangesearch/internal/tracing"
)

// Status is the crawl state of a URL.
type Status string

// Crawl states. Only StatusCompleted documents are lexically searchable.
const (
	StatusPendingClassification Status = "pending_classification"
	StatusPendingCrawl          Status = "pending_crawl"
	StatusClassifying           Status = "classifying"
	StatusCrawling              Status = "crawling"
	StatusCompleted             Status = "completed"
	StatusFailed                Status = "failed"
	StatusIrrelevant            Status = "irrelevant"
)

// Valid reports whether s is a known crawl state.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingClassification, StatusPendingCrawl, StatusClassifying,
		StatusCrawling, StatusCompleted, StatusFailed, StatusIrrelevant:
		return true
	}
	return false
}

// Candidate is a retrieved document with its per-list rank.
type Candidate = ranking.Candidate

// Index retrieves ranking candidates.
type Index interface {
	// LexicalCandidates returns completed documents matching query, ordered by
	// full-text relevance. Rank is the 1-based position.
	LexicalCandidates(ctx context.Context, query string, limit int) ([]Candidate, error)

	// VectorCandidates returns documents with an embedding, nearest first by
	// cosine distance. Rank is the 1-based position.
	VectorCandidates(ctx context.Context, vec []float32, limit int) ([]Candidate, error)

	// LexicalRanked returns completed documents matching query, ordered by
	// the additive lexical score under w.
	LexicalRanked(ctx context.Context, query string, w ranking.LexicalWeights, limit int) ([]Candidate, error)
}

// PostgresIndex implements Index with Postgres full-text search and pgvector.
type PostgresIndex struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresIndex creates a new PostgresIndex.
func NewPostgresIndex(db *sql.DB, logger *slog.Logger) *PostgresIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresIndex{db: db, logger: logger}
}

// authoritySQL reads pagerank_score the way ranking scores it: null, negative,
// infinite and NaN values become 0. Postgres orders NaN above Infinity, so the
// upper bound excludes both.
const authoritySQL = `CASE WHEN u.pagerank_score >= 0 AND u.pagerank_score < 'Infinity' THEN u.pagerank_score ELSE 0 END`

const lexicalCandidatesSQL = `
SELECT u.id, u.url, uc.title, uc.description,
       ` + authoritySQL + `,
       ts_rank_cd(uc.search_vector, q) AS relevance
FROM urls u
JOIN url_content uc ON uc.url_id = u.id
CROSS JOIN websearch_to_tsquery('english', $1) AS q
WHERE u.status = 'completed'
  AND uc.search_vector @@ q
ORDER BY relevance DESC, u.id ASC
LIMIT $2`

const vectorCandidatesSQL = `
SELECT u.id, u.url, uc.title, uc.description,
       ` + authoritySQL + `,
       0::float8
FROM url_content uc
JOIN urls u ON u.id = uc.url_id
WHERE uc.embedding IS NOT NULL
ORDER BY uc.embedding <=> $1::vector ASC, u.id ASC
LIMIT $2`

const lexicalRankedSQL = `
SELECT u.id, u.url, uc.title, uc.description,
       ` + authoritySQL + `,
       ts_rank_cd(uc.search_vector, q) AS relevance
FROM urls u
JOIN url_content uc ON uc.url_id = u.id
CROSS JOIN websearch_to_tsquery('english', $1) AS q
WHERE u.status = 'completed'
  AND uc.search_vector @@ q
ORDER BY ($2 * ts_rank_cd(uc.search_vector, q)) + ($3 * ` + authoritySQL + `) DESC, u.id ASC
LIMIT $4`

// LexicalCandidates implements Index.
func (x *PostgresIndex) LexicalCandidates(ctx context.Context, query string, limit int) (out []Candidate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "url_content", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := x.db.QueryContext(ctx, lexicalCandidatesSQL, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical candidates: %w", err)
	}
	return scanCandidates(rows)
}

// VectorCandidates implements Index.
func (x *PostgresIndex) VectorCandidates(ctx context.Context, vec []float32, limit int) (out []Candidate, err error) {
	if len(vec) == 0 {
		return nil, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "url_content", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := x.db.QueryContext(ctx, vectorCandidatesSQL, VectorLiteral(vec), limit)
	if err != nil {
		return nil, fmt.Errorf("vector candidates: %w", err)
	}
	return scanCandidates(rows)
}

// LexicalRanked implements Index.
func (x *PostgresIndex) LexicalRanked(ctx context.Context, query string, w ranking.LexicalWeights, limit int) (out []Candidate, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "url_content", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := x.db.QueryContext(ctx, lexicalRankedSQL, query, w.FTSWeight, w.PagerankWeight, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical ranked: %w", err)
	}
	return scanCandidates(rows)
}

func scanCandidates(rows *sql.Rows) ([]Candidate, error) {
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var (
			c           Candidate
			title, desc sql.NullString
		)
		if err := rows.Scan(&c.DocumentID, &c.URL, &title, &desc, &c.Authority, &c.Relevance); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if title.Valid {
			c.Title = &title.String
		}
		if desc.Valid {
			c.Description = &desc.String
		}
		c.Rank = len(out) + 1
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidates: %w", err)
	}
	return out, nil
}

// VectorLiteral formats vec in pgvector's text input form, e.g. "[0.1,0.2]".
func VectorLiteral(vec []float32) string {
	var b strings.Builder
	b.Grow(len(vec) * 10)
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
