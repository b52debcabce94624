//go:build integration

// Integration tests run against pgvector in a container.
// Run with: go test -tags=integration -v ./internal/db/...
package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/onnwee/orangesearch/internal/document"
	"github.com/onnwee/orangesearch/internal/history"
	"github.com/onnwee/orangesearch/internal/ranking"
)

func startPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "pgvector/pgvector:pg16",
		postgres.WithDatabase("orangesearch"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(ctr); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := Open(ctx, Config{URL: dsn})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	// Applying twice must be harmless.
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema() second run error = %v", err)
	}
	return pool
}

// unitVector returns a 256-dim vector with 1 at position i.
func unitVector(i int) []float32 {
	v := make([]float32, 256)
	v[i] = 1
	return v
}

func seedDocument(t *testing.T, pool *sql.DB, url, status, title, body string, pagerank float64, vec []float32) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(
		`INSERT INTO urls (url, status, pagerank_score) VALUES ($1, $2, $3) RETURNING id`,
		url, status, pagerank,
	).Scan(&id)
	if err != nil {
		t.Fatalf("insert url: %v", err)
	}

	var embedding any
	if vec != nil {
		embedding = document.VectorLiteral(vec)
	}
	_, err = pool.Exec(
		`INSERT INTO url_content (url_id, title, content, search_vector, embedding)
		 VALUES ($1, $2, $3, to_tsvector('english', $2 || ' ' || $3), $4::vector)`,
		id, title, body, embedding,
	)
	if err != nil {
		t.Fatalf("insert url_content: %v", err)
	}
	return id
}

func TestPostgresIndex(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	idx := document.NewPostgresIndex(pool, nil)

	golang := seedDocument(t, pool, "https://go.dev", "completed", "Go generics", "type parameters in go generics", 0.9, unitVector(0))
	rust := seedDocument(t, pool, "https://rust-lang.org", "completed", "Rust traits", "generics and traits", 0.1, unitVector(1))
	pending := seedDocument(t, pool, "https://pending.example", "pending_crawl", "Generics draft", "generics generics generics", 0.5, unitVector(2))

	lexical, err := idx.LexicalCandidates(ctx, "generics", ranking.CandidateLimit)
	if err != nil {
		t.Fatalf("LexicalCandidates() error = %v", err)
	}
	if len(lexical) != 2 {
		t.Fatalf("got %d lexical candidates, want 2 (completed only)", len(lexical))
	}
	for i, c := range lexical {
		if c.DocumentID == pending {
			t.Error("non-completed document returned lexically")
		}
		if c.Rank != i+1 {
			t.Errorf("candidate %d rank = %d", i, c.Rank)
		}
	}

	vector, err := idx.VectorCandidates(ctx, unitVector(1), ranking.CandidateLimit)
	if err != nil {
		t.Fatalf("VectorCandidates() error = %v", err)
	}
	if len(vector) != 3 {
		t.Fatalf("got %d vector candidates, want 3", len(vector))
	}
	if vector[0].DocumentID != rust {
		t.Errorf("nearest = %d, want %d", vector[0].DocumentID, rust)
	}

	ranked, err := idx.LexicalRanked(ctx, "generics", ranking.LexicalWeights{FTSWeight: 0, PagerankWeight: 1}, ranking.ResultLimit)
	if err != nil {
		t.Fatalf("LexicalRanked() error = %v", err)
	}
	if len(ranked) != 2 || ranked[0].DocumentID != golang {
		t.Errorf("authority-only ranking = %+v, want go.dev first", ranked)
	}
}

func TestPostgresIndex_OutOfRangeAuthority(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	idx := document.NewPostgresIndex(pool, nil)

	negative := seedDocument(t, pool, "https://negative.example", "completed", "Generics", "generics", -5, nil)
	seedDocument(t, pool, "https://nan.example", "completed", "Generics", "generics", math.NaN(), nil)
	seedDocument(t, pool, "https://zero.example", "completed", "Generics", "generics", 0, nil)
	top := seedDocument(t, pool, "https://top.example", "completed", "Generics", "generics", 0.2, nil)

	ranked, err := idx.LexicalRanked(ctx, "generics", ranking.LexicalWeights{PagerankWeight: 1}, 2)
	if err != nil {
		t.Fatalf("LexicalRanked() error = %v", err)
	}
	if len(ranked) != 2 || ranked[0].DocumentID != top || ranked[1].DocumentID != negative {
		t.Fatalf("ranked = %+v, want top then the lowest id among zero authorities", ranked)
	}

	all, err := idx.LexicalCandidates(ctx, "generics", ranking.CandidateLimit)
	if err != nil {
		t.Fatalf("LexicalCandidates() error = %v", err)
	}
	for _, c := range all {
		if c.Authority < 0 || math.IsNaN(c.Authority) || math.IsInf(c.Authority, 0) {
			t.Errorf("%s: authority %v not mapped to 0", c.URL, c.Authority)
		}
	}
}

func TestPostgresHistory(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	repo := history.NewPostgresRepository(pool, nil)
	quota := history.NewQuotaTracker(repo, 5)
	recorder := history.NewRecorder(repo, nil)
	const ip = "203.0.113.77"

	for i := 0; i < 5; i++ {
		q := fmt.Sprintf("query %d", i)
		exhausted, err := quota.Check(ctx, ip, q)
		if err != nil || exhausted {
			t.Fatalf("Check(%q) = %v, %v", q, exhausted, err)
		}
		if err := recorder.Record(ctx, nil, ip, q); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if exhausted, _ := quota.Check(ctx, ip, "query 5"); !exhausted {
		t.Error("6th distinct query should be blocked")
	}
	if exhausted, _ := quota.Check(ctx, ip, "query 1"); exhausted {
		t.Error("repeat query should be free")
	}
	if err := recorder.Record(ctx, nil, ip, "query 1"); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if count, err := quota.CountAnonymousSearches(ctx, ip); err != nil || count != 5 {
		t.Errorf("CountAnonymousSearches() after repeat = %d, %v, want 5", count, err)
	}

	n, err := recorder.AssociateAnonymousSearches(ctx, 42, ip, 3)
	if err != nil {
		t.Fatalf("AssociateAnonymousSearches() error = %v", err)
	}
	if n != 3 {
		t.Errorf("associated %d, want 3", n)
	}
	left, err := quota.CountAnonymousSearches(ctx, ip)
	if err != nil {
		t.Fatal(err)
	}
	// The three newest rows were claimed, leaving queries 0, 1 and 2.
	if left != 3 {
		t.Errorf("distinct anonymous queries left = %d, want 3", left)
	}
}
