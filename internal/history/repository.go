// Package history records search queries and enforces the anonymous search
// quota.
//
// The search log is append-only. A row is attributed to a user, to an IP
// address, or to both; rows with a null user are "anonymous" and count
// against the per-IP quota until a user claims them.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/onnwee/orangesearch/internal/tracing"
)

// DefaultAnonymousLimit is the lifetime number of distinct anonymous queries
// allowed per IP address.
const DefaultAnonymousLimit = 5

// ErrInvalidEntry is returned when an entry carries neither a user nor an IP.
var ErrInvalidEntry = errors.New("history entry needs a user id or an ip address")

// Entry is one row of the search log.
type Entry struct {
	ID        int64
	UserID    *int64
	IPAddress *string
	Query     string
	CreatedAt time.Time
}

// Repository stores search log entries.
type Repository interface {
	// Insert appends an entry. At least one of userID or ip must be set.
	Insert(ctx context.Context, userID *int64, ip *string, query string) error

	// CountAnonymous counts the distinct queries ip has run with no user attached.
	CountAnonymous(ctx context.Context, ip string) (int64, error)

	// HasAnonymousQuery reports whether an unattributed row for (ip, query) exists.
	HasAnonymousQuery(ctx context.Context, ip, query string) (bool, error)

	// AssociateAnonymous attaches userID to the most recent limit anonymous
	// rows for ip and returns the number of rows updated.
	AssociateAnonymous(ctx context.Context, userID int64, ip string, limit int) (int64, error)
}

// PostgresRepository implements Repository on the search_history table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a new PostgresRepository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Insert implements Repository.
func (r *PostgresRepository) Insert(ctx context.Context, userID *int64, ip *string, query string) (err error) {
	if userID == nil && ip == nil {
		return ErrInvalidEntry
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "search_history", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO search_history (user_id, ip_address, query) VALUES ($1, $2, $3)`,
		nullInt64(userID), nullString(ip), query,
	)
	if err != nil {
		return fmt.Errorf("insert search history: %w", err)
	}
	return nil
}

// CountAnonymous implements Repository.
func (r *PostgresRepository) CountAnonymous(ctx context.Context, ip string) (count int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "search_history", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT query) FROM search_history WHERE ip_address = $1 AND user_id IS NULL`,
		ip,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count anonymous searches: %w", err)
	}
	return count, nil
}

// HasAnonymousQuery implements Repository.
func (r *PostgresRepository) HasAnonymousQuery(ctx context.Context, ip, query string) (found bool, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "search_history", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var one int
	err = r.db.QueryRowContext(ctx,
		`SELECT 1 FROM search_history
		 WHERE ip_address = $1 AND query = $2 AND user_id IS NULL
		 LIMIT 1`,
		ip, query,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup anonymous query: %w", err)
	}
	return true, nil
}

// AssociateAnonymous implements Repository.
func (r *PostgresRepository) AssociateAnonymous(ctx context.Context, userID int64, ip string, limit int) (n int64, err error) {
	if limit <= 0 {
		return 0, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "search_history", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `
		WITH searches_to_update AS (
			SELECT id
			FROM search_history
			WHERE ip_address = $2 AND user_id IS NULL
			ORDER BY created_at DESC, id DESC
			LIMIT $3
		)
		UPDATE search_history
		SET user_id = $1
		WHERE id IN (SELECT id FROM searches_to_update) AND user_id IS NULL`,
		userID, ip, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("associate anonymous searches: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("associate anonymous searches: %w", err)
	}

	r.logger.DebugContext(ctx, "associated anonymous searches",
		slog.Int64("user_id", userID),
		slog.Int64("rows", n))
	return n, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// InMemoryRepository is a thread-safe Repository for tests and database-less runs.
type InMemoryRepository struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
	now     func() time.Time
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{now: time.Now, nextID: 1}
}

// Insert implements Repository.
func (r *InMemoryRepository) Insert(_ context.Context, userID *int64, ip *string, query string) error {
	if userID == nil && ip == nil {
		return ErrInvalidEntry
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	e := Entry{ID: r.nextID, Query: query, CreatedAt: r.now()}
	if userID != nil {
		id := *userID
		e.UserID = &id
	}
	if ip != nil {
		addr := *ip
		e.IPAddress = &addr
	}
	r.entries = append(r.entries, e)
	r.nextID++
	return nil
}

// CountAnonymous implements Repository.
func (r *InMemoryRepository) CountAnonymous(_ context.Context, ip string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, e := range r.entries {
		if e.anonymousFrom(ip) {
			seen[e.Query] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// HasAnonymousQuery implements Repository.
func (r *InMemoryRepository) HasAnonymousQuery(_ context.Context, ip, query string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.anonymousFrom(ip) && e.Query == query {
			return true, nil
		}
	}
	return false, nil
}

// AssociateAnonymous implements Repository.
func (r *InMemoryRepository) AssociateAnonymous(_ context.Context, userID int64, ip string, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var idx []int
	for i, e := range r.entries {
		if e.anonymousFrom(ip) {
			idx = append(idx, i)
		}
	}
	// Most recent first, matching the SQL ordering.
	sort.Slice(idx, func(a, b int) bool {
		ea, eb := r.entries[idx[a]], r.entries[idx[b]]
		if !ea.CreatedAt.Equal(eb.CreatedAt) {
			return ea.CreatedAt.After(eb.CreatedAt)
		}
		return ea.ID > eb.ID
	})
	if len(idx) > limit {
		idx = idx[:limit]
	}
	for _, i := range idx {
		id := userID
		r.entries[i].UserID = &id
	}
	return int64(len(idx)), nil
}

// Entries returns a copy of all stored entries in insertion order.
func (r *InMemoryRepository) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (e Entry) anonymousFrom(ip string) bool {
	return e.UserID == nil && e.IPAddress != nil && *e.IPAddress == ip
}
