package history

import (
	"context"
	"fmt"
)

// QuotaTracker enforces the lifetime anonymous search quota per IP.
//
// Repeating a query the IP has already run anonymously never consumes quota.
// The check and the later insert are separate statements, so concurrent
// first-time queries from one IP can overshoot the limit slightly.
type QuotaTracker struct {
	repo  Repository
	limit int
}

// NewQuotaTracker creates a tracker. A non-positive limit uses DefaultAnonymousLimit.
func NewQuotaTracker(repo Repository, limit int) *QuotaTracker {
	if limit <= 0 {
		limit = DefaultAnonymousLimit
	}
	return &QuotaTracker{repo: repo, limit: limit}
}

// Limit returns the configured quota.
func (q *QuotaTracker) Limit() int {
	return q.limit
}

// CountAnonymousSearches returns the number of distinct unattributed queries for ip.
func (q *QuotaTracker) CountAnonymousSearches(ctx context.Context, ip string) (int64, error) {
	return q.repo.CountAnonymous(ctx, ip)
}

// Check reports whether running query from ip would exceed the quota.
// query must already be normalized.
func (q *QuotaTracker) Check(ctx context.Context, ip, query string) (exhausted bool, err error) {
	seen, err := q.repo.HasAnonymousQuery(ctx, ip, query)
	if err != nil {
		return false, fmt.Errorf("quota check: %w", err)
	}
	if seen {
		return false, nil
	}

	count, err := q.repo.CountAnonymous(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("quota check: %w", err)
	}
	return count >= int64(q.limit), nil
}
