// Package health provides health check implementations for external dependencies.
package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrVectorExtensionMissing is returned when pgvector is not installed.
var ErrVectorExtensionMissing = errors.New("pgvector extension is not installed")

// DBChecker checks the Postgres connection and the pgvector extension.
type DBChecker struct {
	db          *sql.DB
	checkVector bool
}

// NewDBChecker creates a database health checker. With checkVector the
// check also requires the vector extension, without which fused retrieval
// cannot run.
func NewDBChecker(db *sql.DB, checkVector bool) *DBChecker {
	return &DBChecker{db: db, checkVector: checkVector}
}

// HealthCheck pings the database and optionally verifies pgvector.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	if !d.checkVector {
		return nil
	}

	var installed bool
	err := d.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')`,
	).Scan(&installed)
	if err != nil {
		return fmt.Errorf("query pg_extension: %w", err)
	}
	if !installed {
		return ErrVectorExtensionMissing
	}
	return nil
}
