package history

import (
	"context"
	"log/slog"
)

// Recorder appends queries to the search log and re-attributes anonymous
// history once a visitor signs in.
type Recorder struct {
	repo   Repository
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(repo Repository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record appends query under the given user and/or IP. With neither, nothing
// is written and a warning is logged; that is not an error.
func (r *Recorder) Record(ctx context.Context, userID *int64, ip string, query string) error {
	var addr *string
	if ip != "" {
		addr = &ip
	}
	if userID == nil && addr == nil {
		r.logger.WarnContext(ctx, "cannot record search without user id or ip address")
		return nil
	}
	return r.repo.Insert(ctx, userID, addr, query)
}

// AssociateAnonymousSearches attaches userID to the most recent limit
// anonymous searches from ip. Rows already owned by a user are never touched.
func (r *Recorder) AssociateAnonymousSearches(ctx context.Context, userID int64, ip string, limit int) (int64, error) {
	if ip == "" {
		return 0, nil
	}
	return r.repo.AssociateAnonymous(ctx, userID, ip, limit)
}
