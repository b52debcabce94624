package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/onnwee/orangesearch/internal/middleware"
)

// Associator re-attributes anonymous searches to a user.
type Associator interface {
	AssociateAnonymousSearches(ctx context.Context, userID int64, ip string, limit int) (int64, error)
}

// HistoryHandlers serves POST /history/associate, called by the web app
// right after sign-in.
type HistoryHandlers struct {
	associator Associator
	limit      int
}

// NewHistoryHandlers creates history handlers. limit is the number of most
// recent anonymous searches claimed per call.
func NewHistoryHandlers(associator Associator, limit int) *HistoryHandlers {
	return &HistoryHandlers{associator: associator, limit: limit}
}

// AssociateResponse is the success body of POST /history/associate.
type AssociateResponse struct {
	Associated int64 `json:"associated"`
}

// Associate handles POST /history/associate.
func (h *HistoryHandlers) Associate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}

	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		WriteError(w, r.Context(), http.StatusUnauthorized, ErrCodeUnauthenticated, "Authentication required.")
		return
	}

	n, err := h.associator.AssociateAnonymousSearches(r.Context(), userID, middleware.ClientIP(r), h.limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "associate anonymous searches failed",
			"user_id", userID,
			"error", err)
		WriteError(w, r.Context(), http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred.")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, AssociateResponse{Associated: n})
}
