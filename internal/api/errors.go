// Package api provides the HTTP handlers for the search service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/onnwee/orangesearch/internal/middleware"
	"github.com/onnwee/orangesearch/internal/search"
)

// Error codes produced by the HTTP layer itself. Search failures use the
// codes defined by package search.
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = string(search.CodeInternal)
)

// ErrorResponse is the JSON body of every error: {"error": "...", "code": "..."}.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError writes a JSON error response and records code for the logging
// middleware.
func WriteError(w http.ResponseWriter, ctx context.Context, status int, code, message string) {
	ctx = middleware.SetErrorCode(ctx, code)
	middleware.UpdateResponseContext(w, ctx)

	data, err := json.Marshal(ErrorResponse{Error: message, Code: code})
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal error response", "error", err)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Internal server error"))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		slog.ErrorContext(ctx, "failed to write error response", "error", err)
	}
}

// WriteSearchError maps a search failure to its HTTP status and body.
// Rate-limited responses carry a Retry-After header.
func WriteSearchError(w http.ResponseWriter, ctx context.Context, err error) {
	var serr *search.Error
	if !errors.As(err, &serr) {
		slog.ErrorContext(ctx, "unexpected search error", "error", err)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "An internal error occurred.")
		return
	}
	if serr.Code == search.CodeRateLimitExceeded && serr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(serr.RetryAfter))
	}
	WriteError(w, ctx, StatusFor(serr.Code), string(serr.Code), serr.Message)
}

// StatusFor returns the HTTP status for a search error code.
func StatusFor(code search.Code) int {
	switch code {
	case search.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case search.CodeMissingQuery, search.CodeInvalidQuery:
		return http.StatusBadRequest
	case search.CodeSearchLimitExceeded:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON writes v with status.
func writeJSON(w http.ResponseWriter, ctx context.Context, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.ErrorContext(ctx, "failed to encode response", "error", err)
	}
}

// methodNotAllowed writes a 405 with the Allow header.
func methodNotAllowed(w http.ResponseWriter, r *http.Request, allow string) {
	w.Header().Set("Allow", allow)
	WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeMethodNotAllowed, "Method not allowed")
}
