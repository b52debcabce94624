package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/onnwee/orangesearch/internal/auth"
)

// userIDKey is the context key for the authenticated user id.
type userIDKey struct{}

// SetUserID stores the authenticated user id in the context.
func SetUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserID retrieves the authenticated user id from context.
func GetUserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey{}).(int64)
	return id, ok
}

// ClientIP returns the caller address from proxy headers, checked in order:
// X-Forwarded-For (first hop), X-Vercel-Forwarded-For (first hop), X-Real-IP.
// Returns "" when none is present; callers treat that as unattributed.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := firstHop(xff); ip != "" {
			return ip
		}
	}
	if vff := r.Header.Get("X-Vercel-Forwarded-For"); vff != "" {
		if ip := firstHop(vff); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return ""
}

// ClientIPOrRemote is ClientIP with a fallback to the connection's remote host.
func ClientIPOrRemote(r *http.Request) string {
	if ip := ClientIP(r); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr might not have a port
		return r.RemoteAddr
	}
	return host
}

// firstHop returns the first entry of a comma separated forwarding chain.
func firstHop(chain string) string {
	if idx := strings.Index(chain, ","); idx != -1 {
		chain = chain[:idx]
	}
	return strings.TrimSpace(chain)
}

// TokenValidator validates a bearer token and returns its user id.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// Authenticate resolves the caller's user id from an "Authorization: Bearer"
// header or the "session" cookie. Requests without a valid token continue
// anonymously; the token is never required here.
func Authenticate(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				slog.DebugContext(r.Context(), "ignoring invalid identity token", "error", err)
				next.ServeHTTP(w, r)
				return
			}
			userID, err := claims.UserID()
			if err != nil {
				slog.WarnContext(r.Context(), "identity token has non-numeric subject", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(SetUserID(r.Context(), userID)))
		})
	}
}

// bearerToken extracts the token from the Authorization header or session cookie.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		const prefix = "Bearer "
		if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
			return strings.TrimSpace(h[len(prefix):])
		}
		return ""
	}
	if c, err := r.Cookie("session"); err == nil {
		return c.Value
	}
	return ""
}
