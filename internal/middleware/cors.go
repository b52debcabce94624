package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	// AllowedOrigins are exact origins such as https://orangesearch.example.
	// Wildcards are not supported. Empty disables CORS handling.
	AllowedOrigins []string
	// MaxAge is how long a preflight response may be cached.
	MaxAge time.Duration
}

const (
	corsAllowMethods = "GET, HEAD, POST, OPTIONS"
	corsAllowHeaders = "Authorization, Content-Type, " + RequestIDHeader
	// corsExposeHeaders lets the front end read the backoff and request id.
	corsExposeHeaders = "Retry-After, " + RequestIDHeader
)

// CORS answers preflight requests and sets credentialed CORS headers for
// allowed origins. Requests without an Origin header pass through untouched;
// a disallowed origin gets 403.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = struct{}{}
		}
	}
	maxAge := strconv.Itoa(int(cfg.MaxAge / time.Second))

	return func(next http.Handler) http.Handler {
		if len(allowed) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if _, ok := allowed[origin]; !ok {
				h.Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "Origin not allowed",
					"code":  "ORIGIN_NOT_ALLOWED",
				})
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
			next.ServeHTTP(w, r)
		})
	}
}
