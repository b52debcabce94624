// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Request costs. A read costs less than a mutating request.
const (
	CostRead  = 1
	CostWrite = 3
)

// RateLimitConfig defines the token bucket configuration.
// Valid values:
//   - Capacity: must be > 0
//   - RefillRate: must be > 0
//   - IdleTTL: must be >= 0
type RateLimitConfig struct {
	// Capacity is the maximum number of tokens a bucket can hold.
	// New buckets start full.
	Capacity float64
	// RefillRate is the number of tokens added per second.
	RefillRate float64
	// IdleTTL is how long a bucket must go unused before it may be evicted.
	// A bucket is only evicted once it would have refilled to capacity.
	IdleTTL time.Duration
}

// Validate checks that the RateLimitConfig has valid values.
func (c RateLimitConfig) Validate() error {
	if !(c.Capacity > 0) || math.IsInf(c.Capacity, 0) {
		return fmt.Errorf("Capacity must be > 0 (got %v)", c.Capacity)
	}
	if !(c.RefillRate > 0) || math.IsInf(c.RefillRate, 0) {
		return fmt.Errorf("RefillRate must be > 0 (got %v)", c.RefillRate)
	}
	if c.IdleTTL < 0 {
		return fmt.Errorf("IdleTTL must be >= 0 (got %s)", c.IdleTTL)
	}
	return nil
}

// fullRefill returns how long an empty bucket takes to refill completely.
func (c RateLimitConfig) fullRefill() time.Duration {
	return time.Duration(c.Capacity / c.RefillRate * float64(time.Second))
}

// defaultRateLimit is 100 tokens refilled at 1 token per second.
var defaultRateLimit = RateLimitConfig{
	Capacity:   100,
	RefillRate: 1,
	IdleTTL:    10 * time.Minute,
}

// DefaultRateLimit returns a copy of the default token bucket config.
func DefaultRateLimit() RateLimitConfig {
	return defaultRateLimit
}

// RateLimitStore defines the interface for rate limit state storage.
// This allows for different backends (in-memory, Redis).
type RateLimitStore interface {
	// Consume refills the bucket for key and deducts cost tokens if at least
	// cost tokens are available. A denied call deducts nothing.
	// An empty key is always allowed.
	// The second return value is the number of seconds until enough tokens
	// would be available (0 when allowed).
	Consume(ctx context.Context, key string, cost int) (allowed bool, retryAfter int)
}

// tokenBucket is the state for a single key.
type tokenBucket struct {
	mu      sync.Mutex
	tokens  float64
	last    time.Time
	evicted bool
}

// refill adds tokens for the time elapsed since the last access.
// A clock that moves backwards adds nothing.
func (b *tokenBucket) refill(now time.Time, config RateLimitConfig) {
	if !now.After(b.last) {
		return
	}
	elapsed := now.Sub(b.last).Seconds()
	b.tokens = math.Min(config.Capacity, b.tokens+elapsed*config.RefillRate)
	b.last = now
}

// InMemoryRateLimitStore implements RateLimitStore with one token bucket per key.
// The map lock is only held to find or create a bucket; each bucket has its own
// lock so callers with different keys never wait on each other's refill.
type InMemoryRateLimitStore struct {
	config  RateLimitConfig
	now     func() time.Time
	mu      sync.RWMutex
	buckets map[string]*tokenBucket
}

// InMemoryOption configures an InMemoryRateLimitStore.
type InMemoryOption func(*InMemoryRateLimitStore)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) InMemoryOption {
	return func(s *InMemoryRateLimitStore) {
		s.now = now
	}
}

// NewInMemoryRateLimitStore creates a new in-memory token bucket store.
func NewInMemoryRateLimitStore(config RateLimitConfig, opts ...InMemoryOption) *InMemoryRateLimitStore {
	s := &InMemoryRateLimitStore{
		config:  config,
		now:     time.Now,
		buckets: make(map[string]*tokenBucket),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consume implements the RateLimitStore interface.
func (s *InMemoryRateLimitStore) Consume(_ context.Context, key string, cost int) (bool, int) {
	if key == "" {
		return true, 0
	}
	if cost <= 0 {
		cost = 1
	}

	for {
		b := s.bucket(key)
		b.mu.Lock()
		if b.evicted {
			// Lost a race with Cleanup; look the key up again.
			b.mu.Unlock()
			continue
		}

		b.refill(s.now(), s.config)
		if b.tokens >= float64(cost) {
			b.tokens -= float64(cost)
			b.mu.Unlock()
			return true, 0
		}
		deficit := float64(cost) - b.tokens
		b.mu.Unlock()
		return false, retryAfterSeconds(deficit, s.config.RefillRate)
	}
}

// Tokens reports the current token count for key after refill, without
// consuming anything. Unknown keys report a full bucket.
func (s *InMemoryRateLimitStore) Tokens(key string) float64 {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if !ok {
		return s.config.Capacity
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill(s.now(), s.config)
	return b.tokens
}

// Len returns the number of live buckets.
func (s *InMemoryRateLimitStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}

// bucket returns the bucket for key, creating a full one on first use.
func (s *InMemoryRateLimitStore) bucket(key string) *tokenBucket {
	s.mu.RLock()
	b, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.buckets[key]; ok {
		return b
	}
	b = &tokenBucket{
		tokens: s.config.Capacity,
		last:   s.now(),
	}
	s.buckets[key] = b
	return b
}

// Cleanup removes buckets that have been idle for at least IdleTTL and would
// have refilled to capacity by now. Such a bucket is indistinguishable from a
// freshly created one, so eviction never changes an admission decision.
// Returns the number of buckets removed.
func (s *InMemoryRateLimitStore) Cleanup() int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, b := range s.buckets {
		b.mu.Lock()
		idle := now.Sub(b.last)
		full := b.tokens+idle.Seconds()*s.config.RefillRate >= s.config.Capacity
		if idle >= s.config.IdleTTL && full {
			b.evicted = true
			delete(s.buckets, key)
			removed++
		}
		b.mu.Unlock()
	}
	return removed
}

// StartCleanup runs Cleanup every interval until ctx is cancelled.
func (s *InMemoryRateLimitStore) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup()
			}
		}
	}()
}

// retryAfterSeconds converts a token deficit into whole seconds, at least 1.
func retryAfterSeconds(deficit, refillRate float64) int {
	secs := int(math.Ceil(deficit / refillRate))
	if secs <= 0 {
		secs = 1
	}
	return secs
}

// KeyFunc extracts a rate limit key from an HTTP request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc returns a KeyFunc that uses the client's IP address.
// Without trustRemoteAddr, a request with no forwarding headers yields an
// empty key and is therefore never limited.
func IPKeyFunc(trustRemoteAddr bool) KeyFunc {
	return func(r *http.Request) string {
		if trustRemoteAddr {
			return ClientIPOrRemote(r)
		}
		return ClientIP(r)
	}
}

// CostFunc returns the token cost of a request.
type CostFunc func(r *http.Request) int

// MethodCost charges CostRead for GET and HEAD and CostWrite for anything else.
func MethodCost(r *http.Request) int {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return CostRead
	default:
		return CostWrite
	}
}

// rateLimitedBody matches the search error body format.
const rateLimitedBody = `{"error":"Too many requests. Please try again later.","code":"RATE_LIMIT_EXCEEDED"}`

// RateLimiter is a middleware that limits request rates.
// It returns HTTP 429 Too Many Requests when the bucket cannot cover the cost.
// metrics may be nil.
func RateLimiter(store RateLimitStore, cost CostFunc, keyFunc KeyFunc, metrics *Metrics) func(http.Handler) http.Handler {
	if cost == nil {
		cost = MethodCost
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			keyType := "ip"
			if key == "" {
				keyType = "unknown"
			}
			endpoint := normalizePath(r.URL.Path)
			if metrics != nil {
				metrics.IncRateLimitRequests(endpoint, keyType)
			}

			allowed, retryAfter := store.Consume(r.Context(), key, cost(r))
			if !allowed {
				if metrics != nil {
					metrics.IncRateLimitBlocked(endpoint, keyType)
				}
				// Set error code for logging middleware
				ctx := SetErrorCode(r.Context(), "RATE_LIMIT_EXCEEDED")
				UpdateResponseContext(w, ctx)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(rateLimitedBody))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
