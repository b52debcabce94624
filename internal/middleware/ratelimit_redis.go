package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills and consumes a bucket atomically using the
// server clock, so every API replica sees the same time.
//
// KEYS[1] bucket key
// ARGV[1] capacity, ARGV[2] refill per second, ARGV[3] cost, ARGV[4] ttl ms
// Returns {allowed (0|1), retry_after_seconds}.
var tokenBucketScript = redis.NewScript(`
if redis.replicate_commands then redis.replicate_commands() end
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local t = redis.call('TIME')
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)

local state = redis.call('HMGET', KEYS[1], 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) / 1000 * rate)
  ts = now
end

local allowed = 0
local retry = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry = math.ceil((cost - tokens) / rate)
  if retry < 1 then retry = 1 end
end

redis.call('HSET', KEYS[1], 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', KEYS[1], ttl)
return {allowed, retry}
`)

// redisKeyPrefix namespaces bucket keys in a shared Redis.
const redisKeyPrefix = "orangesearch:ratelimit:"

// RedisRateLimitStore implements RateLimitStore on Redis so that limits are
// shared across API replicas. Keys expire once the bucket would be full and
// has idled for IdleTTL.
//
// Redis failures admit the request (fail-open) and are counted.
type RedisRateLimitStore struct {
	client  redis.UniversalClient
	config  RateLimitConfig
	metrics *Metrics
	logger  *slog.Logger
}

// NewRedisRateLimitStore creates a Redis-backed store. metrics may be nil.
func NewRedisRateLimitStore(client redis.UniversalClient, config RateLimitConfig, metrics *Metrics, logger *slog.Logger) *RedisRateLimitStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimitStore{
		client:  client,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// Consume implements the RateLimitStore interface.
func (s *RedisRateLimitStore) Consume(ctx context.Context, key string, cost int) (bool, int) {
	if key == "" {
		return true, 0
	}
	if cost <= 0 {
		cost = 1
	}

	ttl := s.config.fullRefill() + s.config.IdleTTL
	if ttl < time.Second {
		ttl = time.Second
	}

	res, err := tokenBucketScript.Run(ctx, s.client, []string{redisKeyPrefix + key},
		s.config.Capacity, s.config.RefillRate, cost, ttl.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected script result length %d", len(res))
	}
	if err != nil {
		s.metrics.IncRateLimitStoreErrors("redis")
		s.logger.WarnContext(ctx, "rate limit store unavailable, allowing request",
			"error", err,
		)
		return true, 0
	}

	return res[0] == 1, int(res[1])
}
