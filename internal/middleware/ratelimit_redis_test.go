package middleware

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// newTestRedis connects to a local Redis or skips the test.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Redis not available, skipping integration test")
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRateLimitStore_Consume(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisRateLimitStore(client, RateLimitConfig{Capacity: 5, RefillRate: 0.01, IdleTTL: time.Minute}, nil, nil)

	key := "test-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx := context.Background()
	t.Cleanup(func() { client.Del(context.Background(), redisKeyPrefix+key) })

	for i := 0; i < 5; i++ {
		if ok, _ := store.Consume(ctx, key, 1); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	ok, retryAfter := store.Consume(ctx, key, 1)
	if ok {
		t.Fatal("6th request should be denied")
	}
	if retryAfter < 1 {
		t.Errorf("retryAfter = %d, want >= 1", retryAfter)
	}

	ttl, err := client.PTTL(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		t.Fatalf("PTTL: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("bucket key has no expiry (ttl=%s)", ttl)
	}
}

func TestRedisRateLimitStore_CostAboveBalanceDeductsNothing(t *testing.T) {
	client := newTestRedis(t)
	store := NewRedisRateLimitStore(client, RateLimitConfig{Capacity: 2, RefillRate: 0.01}, nil, nil)

	key := "test-cost-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	ctx := context.Background()
	t.Cleanup(func() { client.Del(context.Background(), redisKeyPrefix+key) })

	if ok, _ := store.Consume(ctx, key, 3); ok {
		t.Fatal("cost 3 against capacity 2 should be denied")
	}
	if ok, _ := store.Consume(ctx, key, 2); !ok {
		t.Error("cost 2 should still be allowed after a denial")
	}
}

func TestRedisRateLimitStore_FailsOpen(t *testing.T) {
	// Nothing listens on this port.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	metrics := NewMetrics()
	store := NewRedisRateLimitStore(client, DefaultRateLimit(), metrics, nil)

	ok, retryAfter := store.Consume(context.Background(), "any", 1)
	if !ok || retryAfter != 0 {
		t.Errorf("Consume() = (%v, %d), want (true, 0)", ok, retryAfter)
	}
	if got := counterValue(t, metrics.rateLimitStoreErrors, map[string]string{"store": "redis"}); got != 1 {
		t.Errorf("store errors = %v, want 1", got)
	}
}
