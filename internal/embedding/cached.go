package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedEmbedder memoizes successful embeddings. Errors are never cached, so
// a provider outage does not outlive the outage itself.
type CachedEmbedder struct {
	next    Embedder
	cache   *expirable.LRU[string, []float32]
	metrics *Metrics
}

// NewCachedEmbedder caches up to size vectors for ttl (0 means no expiry).
func NewCachedEmbedder(next Embedder, size int, ttl time.Duration, metrics *Metrics) *CachedEmbedder {
	return &CachedEmbedder{
		next:    next,
		cache:   expirable.NewLRU[string, []float32](size, nil, ttl),
		metrics: metrics,
	}
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, req Request) ([]float32, error) {
	key := cacheKey(req)
	if vec, ok := c.cache.Get(key); ok {
		c.metrics.cacheResult(true)
		return clone(vec), nil
	}
	c.metrics.cacheResult(false)

	vec, err := c.next.Embed(ctx, req)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, clone(vec))
	return vec, nil
}

// Len returns the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	return c.cache.Len()
}

func cacheKey(req Request) string {
	h := sha256.New()
	h.Write([]byte(req.Task))
	var dims [8]byte
	binary.BigEndian.PutUint64(dims[:], uint64(req.Dimensions))
	h.Write(dims[:])
	h.Write([]byte(req.Text))
	return hex.EncodeToString(h.Sum(nil))
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
