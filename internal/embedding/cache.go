package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"edu-data-console/internal/logger"
)

// CachedEmbedder keeps vectors in Redis. Cache failures fall through to the
// inner embedder.
type CachedEmbedder struct {
	inner Embedder
	rdb   redis.Cmdable
	ttl   time.Duration
}

// NewCachedEmbedder returns inner unchanged when rdb is nil.
func NewCachedEmbedder(inner Embedder, rdb *redis.Client, ttl time.Duration) Embedder {
	if rdb == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &CachedEmbedder{inner: inner, rdb: rdb, ttl: ttl}
}

func (c *CachedEmbedder) Dim() int { return c.inner.Dim() }

func cacheKey(dim int, text string) string {
	return fmt.Sprintf("embed:%d:%s", dim, text)
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	key := cacheKey(c.inner.Dim(), text)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vec []float64
		if jerr := json.Unmarshal(raw, &vec); jerr == nil && len(vec) == c.inner.Dim() {
			return vec, nil
		}
	case !errors.Is(err, redis.Nil):
		logger.Debug("embedding cache read failed", "error", err)
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if payload, jerr := json.Marshal(vec); jerr == nil {
		if serr := c.rdb.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			logger.Debug("embedding cache write failed", "error", serr)
		}
	}
	return vec, nil
}
