package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"sales-assistant/internal/common/database"
	"sales-assistant/internal/common/logger"
)

// CachedEmbedder stores vectors in Redis under emb:<engine>:<sha1(text)>.
// Cache failures are logged and fall through to the wrapped engine.
type CachedEmbedder struct {
	next   Embedder
	rdb    redis.Cmdable
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedEmbedder(next Embedder, rdb redis.Cmdable, ttl time.Duration, log logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{next: next, rdb: rdb, ttl: ttl, logger: log}
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha1.Sum([]byte(text))
	return "emb:" + c.next.Name() + ":" + hex.EncodeToString(sum[:])
}

func (c *CachedEmbedder) lookup(ctx context.Context, text string) ([]float32, bool) {
	var v []float32
	err := database.GetJSON(ctx, c.rdb, c.key(text), &v)
	if err == nil && len(v) > 0 {
		return v, true
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("Embedding cache read failed", map[string]interface{}{"error": err.Error()})
	}
	return nil, false
}

func (c *CachedEmbedder) store(ctx context.Context, text string, v []float32) {
	if err := database.SetJSON(ctx, c.rdb, c.key(text), v, c.ttl); err != nil {
		c.logger.Warn("Embedding cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.lookup(ctx, text); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, text, v)
	return v, nil
}

// EmbedBatch sends only the cache misses to the wrapped engine.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, t := range texts {
		if v, ok := c.lookup(ctx, t); ok {
			out[i] = v
			continue
		}
		missTexts = append(missTexts, t)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vs {
		out[missIdx[j]] = v
		c.store(ctx, missTexts[j], v)
	}
	return out, nil
}

func (c *CachedEmbedder) Dimensions() int { return c.next.Dimensions() }

func (c *CachedEmbedder) Name() string { return c.next.Name() }
