package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/embedding"
)

// WrapLRU layers an in-process expirable LRU over an embedding client so
// repeated chunks (shared descriptions, boilerplate column sets) skip the
// provider round trip.
func WrapLRU(next embedding.Client, size int, ttl time.Duration) embedding.Client {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruClient{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruClient struct {
	next  embedding.Client
	cache *expirable.LRU[string, []float32]
}

func (c *lruClient) Embed(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(c.next.ModelID(), text)
	if vec, ok := c.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)")
		return vec, nil
	}
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, vec)
	return vec, nil
}

func (c *lruClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.cache.Get(CacheKey(c.next.ModelID(), text)); ok {
			results[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return results, nil
	}
	vecs, err := c.next.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		results[i] = vecs[j]
		c.cache.Add(CacheKey(c.next.ModelID(), texts[i]), vecs[j])
	}
	logutil.GetLogger(ctx).Debug("embedding batch cache",
		zap.Int("total", len(texts)),
		zap.Int("misses", len(missTexts)),
	)
	return results, nil
}

func (c *lruClient) Dimension() int {
	return c.next.Dimension()
}

func (c *lruClient) ModelID() string {
	return c.next.ModelID()
}

func (c *lruClient) Close() error {
	return c.next.Close()
}

// CacheKey is content-addressed: same model and text always hit the same row.
func CacheKey(modelID, text string) string {
	sum := sha256.Sum256([]byte(text))
	return modelID + ":" + hex.EncodeToString(sum[:])
}
