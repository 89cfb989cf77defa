package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/embedding"
	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/repo"
)

// WrapDB layers a persistent cache over an embedding client. Cache failures
// are logged and bypassed, never surfaced to the indexing path.
func WrapDB(next embedding.Client, cacheRepo *repo.EmbeddingCacheRepo) embedding.Client {
	if next == nil || cacheRepo == nil {
		return next
	}
	return &dbClient{next: next, repo: cacheRepo}
}

type dbClient struct {
	next embedding.Client
	repo *repo.EmbeddingCacheRepo
}

func (c *dbClient) Embed(ctx context.Context, text string) ([]float32, error) {
	contentHash := contentHash(text)
	vec, ok, err := c.repo.Get(ctx, c.next.ModelID(), contentHash)
	if err != nil {
		logutil.GetLogger(ctx).Warn("embedding cache read failed", zap.Error(err))
	} else if ok {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)")
		return vec, nil
	}
	vec, err = c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.save(ctx, contentHash, vec)
	return vec, nil
}

func (c *dbClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		vec, ok, err := c.repo.Get(ctx, c.next.ModelID(), contentHash(text))
		if err != nil {
			logutil.GetLogger(ctx).Warn("embedding cache read failed", zap.Error(err))
		} else if ok {
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
		c.save(ctx, contentHash(texts[i]), vecs[j])
	}
	return results, nil
}

func (c *dbClient) save(ctx context.Context, hash string, vec []float32) {
	err := c.repo.Save(ctx, &model.EmbeddingCacheItem{
		ModelName:   c.next.ModelID(),
		ContentHash: hash,
		Embedding:   vec,
		Ctime:       time.Now().Unix(),
	})
	if err != nil {
		logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
	}
}

func (c *dbClient) Dimension() int {
	return c.next.Dimension()
}

func (c *dbClient) ModelID() string {
	return c.next.ModelID()
}

func (c *dbClient) Close() error {
	return c.next.Close()
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
