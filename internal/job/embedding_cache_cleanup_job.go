package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/repo"
)

type EmbeddingCacheCleanupJob struct {
	repo        *repo.EmbeddingCacheRepo
	maxAgeDays  int
	activeModel string
}

// NewEmbeddingCacheCleanupJob prunes cache rows older than maxAgeDays.
// When activeModel is set, rows from other models are pruned too since
// lookups never reach them.
func NewEmbeddingCacheCleanupJob(repo *repo.EmbeddingCacheRepo, maxAgeDays int, activeModel string) *EmbeddingCacheCleanupJob {
	return &EmbeddingCacheCleanupJob{repo: repo, maxAgeDays: maxAgeDays, activeModel: activeModel}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	maxAgeDays := j.maxAgeDays
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	cutoff := time.Now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour).Unix()
	aged, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	var stale int64
	if j.activeModel != "" {
		stale, err = j.repo.DeleteOtherModels(ctx, j.activeModel)
		if err != nil {
			return err
		}
	}
	logutil.GetLogger(ctx).Info("embedding cache pruned",
		zap.Int64("aged_out", aged), zap.Int64("stale_models", stale))
	return nil
}
