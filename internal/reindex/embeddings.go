package reindex

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/search"
	"github.com/xxxsen/metasearch/internal/vector"
)

// WithEmbeddings decorates a base reindex handler with vector index
// rebuilding. When no embedding service is configured the vector key never
// enters the working set and every vector-specific step is skipped with an
// informational log; the base handler's behavior is untouched either way.
type WithEmbeddings struct {
	base     Handler
	engine   search.Engine
	svc      *vector.Service
	source   EntitySource
	pageSize int
}

func NewWithEmbeddings(base Handler, engine search.Engine, svc *vector.Service, source EntitySource, pageSize int) *WithEmbeddings {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &WithEmbeddings{base: base, engine: engine, svc: svc, source: source, pageSize: pageSize}
}

func (h *WithEmbeddings) enabled() bool {
	return h.svc != nil && h.svc.Client() != nil
}

func (h *WithEmbeddings) WorkingSet(types []string) []string {
	keys := h.base.WorkingSet(types)
	if h.enabled() {
		keys = append(keys, vector.IndexKey)
	}
	return keys
}

func (h *WithEmbeddings) Recreate(ctx context.Context, rc *Context, key string) error {
	if key != vector.IndexKey {
		return h.base.Recreate(ctx, rc, key)
	}
	if !h.enabled() {
		logutil.GetLogger(ctx).Info("no embedding service configured, skip vector index rebuild")
		return nil
	}
	staging := rc.StagingName(vector.IndexName)
	rc.SetStaging(key, staging)
	mapping := vector.IndexMapping(h.svc.Client().Dimension())
	if err := h.engine.CreateIndex(ctx, staging, mapping); err != nil {
		return fmt.Errorf("create vector staging index %s: %w", staging, err)
	}
	// the processor counters are lifetime totals for the shared vector
	// service, so the run accounts only for what it added itself
	successBefore := h.svc.Processor().TotalSuccess()
	failedBefore := h.svc.Processor().TotalFailed()
	if err := h.populateVectors(ctx, rc, staging); err != nil {
		return err
	}
	if err := h.svc.Flush(ctx); err != nil {
		return fmt.Errorf("final vector flush: %w", err)
	}
	rc.AddCounts(key, h.svc.Processor().TotalSuccess()-successBefore, h.svc.Processor().TotalFailed()-failedBefore)
	return nil
}

func (h *WithEmbeddings) populateVectors(ctx context.Context, rc *Context, staging string) error {
	sourceIndex := vector.IndexName
	exists, err := h.engine.IndexExists(ctx, sourceIndex)
	if err != nil || !exists {
		sourceIndex = ""
	}
	for _, key := range rc.Keys {
		if key == vector.IndexKey || !vector.IsSupportedType(key) {
			continue
		}
		if err := h.populateType(ctx, key, staging, sourceIndex); err != nil {
			// one type failing must not sink the whole vector rebuild
			logutil.GetLogger(ctx).Error("vector population failed for type",
				zap.String("entity_type", key), zap.Error(err))
			rc.AddCounts(vector.IndexKey, 0, 1)
		}
	}
	return nil
}

func (h *WithEmbeddings) populateType(ctx context.Context, entityType string, staging string, sourceIndex string) error {
	cursor := ""
	for {
		ents, next, err := h.source.ListEntities(ctx, entityType, cursor, h.pageSize)
		if err != nil {
			return err
		}
		known := h.pageFingerprints(ctx, sourceIndex, ents)
		for _, ent := range ents {
			if err := h.svc.UpdateWithMigration(ctx, ent, staging, sourceIndex, known); err != nil {
				logutil.GetLogger(ctx).Warn("vector update failed for entity",
					zap.String("entity_id", ent.ID.String()), zap.Error(err))
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

// pageFingerprints prefetches existing fingerprints for a page of entities
// in one collapsed query, so unchanged entities skip re-embedding without a
// per-entity lookup.
func (h *WithEmbeddings) pageFingerprints(ctx context.Context, sourceIndex string, ents []*model.Entity) map[string]string {
	if sourceIndex == "" || len(ents) == 0 {
		return nil
	}
	ids := make([]string, 0, len(ents))
	for _, ent := range ents {
		ids = append(ids, ent.ID.String())
	}
	return h.svc.ExistingFingerprints(ctx, sourceIndex, ids)
}

func (h *WithEmbeddings) Promote(ctx context.Context, rc *Context, key string) error {
	if key != vector.IndexKey {
		return h.base.Promote(ctx, rc, key)
	}
	if !h.enabled() {
		logutil.GetLogger(ctx).Info("no embedding service configured, skip vector index promotion")
		return nil
	}
	staging := rc.Staging(key)
	old, err := h.engine.ResolveAlias(ctx, vector.IndexName)
	if err != nil {
		return fmt.Errorf("resolve vector alias: %w", err)
	}
	if err := h.engine.PromoteAlias(ctx, vector.IndexName, staging, old); err != nil {
		return fmt.Errorf("promote vector index: %w", err)
	}
	for _, idx := range old {
		if err := h.engine.DeleteIndex(ctx, idx); err != nil {
			logutil.GetLogger(ctx).Warn("delete retired vector index failed",
				zap.String("index", idx), zap.Error(err))
		}
	}
	return nil
}

// Finalize always reaches the base handler so run bookkeeping happens even
// when the vector side was skipped.
func (h *WithEmbeddings) Finalize(ctx context.Context, rc *Context) {
	if h.enabled() {
		if err := h.svc.Flush(ctx); err != nil {
			logutil.GetLogger(ctx).Warn("vector flush at finalize failed", zap.Error(err))
		}
	}
	h.base.Finalize(ctx, rc)
}
