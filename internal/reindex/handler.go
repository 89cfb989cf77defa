package reindex

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/chunk"
	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/search"
)

const defaultPageSize = 100

// EntitySource pages through the catalog's entities of one type. An empty
// next cursor ends the iteration.
type EntitySource interface {
	ListEntities(ctx context.Context, entityType string, cursor string, limit int) ([]*model.Entity, string, error)
}

// Handler drives one full-reindex run: build a staging index per
// working-set key, populate it, promote it into place, finalize.
type Handler interface {
	// WorkingSet expands the requested entity types into the final set of
	// index keys for the run.
	WorkingSet(types []string) []string
	Recreate(ctx context.Context, rc *Context, key string) error
	Promote(ctx context.Context, rc *Context, key string) error
	Finalize(ctx context.Context, rc *Context)
}

// IndexNameFor maps an entity type to its live search index (alias).
func IndexNameFor(entityType string) string {
	return entityType + "_search_index"
}

type DefaultHandlerConfig struct {
	PageSize       int   `json:"page_size"`
	MaxBulkActions int   `json:"max_bulk_actions"`
	MaxBulkBytes   int64 `json:"max_bulk_bytes"`
}

// DefaultHandler rebuilds the primary per-entity-type search indexes.
type DefaultHandler struct {
	engine search.Engine
	source EntitySource
	cfg    DefaultHandlerConfig
	sink   search.StatsSink
}

func NewDefaultHandler(engine search.Engine, source EntitySource, cfg DefaultHandlerConfig, sink search.StatsSink) *DefaultHandler {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	return &DefaultHandler{engine: engine, source: source, cfg: cfg, sink: sink}
}

func (h *DefaultHandler) WorkingSet(types []string) []string {
	out := make([]string, 0, len(types))
	out = append(out, types...)
	return out
}

func (h *DefaultHandler) Recreate(ctx context.Context, rc *Context, key string) error {
	staging := rc.StagingName(IndexNameFor(key))
	rc.SetStaging(key, staging)
	if err := h.engine.CreateIndex(ctx, staging, nil); err != nil {
		return fmt.Errorf("create staging index %s: %w", staging, err)
	}
	proc := search.NewBulkProcessor(h.engine, search.BulkProcessorConfig{
		MaxActions:   h.cfg.MaxBulkActions,
		MaxSizeBytes: h.cfg.MaxBulkBytes,
	}, h.sink)
	if err := h.populate(ctx, rc, key, staging, proc); err != nil {
		return err
	}
	if err := proc.Close(ctx); err != nil {
		return fmt.Errorf("final flush for %s: %w", staging, err)
	}
	rc.AddCounts(key, proc.TotalSuccess(), proc.TotalFailed())
	return nil
}

func (h *DefaultHandler) populate(ctx context.Context, rc *Context, key string, staging string, proc *search.BulkProcessor) error {
	cursor := ""
	for {
		ents, next, err := h.source.ListEntities(ctx, key, cursor, h.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("list %s entities: %w", key, err)
		}
		for _, ent := range ents {
			op := search.BulkOp{
				Action: search.OpIndex,
				Index:  staging,
				DocID:  ent.ID.String(),
				Doc:    entityDoc(ent),
			}
			if err := proc.Add(ctx, op); err != nil {
				return err
			}
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func (h *DefaultHandler) Promote(ctx context.Context, rc *Context, key string) error {
	alias := IndexNameFor(key)
	staging := rc.Staging(key)
	old, err := h.engine.ResolveAlias(ctx, alias)
	if err != nil {
		return fmt.Errorf("resolve alias %s: %w", alias, err)
	}
	if err := h.engine.PromoteAlias(ctx, alias, staging, old); err != nil {
		return fmt.Errorf("promote %s -> %s: %w", staging, alias, err)
	}
	for _, idx := range old {
		if err := h.engine.DeleteIndex(ctx, idx); err != nil {
			logutil.GetLogger(ctx).Warn("delete retired index failed",
				zap.String("index", idx), zap.Error(err))
		}
	}
	return nil
}

func (h *DefaultHandler) Finalize(ctx context.Context, rc *Context) {
	success, failed := rc.Totals()
	logutil.GetLogger(ctx).Info("reindex run finished",
		zap.String("run_id", rc.RunID),
		zap.Strings("keys", rc.Keys),
		zap.Strings("failed_keys", rc.FailedKeys()),
		zap.Int64("success", success),
		zap.Int64("failed", failed))
}

func entityDoc(ent *model.Entity) map[string]interface{} {
	return map[string]interface{}{
		"id":                 ent.ID.String(),
		"entityType":         ent.Type,
		"name":               ent.Name,
		"displayName":        ent.DisplayName,
		"description":        ent.Description,
		"fullyQualifiedName": ent.FullyQualifiedName,
		"serviceType":        ent.ServiceType,
		"tags":               ent.Tags,
		"deleted":            ent.Deleted,
		"updatedAt":          ent.UpdatedAt,
		// flattened blob for plain keyword search across all text fields
		"searchableText": chunk.BuildSearchableText(
			ent.Name, ent.DisplayName, ent.Description,
			ent.FullyQualifiedName, ent.Tags, ent.ColumnNames),
	}
}
