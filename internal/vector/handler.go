package vector

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/metasearch/internal/model"
)

const handlerPriority = 200

// Handler keeps the vector index in step with entity lifecycle events.
// Vector indexing is secondary work: every method swallows failures after
// logging, so a broken embedding path never aborts lifecycle dispatch.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Name() string  { return "vector-embedding" }
func (h *Handler) Priority() int { return handlerPriority }
func (h *Handler) IsAsync() bool { return true }

func (h *Handler) OnEntityCreated(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) error {
	h.reindexEntity(ctx, ent)
	return nil
}

func (h *Handler) OnEntityUpdated(ctx context.Context, prev *model.Entity, curr *model.Entity, subject *model.SubjectContext) error {
	if curr == nil {
		logutil.GetLogger(ctx).Warn("nil entity on update event")
		return nil
	}
	// Soft deletes arrive through their own event.
	if curr.Deleted {
		return nil
	}
	h.reindexEntity(ctx, curr)
	return nil
}

func (h *Handler) OnEntityDeleted(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) error {
	if !h.accepts(ctx, ent, "delete") {
		return nil
	}
	if err := h.svc.HardDelete(ctx, ent); err != nil {
		logutil.GetLogger(ctx).Error("hard delete embeddings failed",
			zap.String("entity_id", ent.ID.String()), zap.Error(err))
	}
	return nil
}

func (h *Handler) OnEntitySoftDeletedOrRestored(ctx context.Context, ent *model.Entity, deleted bool, subject *model.SubjectContext) error {
	if !h.accepts(ctx, ent, "soft delete or restore") {
		return nil
	}
	var err error
	if deleted {
		err = h.svc.SoftDelete(ctx, ent)
	} else {
		err = h.svc.Restore(ctx, ent)
	}
	if err != nil {
		logutil.GetLogger(ctx).Error("soft delete/restore embeddings failed",
			zap.String("entity_id", ent.ID.String()), zap.Bool("deleted", deleted), zap.Error(err))
	}
	return nil
}

func (h *Handler) reindexEntity(ctx context.Context, ent *model.Entity) {
	if !h.accepts(ctx, ent, "reindex") {
		return
	}
	if err := h.svc.UpdateVectorEmbeddings(ctx, ent, IndexName); err != nil {
		logutil.GetLogger(ctx).Error("update vector embeddings failed",
			zap.String("entity_id", ent.ID.String()), zap.Error(err))
	}
}

func (h *Handler) accepts(ctx context.Context, ent *model.Entity, op string) bool {
	if ent == nil {
		logutil.GetLogger(ctx).Warn("nil entity on lifecycle event", zap.String("op", op))
		return false
	}
	return IsSupportedType(ent.Type)
}
