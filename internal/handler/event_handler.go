package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/metasearch/internal/lifecycle"
	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/pkg/errcode"
	"github.com/xxxsen/metasearch/internal/pkg/response"
)

const (
	eventEntityCreated     = "entityCreated"
	eventEntityUpdated     = "entityUpdated"
	eventEntityDeleted     = "entityDeleted"
	eventEntitySoftDeleted = "entitySoftDeletedOrRestored"
)

// EventHandler receives entity change notifications from the catalog and
// feeds them to the lifecycle dispatcher. The catalog retries on non-2xx, so
// acceptance here only means the event was dispatched, not fully processed.
type EventHandler struct {
	dispatcher *lifecycle.Dispatcher
}

func NewEventHandler(dispatcher *lifecycle.Dispatcher) *EventHandler {
	return &EventHandler{dispatcher: dispatcher}
}

type entityEvent struct {
	EventType string                `json:"event_type"`
	Entity    *model.Entity         `json:"entity"`
	Previous  *model.Entity         `json:"previous"`
	Deleted   bool                  `json:"deleted"`
	Subject   *model.SubjectContext `json:"subject"`
}

func (h *EventHandler) Receive(c *gin.Context) {
	var evt entityEvent
	if err := c.ShouldBindJSON(&evt); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid event payload")
		return
	}
	if evt.Entity == nil {
		response.Error(c, errcode.ErrInvalid, "event entity is required")
		return
	}
	ctx := c.Request.Context()
	switch evt.EventType {
	case eventEntityCreated:
		h.dispatcher.EntityCreated(ctx, evt.Entity, evt.Subject)
	case eventEntityUpdated:
		h.dispatcher.EntityUpdated(ctx, evt.Previous, evt.Entity, evt.Subject)
	case eventEntityDeleted:
		h.dispatcher.EntityDeleted(ctx, evt.Entity, evt.Subject)
	case eventEntitySoftDeleted:
		h.dispatcher.EntitySoftDeletedOrRestored(ctx, evt.Entity, evt.Deleted, evt.Subject)
	default:
		response.Error(c, errcode.ErrInvalid, "unknown event type")
		return
	}
	response.Success(c, gin.H{"accepted": true})
}
