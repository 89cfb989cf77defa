package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/metasearch/internal/lifecycle"
	"github.com/xxxsen/metasearch/internal/model"
)

type recordingLifecycleHandler struct {
	events []string
}

func (h *recordingLifecycleHandler) Name() string  { return "recording" }
func (h *recordingLifecycleHandler) Priority() int { return 0 }
func (h *recordingLifecycleHandler) IsAsync() bool { return false }

func (h *recordingLifecycleHandler) OnEntityCreated(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) error {
	h.events = append(h.events, "created:"+ent.Name)
	return nil
}

func (h *recordingLifecycleHandler) OnEntityUpdated(ctx context.Context, prev *model.Entity, curr *model.Entity, subject *model.SubjectContext) error {
	h.events = append(h.events, "updated:"+curr.Name)
	return nil
}

func (h *recordingLifecycleHandler) OnEntityDeleted(ctx context.Context, ent *model.Entity, subject *model.SubjectContext) error {
	h.events = append(h.events, "deleted:"+ent.Name)
	return nil
}

func (h *recordingLifecycleHandler) OnEntitySoftDeletedOrRestored(ctx context.Context, ent *model.Entity, deleted bool, subject *model.SubjectContext) error {
	if deleted {
		h.events = append(h.events, "softdeleted:"+ent.Name)
	} else {
		h.events = append(h.events, "restored:"+ent.Name)
	}
	return nil
}

func newEventTestRouter(t *testing.T) (*gin.Engine, *recordingLifecycleHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := &recordingLifecycleHandler{}
	dispatcher := lifecycle.NewDispatcher()
	dispatcher.Register(rec)
	router := gin.New()
	router.POST("/events", NewEventHandler(dispatcher).Receive)
	return router, rec
}

func postEvent(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/events", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestEventHandlerDispatchesByType(t *testing.T) {
	router, rec := newEventTestRouter(t)

	w := postEvent(t, router, `{"event_type":"entityCreated","entity":{"type":"table","name":"orders"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = postEvent(t, router, `{"event_type":"entityUpdated","entity":{"type":"table","name":"orders"},"previous":{"type":"table","name":"orders"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = postEvent(t, router, `{"event_type":"entitySoftDeletedOrRestored","entity":{"type":"table","name":"orders"},"deleted":true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = postEvent(t, router, `{"event_type":"entityDeleted","entity":{"type":"table","name":"orders"}}`)
	require.Equal(t, http.StatusOK, w.Code)

	require.Equal(t, []string{
		"created:orders",
		"updated:orders",
		"softdeleted:orders",
		"deleted:orders",
	}, rec.events)
}

func TestEventHandlerRejectsBadPayloads(t *testing.T) {
	router, rec := newEventTestRouter(t)

	// malformed json
	w := postEvent(t, router, `{`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "invalid event payload")

	// missing entity
	w = postEvent(t, router, `{"event_type":"entityCreated"}`)
	require.Contains(t, w.Body.String(), "event entity is required")

	// unknown type
	w = postEvent(t, router, `{"event_type":"entityRenamed","entity":{"type":"table","name":"orders"}}`)
	require.Contains(t, w.Body.String(), "unknown event type")

	require.Empty(t, rec.events)
}
