package handler

import (
	"context"
	"database/sql"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/metasearch/internal/model"
	"github.com/xxxsen/metasearch/internal/pkg/errcode"
	"github.com/xxxsen/metasearch/internal/pkg/response"
	"github.com/xxxsen/metasearch/internal/reindex"
)

const defaultRunHistoryLimit = 20

// RunHistory reads persisted run summaries. Nil when the service runs
// without a database.
type RunHistory interface {
	Get(ctx context.Context, runID string) (*model.ReindexRun, error)
	ListRecent(ctx context.Context, limit int) ([]model.ReindexRun, error)
	ListByRunIDs(ctx context.Context, runIDs []string) ([]model.ReindexRun, error)
}

type ReindexHandler struct {
	runner       *reindex.Runner
	defaultTypes []string
	history      RunHistory
}

func NewReindexHandler(runner *reindex.Runner, defaultTypes []string, history RunHistory) *ReindexHandler {
	return &ReindexHandler{runner: runner, defaultTypes: defaultTypes, history: history}
}

type triggerRequest struct {
	EntityTypes []string `json:"entity_types"`
}

func (h *ReindexHandler) Trigger(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	types := req.EntityTypes
	if len(types) == 0 {
		types = h.defaultTypes
	}
	runID, err := h.runner.Trigger(c.Request.Context(), types)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"run_id": runID, "entity_types": types})
}

func (h *ReindexHandler) Status(c *gin.Context) {
	out := gin.H{"running": h.runner.IsRunning()}
	if run := h.runner.LastRun(); run != nil {
		out["last_run"] = run
	}
	response.Success(c, out)
}

// Runs lists persisted run summaries, most recent first. Passing one or more
// run_id query params narrows the result to those runs.
func (h *ReindexHandler) Runs(c *gin.Context) {
	if h.history == nil {
		response.Error(c, errcode.ErrNotFound, "run history not available")
		return
	}
	ctx := c.Request.Context()
	runIDs := c.QueryArray("run_id")
	switch len(runIDs) {
	case 0:
		runs, err := h.history.ListRecent(ctx, defaultRunHistoryLimit)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"runs": runs})
	case 1:
		run, err := h.history.Get(ctx, runIDs[0])
		if errors.Is(err, sql.ErrNoRows) {
			response.Error(c, errcode.ErrNotFound, "run not found")
			return
		}
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"runs": []*model.ReindexRun{run}})
	default:
		runs, err := h.history.ListByRunIDs(ctx, runIDs)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"runs": runs})
	}
}
