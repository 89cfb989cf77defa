package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/metasearch/internal/pkg/errcode"
	"github.com/xxxsen/metasearch/internal/pkg/response"
	"github.com/xxxsen/metasearch/internal/reindex"
	"github.com/xxxsen/metasearch/internal/search"
)

// maxAggSize is the engine-side bucket ceiling; paged requests never ask for
// more groups than this.
const maxAggSize = 10000

type AggregationHandler struct {
	store search.DocStore
}

func NewAggregationHandler(store search.DocStore) *AggregationHandler {
	return &AggregationHandler{store: store}
}

type aggregationRequest struct {
	EntityType string `json:"entity_type"`
	GroupBy    string `json:"group_by"`
	Query      string `json:"query"`
	Limit      *int   `json:"limit"`
	Offset     *int   `json:"offset"`
}

func (h *AggregationHandler) Aggregate(c *gin.Context) {
	var req aggregationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.EntityType == "" || req.GroupBy == "" {
		response.Error(c, errcode.ErrInvalid, "entity_type and group_by are required")
		return
	}
	if req.Limit != nil && *req.Limit <= 0 {
		response.Error(c, errcode.ErrInvalid, "limit must be positive")
		return
	}
	if req.Offset != nil && *req.Offset < 0 {
		response.Error(c, errcode.ErrInvalid, "offset must not be negative")
		return
	}
	aggs, err := search.RunAggregation(c.Request.Context(), h.store,
		reindex.IndexNameFor(req.EntityType), search.AggregationRequest{
			GroupBy:       req.GroupBy,
			ContentFilter: req.Query,
			Limit:         req.Limit,
			Offset:        req.Offset,
			MaxAggSize:    maxAggSize,
		})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"aggregations": aggs})
}
