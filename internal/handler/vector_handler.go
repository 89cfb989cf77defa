package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/metasearch/internal/pkg/errcode"
	"github.com/xxxsen/metasearch/internal/pkg/response"
	"github.com/xxxsen/metasearch/internal/vector"
)

type VectorHandler struct {
	svc *vector.Service
}

func NewVectorHandler(svc *vector.Service) *VectorHandler {
	return &VectorHandler{svc: svc}
}

func (h *VectorHandler) Search(c *gin.Context) {
	if h.svc == nil {
		response.Error(c, errcode.ErrEmbeddingUnavailable, "vector search not configured")
		return
	}
	var req vector.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if req.Query == "" {
		response.Error(c, errcode.ErrInvalid, "query is required")
		return
	}
	hits, err := h.svc.VectorSearch(c.Request.Context(), req)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"hits": hits, "count": len(hits)})
}
