package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/metasearch/internal/pkg/response"
	"github.com/xxxsen/metasearch/internal/stats"
)

type StatsHandler struct {
	tracker *stats.Tracker
}

func NewStatsHandler(tracker *stats.Tracker) *StatsHandler {
	return &StatsHandler{tracker: tracker}
}

func (h *StatsHandler) Get(c *gin.Context) {
	response.Success(c, gin.H{"stages": h.tracker.Snapshot()})
}
