package handler

import (
	"github.com/gin-gonic/gin"
)

type RouterDeps struct {
	Vector      *VectorHandler
	Reindex     *ReindexHandler
	Stats       *StatsHandler
	Events      *EventHandler
	Aggregation *AggregationHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.POST("/vector/search", deps.Vector.Search)
	api.POST("/aggregations", deps.Aggregation.Aggregate)
	api.POST("/reindex", deps.Reindex.Trigger)
	api.GET("/reindex/status", deps.Reindex.Status)
	api.GET("/reindex/runs", deps.Reindex.Runs)
	api.GET("/stats", deps.Stats.Get)
	api.POST("/events", deps.Events.Receive)
}
