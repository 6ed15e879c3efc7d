package handlers

import (
	"fmt"
	"net/http"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/gin-gonic/gin"
)

// SystemHandlers reports health and tunes logging at runtime.
type SystemHandlers struct {
	store       *stores.CollectionStore
	hub         messaging.Broadcaster
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewSystemHandlers creates system handlers with injected dependencies
func NewSystemHandlers(store *stores.CollectionStore, hub messaging.Broadcaster, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *SystemHandlers {
	return &SystemHandlers{store: store, hub: hub, logger: logger, perfTracker: perfTracker}
}

// Health returns a liveness summary.
func (h *SystemHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"store":       h.store.Name(),
		"models":      h.store.Registry().Len(),
		"subscribers": h.hub.ClientCount(h.store.Name()),
	})
}

// Stats returns collection sizes and operation metrics.
func (h *SystemHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"collections": h.store.Stats(),
		"performance": h.perfTracker.TakeSnapshot(h.store.Name()),
		"overall":     h.perfTracker.GetOverallStats(),
	})
}

// GetLogLevels returns the level of every channel.
func (h *SystemHandlers) GetLogLevels(c *gin.Context) {
	c.JSON(http.StatusOK, h.logger.GetChannelLevels())
}

// SetLogLevel sets the level of one channel.
func (h *SystemHandlers) SetLogLevel(c *gin.Context) {
	var req struct {
		Channel string `json:"channel" binding:"required"`
		Level   string `json:"level" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	level := logging.ParseLevel(req.Level)
	if err := h.logger.SetChannelLevel(logging.Channel(req.Channel), level); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to set log level", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": fmt.Sprintf("log level for channel '%s' set to '%s'", req.Channel, level)})
}
