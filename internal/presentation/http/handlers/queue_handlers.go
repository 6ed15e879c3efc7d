package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/application/services"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// ModelsRequest selects models for queue and reset operations. An empty list
// means every model.
type ModelsRequest struct {
	Models []string `json:"models,omitempty"`
}

// QueueHandlers exposes the action queue.
type QueueHandlers struct {
	queueService *services.QueueService
	store        *stores.CollectionStore
	logger       *logging.ChanneledLogger
}

// NewQueueHandlers creates queue handlers with injected dependencies
func NewQueueHandlers(queueService *services.QueueService, store *stores.CollectionStore, logger *logging.ChanneledLogger) *QueueHandlers {
	return &QueueHandlers{
		queueService: queueService,
		store:        store,
		logger:       logger,
	}
}

// QueueAction queues the body as a post, patch or delete.
func (h *QueueHandlers) QueueAction(c *gin.Context) {
	data, err := readValue(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	entry, err := h.queueService.QueueAction(c.Request.Context(), c.Param("model"), c.Param("action"), data)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, entry)
}

// CancelAction drops one queued action and restores its snapshot.
func (h *QueueHandlers) CancelAction(c *gin.Context) {
	found, err := h.queueService.CancelAction(c.Request.Context(), c.Param("model"), c.Param("action"), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "no queued action"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Process sends the queued actions to the API. Entries that fail stay queued
// and the response lists what is still pending.
func (h *QueueHandlers) Process(c *gin.Context) {
	h.run(c, "process", h.queueService.ProcessQueue)
}

// Cancel drops every queued action and restores the snapshots.
func (h *QueueHandlers) Cancel(c *gin.Context) {
	h.run(c, "cancel", h.queueService.CancelQueue)
}

// ResetQueue reverts queued patches and empties the queues.
func (h *QueueHandlers) ResetQueue(c *gin.Context) {
	h.run(c, "reset", h.queueService.ResetQueue)
}

func (h *QueueHandlers) run(c *gin.Context, name string, fn func(ctx context.Context, modelKeys ...string) error) {
	start := time.Now()
	var req ModelsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	err := fn(c.Request.Context(), req.Models...)
	pending := h.pending(req.Models)
	h.logger.Queue().Info("Queue request completed", "operation", name, "models", req.Models, "pending", pending, "duration", time.Since(start))
	if err != nil {
		body := gin.H{"error": err.Error(), "pending": pending}
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pending": pending})
}

// pending counts queued entries per model.
func (h *QueueHandlers) pending(modelKeys []string) map[string]int {
	if len(modelKeys) == 0 {
		modelKeys = h.store.Registry().Keys()
	}
	out := make(map[string]int, len(modelKeys))
	for _, key := range modelKeys {
		if q := h.store.QueueSnapshot(key); q != nil {
			out[key] = q.Len()
		}
	}
	return out
}
