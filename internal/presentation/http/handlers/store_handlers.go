package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/application/services"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/gin-gonic/gin"
)

// FetchRequest is the body of POST /collections/:model/fetch.
type FetchRequest struct {
	ID         string         `json:"id,omitempty"`
	URL        string         `json:"url,omitempty"`
	Query      map[string]any `json:"query,omitempty"`
	ForceFetch bool           `json:"forceFetch,omitempty"`
	Clear      *bool          `json:"clear,omitempty"`
	DataPath   string         `json:"dataPath,omitempty"`
}

// DeleteRequest is the optional body of a bulk delete.
type DeleteRequest struct {
	Data json.RawMessage `json:"data"`
}

// StoreHandlers exposes collection reads and the synchronous API operations.
type StoreHandlers struct {
	entityService  *services.EntityService
	warmingService *services.WarmingService
	store          *stores.CollectionStore
	logger         *logging.ChanneledLogger
}

// NewStoreHandlers creates store handlers with injected dependencies
func NewStoreHandlers(entityService *services.EntityService, warmingService *services.WarmingService, store *stores.CollectionStore, logger *logging.ChanneledLogger) *StoreHandlers {
	return &StoreHandlers{
		entityService:  entityService,
		warmingService: warmingService,
		store:          store,
		logger:         logger,
	}
}

// GetModels returns the registry and per-collection stats.
func (h *StoreHandlers) GetModels(c *gin.Context) {
	registry := h.store.Registry()
	models := make([]gin.H, 0, registry.Len())
	for _, key := range registry.Keys() {
		m, _ := registry.Get(key)
		models = append(models, gin.H{
			"key":        m.Key,
			"name":       m.Name,
			"plural":     m.Plural,
			"references": m.References,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"store":       h.store.Name(),
		"models":      models,
		"collections": h.store.Stats(),
	})
}

// GetCollection returns the collection containers of one model.
func (h *StoreHandlers) GetCollection(c *gin.Context) {
	view, ok := h.store.View(c.Param("model"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown model " + c.Param("model")})
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetItem returns a cached entity, fetching it when absent or when
// force=true.
func (h *StoreHandlers) GetItem(c *gin.Context) {
	start := time.Now()
	force, _ := strconv.ParseBool(c.Query("force"))
	p := services.Payload{Type: c.Param("model"), ID: c.Param("id"), ForceFetch: force}

	item, err := h.entityService.Get(c.Request.Context(), p)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logger.Cache().Debug("Get item request completed", "model", p.Type, "id", p.ID, "duration", time.Since(start))
	c.JSON(http.StatusOK, gin.H{"data": item})
}

// Fetch runs Get with a JSON payload.
func (h *StoreHandlers) Fetch(c *gin.Context) {
	start := time.Now()
	var req FetchRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	p := services.Payload{
		Type:       c.Param("model"),
		ID:         req.ID,
		URL:        req.URL,
		ForceFetch: req.ForceFetch,
		Clear:      req.Clear,
		DataPath:   req.DataPath,
	}
	if len(req.Query) > 0 {
		p.Query = req.Query
	}

	data, err := h.entityService.Get(c.Request.Context(), p)
	if err != nil {
		abortWithError(c, err)
		return
	}
	h.logger.Cache().Info("Fetch request completed", "model", p.Type, "id", p.ID, "duration", time.Since(start))
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// Post creates entities through the API.
func (h *StoreHandlers) Post(c *gin.Context) {
	data, err := readValue(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	out, err := h.entityService.Post(c.Request.Context(), services.Payload{Type: c.Param("model"), Data: data})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": out})
}

// Patch updates one entity through the API.
func (h *StoreHandlers) Patch(c *gin.Context) {
	data, err := readValue(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	out, err := h.entityService.Patch(c.Request.Context(), services.Payload{Type: c.Param("model"), ID: c.Param("id"), Data: data})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

// Delete removes one entity through the API.
func (h *StoreHandlers) Delete(c *gin.Context) {
	p := services.Payload{Type: c.Param("model"), ID: c.Param("id")}
	if err := h.entityService.Delete(c.Request.Context(), p); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// BulkDelete removes every entity listed in the body's data.
func (h *StoreHandlers) BulkDelete(c *gin.Context) {
	var req DeleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	data, err := decodeRaw(req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid data", "details": err.Error()})
		return
	}
	if _, ok := data.(entity.List); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "data must be a list"})
		return
	}
	if err := h.entityService.Delete(c.Request.Context(), services.Payload{Type: c.Param("model"), Data: data}); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Reset clears the collections listed in the body, or all of them.
func (h *StoreHandlers) Reset(c *gin.Context) {
	var req ModelsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	if err := h.entityService.Reset(c.Request.Context(), req.Models...); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "models": req.Models})
}

// Warm loads the collections listed in the body, or all of them. Partial
// failures still report which models were loaded.
func (h *StoreHandlers) Warm(c *gin.Context) {
	var req ModelsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
			return
		}
	}
	models := req.Models
	if len(models) == 0 {
		models = h.store.Registry().Keys()
	}
	result, err := h.warmingService.Warm(c.Request.Context(), models...)
	if err != nil {
		if result == nil {
			abortWithError(c, err)
			return
		}
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "result": result})
		return
	}
	c.JSON(http.StatusOK, result)
}
