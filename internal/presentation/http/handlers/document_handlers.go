package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/persistence/documents"
	"github.com/gin-gonic/gin"
)

// DocumentHandlers is the generic JSON REST API of the development backend.
type DocumentHandlers struct {
	repo   *documents.DocumentRepository
	logger *logging.ChanneledLogger
}

// NewDocumentHandlers creates document handlers with injected dependencies
func NewDocumentHandlers(repo *documents.DocumentRepository, logger *logging.ChanneledLogger) *DocumentHandlers {
	return &DocumentHandlers{
		repo:   repo,
		logger: logger,
	}
}

func documentStatus(err error) int {
	switch {
	case errors.Is(err, documents.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, documents.ErrExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// bindDocuments reads a JSON object or array of objects. The bool reports
// whether the body was an array.
func bindDocuments(c *gin.Context) ([]documents.Document, bool, error) {
	var raw json.RawMessage
	if err := c.ShouldBindJSON(&raw); err != nil {
		return nil, false, err
	}
	var many []documents.Document
	if err := json.Unmarshal(raw, &many); err == nil {
		return many, true, nil
	}
	var one documents.Document
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, false, errors.New("body must be an object or an array of objects")
	}
	return []documents.Document{one}, false, nil
}

// List handles GET /api/:type.
func (h *DocumentHandlers) List(c *gin.Context) {
	start := time.Now()
	docs, err := h.repo.List(c.Request.Context(), c.Param("type"))
	if err != nil {
		c.JSON(documentStatus(err), gin.H{"error": err.Error()})
		return
	}
	h.logger.Database().Debug("List request completed", "type", c.Param("type"), "count", len(docs), "duration", time.Since(start))
	c.JSON(http.StatusOK, docs)
}

// Get handles GET /api/:type/:id.
func (h *DocumentHandlers) Get(c *gin.Context) {
	doc, err := h.repo.FindByID(c.Request.Context(), c.Param("type"), c.Param("id"))
	if err != nil {
		c.JSON(documentStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Create handles POST /api/:type with one document or a list.
func (h *DocumentHandlers) Create(c *gin.Context) {
	docs, many, err := bindDocuments(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	out := make([]documents.Document, 0, len(docs))
	for _, doc := range docs {
		created, err := h.repo.Create(c.Request.Context(), c.Param("type"), doc)
		if err != nil {
			c.JSON(documentStatus(err), gin.H{"error": err.Error()})
			return
		}
		out = append(out, created)
	}
	if many {
		c.JSON(http.StatusCreated, out)
		return
	}
	c.JSON(http.StatusCreated, out[0])
}

// Update handles PATCH /api/:type/:id.
func (h *DocumentHandlers) Update(c *gin.Context) {
	docs, many, err := bindDocuments(c)
	if err != nil || many {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be an object"})
		return
	}
	doc, err := h.repo.Update(c.Request.Context(), c.Param("type"), c.Param("id"), docs[0])
	if err != nil {
		c.JSON(documentStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// UpdateMany handles PATCH /api/:type with a list of documents carrying ids.
func (h *DocumentHandlers) UpdateMany(c *gin.Context) {
	docs, _, err := bindDocuments(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}
	out := make([]documents.Document, 0, len(docs))
	for _, doc := range docs {
		id := documentID(doc)
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "every document needs an id"})
			return
		}
		updated, err := h.repo.Update(c.Request.Context(), c.Param("type"), id, doc)
		if err != nil {
			c.JSON(documentStatus(err), gin.H{"error": err.Error()})
			return
		}
		out = append(out, updated)
	}
	c.JSON(http.StatusOK, out)
}

// Delete handles DELETE /api/:type/:id.
func (h *DocumentHandlers) Delete(c *gin.Context) {
	if err := h.repo.Delete(c.Request.Context(), c.Param("type"), c.Param("id")); err != nil {
		c.JSON(documentStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// BulkDelete handles PATCH or POST /api/:type/delete. The body lists the
// documents, or their ids, to delete.
func (h *DocumentHandlers) BulkDelete(c *gin.Context) {
	var items []any
	if err := c.ShouldBindJSON(&items); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be an array", "details": err.Error()})
		return
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case map[string]any:
			if id := documentID(v); id != "" {
				ids = append(ids, id)
			}
		case string:
			ids = append(ids, v)
		case float64:
			ids = append(ids, documentID(documents.Document{"id": v}))
		}
	}
	n, err := h.repo.DeleteMany(c.Request.Context(), c.Param("type"), ids)
	if err != nil {
		c.JSON(documentStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func documentID(doc map[string]any) string {
	switch id := doc["id"].(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
