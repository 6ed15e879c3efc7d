// Package handlers provides the HTTP handlers of the store host.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/AtRiskMedia/apistore-go/internal/application/services"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
	"github.com/gin-gonic/gin"
)

// statusFor maps store errors onto HTTP statuses. Upstream API failures are
// reported as 502 with the upstream status in the body.
func statusFor(err error) int {
	var rejected *types.QueueActionRejectedError
	var upstream *transport.Error
	switch {
	case errors.Is(err, model.ErrUnknownModel):
		return http.StatusNotFound
	case errors.As(err, &rejected), errors.Is(err, services.ErrMissingID), errors.Is(err, services.ErrMissingData):
		return http.StatusBadRequest
	case errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	body := gin.H{"error": err.Error()}
	var upstream *transport.Error
	if errors.As(err, &upstream) && upstream.Status != 0 {
		body["upstreamStatus"] = upstream.Status
	}
	c.AbortWithStatusJSON(statusFor(err), body)
}

// readValue decodes the request body into an entity value. An empty body is
// nil.
func readValue(c *gin.Context) (entity.Value, error) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	return entity.Decode(data)
}

// decodeRaw converts a raw JSON field into an entity value.
func decodeRaw(raw json.RawMessage) (entity.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return entity.Decode(raw)
}
