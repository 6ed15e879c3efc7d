// Package middleware provides HTTP middleware for the presentation layer.
package middleware

import (
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
	"github.com/gin-gonic/gin"
)

// RequestIDHeader carries the request id in and out.
const RequestIDHeader = "X-Request-ID"

// RequestContextMiddleware attaches the store name, a request id and a
// warning scope to the request context, and tracks the request duration.
func RequestContextMiddleware(storeName string, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = security.GenerateULID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := logging.WithWarningScope(c.Request.Context())
		ctx = logging.WithStoreName(ctx, storeName)
		ctx = logging.WithRequestID(ctx, requestID)
		c.Request = c.Request.WithContext(ctx)

		marker := perfTracker.StartOperationWithContext(ctx, "http_request", "")
		marker.AddMetadata("path", c.FullPath())
		marker.AddMetadata("method", c.Request.Method)

		c.Next()

		status := c.Writer.Status()
		marker.AddMetadata("status", status)
		marker.SetSuccess(status < 500)
		perfTracker.CompleteOperation(marker)

		duration := time.Since(start)
		threshold := perfTracker.Thresholds().SlowResponseThreshold
		if duration > threshold && !c.IsWebsocket() && c.GetHeader("Accept") != "text/event-stream" {
			logger.LogSlowRequest(c.Request.Method+" "+c.FullPath(), duration, threshold, map[string]any{
				"status":    status,
				"requestId": requestID,
			})
		}
	}
}
