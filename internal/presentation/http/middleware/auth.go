package middleware

import (
	"net/http"
	"strings"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
	"github.com/gin-gonic/gin"
)

// SubjectKey is the gin context key holding the authenticated subject.
const SubjectKey = "subject"

// JWTAuthMiddleware requires a valid HS256 bearer token signed with secret.
// An empty secret disables the check.
func JWTAuthMiddleware(secret string, logger *logging.ChanneledLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			logger.LogAuthOperation("validate", "", false, map[string]any{"path": c.Request.URL.Path, "reason": "missing bearer token"})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}
		claims, err := security.ValidateJWT(token, secret)
		if err != nil {
			logger.LogAuthOperation("validate", "", false, map[string]any{"path": c.Request.URL.Path, "error": err.Error()})
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(SubjectKey, security.SubjectFromClaims(claims))
		c.Next()
	}
}
