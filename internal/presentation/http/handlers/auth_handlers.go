package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
	"github.com/gin-gonic/gin"
)

// AuthConfig configures token issuing for the development backend.
type AuthConfig struct {
	User         string
	PasswordHash string
	JWTSecret    string
	TTL          time.Duration
}

// AuthHandlers issues bearer tokens for password logins.
type AuthHandlers struct {
	config      AuthConfig
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker
}

// NewAuthHandlers creates auth handlers with injected dependencies
func NewAuthHandlers(config AuthConfig, logger *logging.ChanneledLogger, perfTracker *performance.Tracker) *AuthHandlers {
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	return &AuthHandlers{
		config:      config,
		logger:      logger,
		perfTracker: perfTracker,
	}
}

// LoginRequest is the body of POST /auth/token.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// PostToken checks the password and returns a signed token.
func (h *AuthHandlers) PostToken(c *gin.Context) {
	marker := h.perfTracker.StartOperationWithContext(c.Request.Context(), "post_token_request", "")
	defer h.perfTracker.CompleteOperation(marker)

	if h.config.JWTSecret == "" || h.config.PasswordHash == "" {
		marker.SetSuccess(false)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token issuing is not configured"})
		return
	}

	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		marker.SetSuccess(false)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	if req.Username != h.config.User {
		h.reject(c, req.Username, "unknown user")
		return
	}
	if err := security.CheckPassword(h.config.PasswordHash, req.Password); err != nil {
		reason := "check failed"
		if errors.Is(err, security.ErrPasswordMismatch) {
			reason = "wrong password"
		}
		h.reject(c, req.Username, reason)
		return
	}

	token, err := security.SignToken(req.Username, h.config.JWTSecret, h.config.TTL, nil)
	if err != nil {
		marker.SetError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign token"})
		return
	}
	h.logger.LogAuthOperation("login", req.Username, true, nil)
	c.JSON(http.StatusOK, gin.H{
		"token":     token,
		"tokenType": "Bearer",
		"expiresIn": int(h.config.TTL.Seconds()),
	})
}

func (h *AuthHandlers) reject(c *gin.Context, user, reason string) {
	h.logger.LogAuthOperation("login", user, false, map[string]any{"reason": reason})
	c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
}
