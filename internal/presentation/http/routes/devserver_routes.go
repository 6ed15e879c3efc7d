package routes

import (
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/persistence/documents"
	"github.com/AtRiskMedia/apistore-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/apistore-go/internal/presentation/http/middleware"
	"github.com/gin-gonic/gin"
)

// DevServerDeps holds what the development backend routes need.
type DevServerDeps struct {
	Repository  *documents.DocumentRepository
	Auth        handlers.AuthConfig
	CORSOrigins []string
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
}

// SetupDevServerRoutes configures the generic document API. Every /api route
// requires a bearer token when a jwt secret is configured.
func SetupDevServerRoutes(deps DevServerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(deps.CORSOrigins))
	r.Use(middleware.RequestContextMiddleware("devserver", deps.Logger, deps.PerfTracker))

	documentHandlers := handlers.NewDocumentHandlers(deps.Repository, deps.Logger)
	authHandlers := handlers.NewAuthHandlers(deps.Auth, deps.Logger, deps.PerfTracker)

	r.POST("/auth/token", authHandlers.PostToken)

	api := r.Group("/api")
	api.Use(middleware.JWTAuthMiddleware(deps.Auth.JWTSecret, deps.Logger))
	{
		api.GET("/:type", documentHandlers.List)
		api.POST("/:type", documentHandlers.Create)
		api.PATCH("/:type", documentHandlers.UpdateMany)
		api.PATCH("/:type/delete", documentHandlers.BulkDelete)
		api.POST("/:type/delete", documentHandlers.BulkDelete)
		api.GET("/:type/:id", documentHandlers.Get)
		api.PATCH("/:type/:id", documentHandlers.Update)
		api.DELETE("/:type/:id", documentHandlers.Delete)
	}

	return r
}
