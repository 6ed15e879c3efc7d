// Package routes provides HTTP route configuration for the presentation layer.
package routes

import (
	"github.com/AtRiskMedia/apistore-go/internal/application/container"
	"github.com/AtRiskMedia/apistore-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/apistore-go/internal/presentation/http/middleware"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all HTTP routes and middleware with dependency injection.
// Store routes are mounted under /{store name}.
func SetupRoutes(container *container.Container) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORSMiddleware(config.CORSOrigins))
	r.Use(middleware.RequestContextMiddleware(container.Options.Name, container.Logger, container.PerfTracker))

	// Initialize handlers
	storeHandlers := handlers.NewStoreHandlers(container.EntityService, container.WarmingService, container.Store, container.Logger)
	queueHandlers := handlers.NewQueueHandlers(container.QueueService, container.Store, container.Logger)
	realtimeHandlers := handlers.NewRealtimeHandlers(
		container.Hub,
		container.LogFeed,
		container.Options.Name,
		config.CORSOrigins,
		config.WSPingInterval,
		config.WSWriteTimeout,
		container.Logger,
	)
	systemHandlers := handlers.NewSystemHandlers(container.Store, container.Hub, container.Logger, container.PerfTracker)

	r.GET("/health", systemHandlers.Health)

	api := r.Group("/" + container.Options.Name)
	{
		api.GET("/models", storeHandlers.GetModels)
		api.POST("/reset", storeHandlers.Reset)
		api.POST("/warm", storeHandlers.Warm)

		collections := api.Group("/collections")
		{
			collections.GET("/:model", storeHandlers.GetCollection)
			collections.GET("/:model/:id", storeHandlers.GetItem)
			collections.POST("/:model/fetch", storeHandlers.Fetch)
			collections.POST("/:model", storeHandlers.Post)
			collections.POST("/:model/delete", storeHandlers.BulkDelete)
			collections.PATCH("/:model/:id", storeHandlers.Patch)
			collections.DELETE("/:model/:id", storeHandlers.Delete)
		}

		queue := api.Group("/queue")
		{
			queue.POST("/process", queueHandlers.Process)
			queue.POST("/cancel", queueHandlers.Cancel)
			queue.POST("/reset", queueHandlers.ResetQueue)
			queue.POST("/:model/:action", queueHandlers.QueueAction)
			queue.DELETE("/:model/:action/:id", queueHandlers.CancelAction)
		}

		api.GET("/changes", realtimeHandlers.Changes)
	}

	system := r.Group("/system")
	{
		system.GET("/stats", systemHandlers.Stats)
		system.GET("/logs/stream", realtimeHandlers.StreamLogs)
		system.GET("/logs/levels", systemHandlers.GetLogLevels)
		system.POST("/logs/levels", systemHandlers.SetLogLevel)
	}

	return r
}
