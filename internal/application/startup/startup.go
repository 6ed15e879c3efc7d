// Package startup prepares the application servers
package startup

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/application/container"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/presentation/http/server"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
	"github.com/gin-gonic/gin"
)

// Initialize performs the store host startup sequence and blocks until a
// shutdown signal arrives.
func Initialize() error {
	setupLogging()

	start := time.Now().UTC()

	ctx, cancelBackgroundTasks := context.WithCancel(context.Background())
	defer cancelBackgroundTasks()

	// Step 1: Channeled logger with a live feed for /system/logs/stream
	log.Println("Initializing logger...")
	feed := logging.NewLogFeed()
	logger, err := newLogger(feed)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	// Step 2: Load the model registry
	logger.Startup().Info("Loading model registry", "file", config.ModelsFile)
	registry, err := model.LoadRegistryFile(config.ModelsFile)
	if err != nil {
		return fmt.Errorf("failed to load model registry: %w", err)
	}
	logger.Startup().Info("Model registry loaded", "models", registry.Keys())

	// Step 3: Create dependency injection container
	opts := config.DefaultOptions()
	reporter := cleanup.NewReporter(nil)
	appContainer, err := container.NewContainer(opts, registry, container.Dependencies{
		Logger:   logger,
		LogFeed:  feed,
		Reporter: reporter,
	})
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	logger.Startup().Info("Container initialized",
		"store", appContainer.Options.Name,
		"baseURL", appContainer.Options.BaseURL,
		"bulkDeleteMethod", appContainer.Options.BulkDeleteMethod)

	// Step 4: Start the change feed and the cleanup worker
	appContainer.StartRealtime(ctx)
	cleanupWorker := cleanup.NewWorker(appContainer.Store, cleanup.NewConfig(), reporter, logger)
	go cleanupWorker.Start(ctx)

	// Step 5: Warm configured collections
	if len(config.WarmModels) > 0 {
		warmCtx, cancelWarm := context.WithTimeout(ctx, 2*appContainer.Options.HTTPTimeout)
		if _, err := appContainer.WarmingService.Warm(warmCtx, config.WarmModels...); err != nil {
			logger.Startup().Warn("Cache warming incomplete", "error", err.Error())
		}
		cancelWarm()
	}

	// Step 6: Start HTTP server
	startServerTime := time.Now()
	httpServer := server.New(config.Port, appContainer)
	logger.Startup().Info("HTTP server initialized", "port", config.Port, "duration", time.Since(startServerTime))

	// Step 7: Setup graceful shutdown
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- httpServer.Start()
	}()

	logger.Startup().Info("Application startup complete",
		"totalDuration", time.Since(start),
		"models", registry.Len(),
		"port", config.Port)

	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			return err
		}
	}

	shutdownStart := time.Now()
	cancelBackgroundTasks()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	} else {
		logger.Shutdown().Info("HTTP server stopped successfully")
	}

	logger.Shutdown().Info("Application shutdown complete",
		"totalUptime", time.Since(start),
		"shutdownDuration", time.Since(shutdownStart))

	return nil
}

// newLogger builds the channeled logger from the logging settings.
func newLogger(feed *logging.LogFeed) (*logging.ChanneledLogger, error) {
	cfg := logging.DefaultLoggerConfig()
	cfg.DefaultLevel = logging.ParseLevel(config.LogLevel)
	cfg.OutputToFile = config.LogToFile
	cfg.LogDirectory = config.LogDirectory
	cfg.Feed = feed
	return logging.NewChanneledLogger(cfg)
}

// setupLogging configures application logging
func setupLogging() {
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}
