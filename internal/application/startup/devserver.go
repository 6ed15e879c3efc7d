package startup

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	schema "github.com/AtRiskMedia/apistore-go/internal/infrastructure/database"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/persistence/documents"
	"github.com/AtRiskMedia/apistore-go/internal/presentation/http/handlers"
	"github.com/AtRiskMedia/apistore-go/internal/presentation/http/routes"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
)

// InitializeDevServer runs the development backend: a generic JSON document
// API over SQLite or libSQL. It blocks until a shutdown signal arrives.
func InitializeDevServer() error {
	setupLogging()

	start := time.Now().UTC()

	// Step 1: Logger
	log.Println("Initializing logger...")
	logger, err := newLogger(nil)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Close()

	// Step 2: Database connection
	logger.Startup().Info("Opening database", "driver", config.DevServerDBDriver)
	db, err := database.NewConnectionWithLogger(config.DevServerDBDriver, config.DevServerDBDSN, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	// Step 3: Schema
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	tableCreator := schema.NewTableCreator()
	if err := tableCreator.CreateSchema(ctx, db.DB); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Step 4: Seed content
	if config.DevServerSeedFile != "" {
		seed, err := schema.LoadSeedFile(config.DevServerSeedFile)
		if err != nil {
			return fmt.Errorf("failed to load seed file: %w", err)
		}
		inserted, err := tableCreator.SeedInitialContent(ctx, db.DB, seed)
		if err != nil {
			return fmt.Errorf("failed to seed content: %w", err)
		}
		logger.Startup().Info("Seed content applied", "file", config.DevServerSeedFile, "inserted", inserted)
	}

	// Step 5: Repository and routes
	perfTracker := performance.NewTracker(performance.DefaultTrackerConfig(), performance.DefaultAlertThresholds(), logger)
	router := routes.SetupDevServerRoutes(routes.DevServerDeps{
		Repository: documents.NewDocumentRepository(db.DB, logger),
		Auth: handlers.AuthConfig{
			User:         config.DevServerUser,
			PasswordHash: config.DevServerPasswordHash,
			JWTSecret:    config.JWTSecret,
			TTL:          config.JWTTTL,
		},
		CORSOrigins: config.CORSOrigins,
		Logger:      logger,
		PerfTracker: perfTracker,
	})
	if config.JWTSecret == "" {
		logger.Startup().Warn("APISTORE_JWT_SECRET is not set, the document API is open")
	}

	// Step 6: HTTP server
	httpServer := &http.Server{
		Addr:         ":" + config.DevServerPort,
		Handler:      router,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.System().Info("Starting development backend", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	logger.Startup().Info("Development backend startup complete",
		"totalDuration", time.Since(start),
		"port", config.DevServerPort)

	// Step 7: Graceful shutdown
	select {
	case <-gracefulShutdown:
		logger.Shutdown().Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			logger.System().Error("HTTP server failed", "error", err.Error())
			return err
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Shutdown().Error("Error during server shutdown", "error", err.Error())
	}
	logger.Shutdown().Info("Development backend stopped", "totalUptime", time.Since(start))
	return nil
}
