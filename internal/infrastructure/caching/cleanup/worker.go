// Package cleanup provides background worker
package cleanup

import (
	"context"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

// Worker periodically expires idle collections and, when verbose, prints a
// store report.
type Worker struct {
	store    *stores.CollectionStore
	config   *Config
	reporter *Reporter
	logger   *logging.ChanneledLogger
}

// NewWorker creates a new cleanup worker with injected configuration
func NewWorker(store *stores.CollectionStore, config *Config, reporter *Reporter, logger *logging.ChanneledLogger) *Worker {
	if logger == nil {
		logger = logging.Discard()
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	return &Worker{
		store:    store,
		config:   config,
		reporter: reporter,
		logger:   logger,
	}
}

// Start begins the cleanup worker routine, using the configured interval
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	w.logger.Cache().Info("Cache cleanup worker started",
		"interval", w.config.CleanupInterval,
		"collectionTTL", w.config.CollectionTTL,
		"verbose", w.config.VerboseReporting)

	for {
		select {
		case <-ctx.Done():
			w.logger.Cache().Info("Cache cleanup worker stopping...")
			return
		case now := <-ticker.C:
			w.performCleanup(now.UTC())
		}
	}
}

// performCleanup expires idle collections and returns their model keys.
func (w *Worker) performCleanup(now time.Time) []string {
	start := time.Now()

	if w.config.VerboseReporting && w.reporter != nil {
		w.reporter.LogStage("PERIODIC CACHE CLEANUP")
		w.reporter.WriteStoreReport(w.store.Name(), w.store.Stats(), now)
	}

	if w.config.CollectionTTL <= 0 {
		return nil
	}
	expired := w.store.ResetIdle(now.Add(-w.config.CollectionTTL))

	duration := time.Since(start)
	if len(expired) > 0 {
		w.logger.Cache().Info("Cache cleanup finished",
			"store", w.store.Name(),
			"expired", expired,
			"duration", duration)
	} else if w.config.VerboseReporting && w.reporter != nil {
		w.reporter.LogInfo("Cache cleanup completed - no idle collections found (%v)", duration)
	}
	return expired
}
