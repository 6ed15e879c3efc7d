package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

// WarmResult reports one warming run.
type WarmResult struct {
	Warmed   []string      `json:"warmed"`
	Skipped  []string      `json:"skipped,omitempty"`
	Duration time.Duration `json:"duration"`
}

// WarmingService preloads whole collections so the first reads are cache
// hits.
type WarmingService struct {
	entities *EntityService
	lock     *caching.WarmingLock
	reporter *cleanup.Reporter
	logger   *logging.ChanneledLogger
}

// NewWarmingService creates the warming service. A nil reporter disables
// the console summary.
func NewWarmingService(entities *EntityService, lock *caching.WarmingLock, reporter *cleanup.Reporter, logger *logging.ChanneledLogger) *WarmingService {
	if logger == nil {
		logger = logging.Discard()
	}
	if lock == nil {
		lock = caching.NewWarmingLock()
	}
	return &WarmingService{
		entities: entities,
		lock:     lock,
		reporter: reporter,
		logger:   logger,
	}
}

// Warm fetches the collections of modelKeys in parallel. A model already
// being warmed is skipped. Failures are joined; the other models still load.
func (ws *WarmingService) Warm(ctx context.Context, modelKeys ...string) (*WarmResult, error) {
	start := time.Now()
	for _, key := range modelKeys {
		if _, err := ws.entities.registry.Lookup(key); err != nil {
			return nil, modelError("warm", key, err)
		}
	}

	storeName := ws.entities.store.Name()
	warmed := make([]bool, len(modelKeys))
	skipped := make([]bool, len(modelKeys))
	errs := make([]error, len(modelKeys))

	var g errgroup.Group
	for i, key := range modelKeys {
		i, key := i, key
		g.Go(func() error {
			lockKey := storeName + "/" + key
			if !ws.lock.TryLock(lockKey) {
				skipped[i] = true
				return nil
			}
			defer ws.lock.Unlock(lockKey)

			if _, err := ws.entities.Get(ctx, Payload{Type: key}); err != nil {
				errs[i] = fmt.Errorf("failed to warm %s: %w", key, err)
				return nil
			}
			warmed[i] = true
			return nil
		})
	}
	_ = g.Wait()

	result := &WarmResult{Warmed: []string{}, Duration: time.Since(start)}
	for i, key := range modelKeys {
		switch {
		case warmed[i]:
			result.Warmed = append(result.Warmed, key)
		case skipped[i]:
			result.Skipped = append(result.Skipped, key)
		}
	}
	err := errors.Join(errs...)

	ws.logger.Cache().Info("Cache warming completed",
		"store", storeName,
		"warmed", result.Warmed,
		"skipped", result.Skipped,
		"failed", len(modelKeys)-len(result.Warmed)-len(result.Skipped),
		"duration", result.Duration)
	if ws.reporter != nil {
		ws.reporter.LogStage("Cache warming: %d/%d collections loaded in %v", len(result.Warmed), len(modelKeys), result.Duration)
	}
	return result, err
}
