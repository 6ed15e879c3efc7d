// Package container provides dependency injection for one store instance
// and the services built around it.
package container

import (
	"context"
	"fmt"

	"github.com/AtRiskMedia/apistore-go/internal/application/services"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/modifiers"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/normalizer"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/messaging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
)

// Container holds the singleton services and infrastructure of one store.
type Container struct {
	Options config.Options

	// Store core
	Registry   *model.Registry
	Store      *stores.CollectionStore
	Pipeline   *modifiers.Pipeline
	Normalizer *normalizer.Normalizer
	Transport  transport.Transport

	// Services
	EntityService  *services.EntityService
	QueueService   *services.QueueService
	WarmingService *services.WarmingService

	// Realtime and observability
	Hub         *messaging.Hub
	LogFeed     *logging.LogFeed
	Logger      *logging.ChanneledLogger
	PerfTracker *performance.Tracker
}

// Dependencies are the optional collaborators of NewContainer. Nil fields
// are built from the options.
type Dependencies struct {
	Transport   transport.Transport
	Logger      *logging.ChanneledLogger
	LogFeed     *logging.LogFeed
	PerfTracker *performance.Tracker
	Reporter    *cleanup.Reporter
}

// NewContainer wires a store for registry.
func NewContainer(opts config.Options, registry *model.Registry, deps Dependencies) (*Container, error) {
	if registry == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store options: %w", err)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	tracker := deps.PerfTracker
	if tracker == nil {
		thresholds := performance.DefaultAlertThresholds()
		thresholds.SlowResponseThreshold = opts.SlowThreshold
		tracker = performance.NewTracker(nil, thresholds, logger)
	}
	t := deps.Transport
	if t == nil {
		t = NewHTTPTransport(opts, logger)
	}

	store := stores.NewCollectionStore(opts.Name, registry, logger)
	pipeline := modifiers.NewPipeline(registry, logger)
	n := normalizer.New(store, pipeline, logger)
	entityService := services.NewEntityService(n, pipeline, t, opts.BulkDeleteMethod, logger, tracker)

	return &Container{
		Options:        opts,
		Registry:       registry,
		Store:          store,
		Pipeline:       pipeline,
		Normalizer:     n,
		Transport:      t,
		EntityService:  entityService,
		QueueService:   services.NewQueueService(n, pipeline, t, logger, tracker),
		WarmingService: services.NewWarmingService(entityService, caching.NewWarmingLock(), deps.Reporter, logger),
		Hub:            messaging.NewHub(logger),
		LogFeed:        deps.LogFeed,
		Logger:         logger,
		PerfTracker:    tracker,
	}, nil
}

// NewHTTPTransport builds the JSON HTTP transport described by opts. A JWT
// secret takes precedence over a static token.
func NewHTTPTransport(opts config.Options, logger *logging.ChanneledLogger) *transport.HTTPClient {
	var tokens transport.TokenSource
	switch {
	case opts.JWTSecret != "":
		tokens = transport.NewJWTTokenSource(opts.JWTSubject, opts.JWTSecret, opts.JWTTTL)
	case opts.StaticToken != "":
		tokens = transport.StaticToken(opts.StaticToken)
	}
	return transport.NewHTTPClient(transport.HTTPConfig{
		BaseURL:  opts.BaseURL,
		Timeout:  opts.HTTPTimeout,
		DataPath: opts.DataPath,
		Tokens:   tokens,
	}, logger)
}

// StartRealtime runs the change hub and feeds it the store's events until
// ctx is done.
func (c *Container) StartRealtime(ctx context.Context) {
	unsubscribe := c.Store.Subscribe(c.Hub.Publish)
	go func() {
		c.Hub.Run(ctx)
		unsubscribe()
	}()
	c.Logger.Realtime().Info("Change feed started", "store", c.Options.Name)
}
