// Package apistore is a normalized client-side cache for REST resources.
//
// Models are declared in a Registry. Fetched payloads are split along the
// declared references so that every entity is stored once per model and
// shared by reference. Local changes can be applied optimistically through a
// per-model action queue and later sent to the API or cancelled.
//
//	reg := apistore.MustRegistry(
//		apistore.Model{Key: "user"},
//		apistore.Model{Key: "resource", References: map[string]string{"user": "user"}},
//	)
//	store, err := apistore.New(reg, nil, apistore.Options{BaseURL: "https://example.com/api"})
//	resources, err := store.Get(ctx, apistore.Payload{Type: "resource"})
package apistore

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/application/container"
	"github.com/AtRiskMedia/apistore-go/internal/application/services"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
)

type (
	Options        = config.Options
	Payload        = services.Payload
	Model          = model.Model
	Registry       = model.Registry
	Hook           = model.Hook
	ModifierName   = model.ModifierName
	Value          = entity.Value
	Entity         = entity.Entity
	List           = entity.List
	Opaque         = entity.Opaque
	Transport      = transport.Transport
	Request        = transport.Request
	Response       = transport.Response
	TransportError = transport.Error
	Action         = types.Action
	QueueEntry     = types.QueueEntry
	CollectionView = types.CollectionView
	WarmResult     = services.WarmResult
	ChangeEvent    = stores.ChangeEvent
	ChangeKind     = stores.ChangeKind
	Logger         = logging.ChanneledLogger
	Tracker        = performance.Tracker

	QueueActionRejectedError = types.QueueActionRejectedError
	ReferenceNotFoundError   = model.ReferenceNotFoundError
)

const (
	AfterGet    = model.AfterGet
	BeforeSave  = model.BeforeSave
	BeforeQueue = model.BeforeQueue
	AfterQueue  = model.AfterQueue

	ActionPost   = types.ActionPost
	ActionPatch  = types.ActionPatch
	ActionDelete = types.ActionDelete
)

var (
	ErrUnknownModel = model.ErrUnknownModel
	ErrMissingID    = services.ErrMissingID
	ErrMissingData  = services.ErrMissingData
)

// NewRegistry validates models and builds a registry.
func NewRegistry(models ...Model) (*Registry, error) { return model.NewRegistry(models...) }

// MustRegistry is NewRegistry that panics on invalid declarations.
func MustRegistry(models ...Model) *Registry { return model.MustRegistry(models...) }

// LoadRegistryFile reads a YAML or JSON registry declaration.
func LoadRegistryFile(path string) (*Registry, error) { return model.LoadRegistryFile(path) }

// Decode parses JSON into a Value.
func Decode(data []byte) (Value, error) { return entity.Decode(data) }

// Bool returns a pointer to b, for Payload.Clear.
func Bool(b bool) *bool { return services.Bool(b) }

// Option customizes New.
type Option func(*container.Dependencies)

// WithLogger sets the logger. The default discards output.
func WithLogger(logger *Logger) Option {
	return func(d *container.Dependencies) { d.Logger = logger }
}

// WithTracker sets the performance tracker.
func WithTracker(tracker *Tracker) Option {
	return func(d *container.Dependencies) { d.PerfTracker = tracker }
}

// Store is one namespaced cache instance.
type Store struct {
	c *container.Container
}

// New creates a store. When t is nil requests go over HTTP to opts.BaseURL.
func New(registry *Registry, t Transport, opts Options, options ...Option) (*Store, error) {
	deps := container.Dependencies{Transport: t}
	for _, o := range options {
		o(&deps)
	}
	c, err := container.NewContainer(opts, registry, deps)
	if err != nil {
		return nil, err
	}
	return &Store{c: c}, nil
}

// Name returns the store namespace.
func (s *Store) Name() string { return s.c.Options.Name }

// Registry returns the model registry.
func (s *Store) Registry() *Registry { return s.c.Registry }

// Get returns a cached entity by id or fetches and caches the model's
// collection or entity.
func (s *Store) Get(ctx context.Context, p Payload) (Value, error) {
	return s.c.EntityService.Get(ctx, p)
}

// Post creates entities through the API and caches the response.
func (s *Store) Post(ctx context.Context, p Payload) (Value, error) {
	return s.c.EntityService.Post(ctx, p)
}

// Create is Post.
func (s *Store) Create(ctx context.Context, p Payload) (Value, error) {
	return s.c.EntityService.Create(ctx, p)
}

// Patch updates entities through the API and caches the response.
func (s *Store) Patch(ctx context.Context, p Payload) (Value, error) {
	return s.c.EntityService.Patch(ctx, p)
}

// Save is Patch.
func (s *Store) Save(ctx context.Context, p Payload) (Value, error) {
	return s.c.EntityService.Save(ctx, p)
}

// Delete removes one entity by p.ID, or every entity in p.Data with a bulk
// request.
func (s *Store) Delete(ctx context.Context, p Payload) error {
	return s.c.EntityService.Delete(ctx, p)
}

// QueueAction applies action optimistically and queues it for
// ProcessActionQueue.
func (s *Store) QueueAction(ctx context.Context, modelKey string, action Action, data Value) (*QueueEntry, error) {
	return s.c.QueueService.QueueAction(ctx, modelKey, string(action), data)
}

// ProcessActionQueue sends the queued actions of the given models, or of
// every model, to the API.
func (s *Store) ProcessActionQueue(ctx context.Context, modelKeys ...string) error {
	return s.c.QueueService.ProcessQueue(ctx, modelKeys...)
}

// CancelAction drops one queued action and restores the item's snapshot.
func (s *Store) CancelAction(ctx context.Context, modelKey string, action Action, id string) (bool, error) {
	return s.c.QueueService.CancelAction(ctx, modelKey, string(action), id)
}

// CancelActionQueue drops every queued action of the given models and
// restores their snapshots.
func (s *Store) CancelActionQueue(ctx context.Context, modelKeys ...string) error {
	return s.c.QueueService.CancelQueue(ctx, modelKeys...)
}

// ResetActionQueue reverts queued patches and empties the queues.
func (s *Store) ResetActionQueue(ctx context.Context, modelKeys ...string) error {
	return s.c.QueueService.ResetQueue(ctx, modelKeys...)
}

// OnQueueReset registers fn to run whenever the model's queue is emptied.
func (s *Store) OnQueueReset(modelKey string, fn func()) error {
	return s.c.QueueService.OnQueueReset(modelKey, fn)
}

// Reset clears the given collections, or all of them.
func (s *Store) Reset(ctx context.Context, modelKeys ...string) error {
	return s.c.EntityService.Reset(ctx, modelKeys...)
}

// Warm fetches whole collections ahead of the first read.
func (s *Store) Warm(ctx context.Context, modelKeys ...string) (*WarmResult, error) {
	return s.c.WarmingService.Warm(ctx, modelKeys...)
}

// Collection returns a copy of the model's collection containers. The items
// are the live entities.
func (s *Store) Collection(modelKey string) (CollectionView, bool) {
	return s.c.Store.View(modelKey)
}

// Item returns the live cached item.
func (s *Store) Item(modelKey, id string) (Value, bool) {
	return s.c.Store.Item(modelKey, id)
}

// Subscribe registers fn for change events. It runs after each mutation,
// outside the store lock.
func (s *Store) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	return s.c.Store.Subscribe(fn)
}

// SetWindow records the time range a collection was loaded for.
func (s *Store) SetWindow(modelKey string, from, to time.Time) error {
	return s.c.Store.SetWindow(modelKey, from, to)
}

// NewLogger returns a JSON logger writing every channel at level and above
// to w.
func NewLogger(w io.Writer, level slog.Level) *Logger { return logging.NewWriterLogger(w, level) }
