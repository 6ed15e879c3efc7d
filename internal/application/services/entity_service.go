package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/modifiers"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/normalizer"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
)

// EntityService fetches, stores and deletes entities through the transport
// and keeps the collection store in step with the responses.
type EntityService struct {
	store            *stores.CollectionStore
	registry         *model.Registry
	pipeline         *modifiers.Pipeline
	normalizer       *normalizer.Normalizer
	transport        transport.Transport
	bulkDeleteMethod string
	logger           *logging.ChanneledLogger
	perfTracker      *performance.Tracker
}

// NewEntityService creates the fetch/store/delete service. bulkDeleteMethod
// is PATCH or POST.
func NewEntityService(
	n *normalizer.Normalizer,
	pipeline *modifiers.Pipeline,
	t transport.Transport,
	bulkDeleteMethod string,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *EntityService {
	if logger == nil {
		logger = logging.Discard()
	}
	if bulkDeleteMethod == "" {
		bulkDeleteMethod = http.MethodPatch
	}
	return &EntityService{
		store:            n.Store(),
		registry:         n.Store().Registry(),
		pipeline:         pipeline,
		normalizer:       n,
		transport:        t,
		bulkDeleteMethod: bulkDeleteMethod,
		logger:           logger,
		perfTracker:      perfTracker,
	}
}

// Get returns the cached entity for p.ID, or fetches and merges the
// collection or entity when it is not cached, p.ForceFetch is set, or no id
// is given.
func (s *EntityService) Get(ctx context.Context, p Payload) (result entity.Value, err error) {
	m, err := s.registry.Lookup(p.Type)
	if err != nil {
		return nil, modelError("get", p.Type, err)
	}
	op := startOperation(ctx, s.perfTracker, s.store.Name(), "get", m.Key)
	defer func() { op.finish(s.perfTracker, err) }()

	if p.ID != "" && !p.ForceFetch {
		if item, ok := s.store.Item(m.Key, p.ID); ok {
			op.hit()
			s.logger.LogCacheOperation("get", m.Key, p.ID, true, 0)
			return item, nil
		}
	}
	op.miss()

	res, err := s.transport.Request(op.ctx, p.request(http.MethodGet, nil))
	if err != nil {
		return nil, modelError("fetch", m.Key, err)
	}
	hooked, err := s.pipeline.Apply(op.ctx, model.AfterGet, m.Key, res.Data)
	if err != nil {
		return nil, modelError("fetch", m.Key, err)
	}

	clear := p.shouldClear()
	err = s.normalizer.Update(op.ctx, func(tx *normalizer.Tx) error {
		c := tx.Collection(m.Key)
		if clear {
			c.Reset()
			tx.Record(m.Key, stores.ChangeReset)
		}
		result = tx.Merge(m, hooked)
		c.Loaded = true
		return nil
	})
	if err != nil {
		return nil, modelError("fetch", m.Key, err)
	}
	s.logger.LogCacheOperation("fetch", m.Key, p.ID, false, 0)
	return result, nil
}

// Post creates one entity, or several when p.Data is a list, and merges the
// server response.
func (s *EntityService) Post(ctx context.Context, p Payload) (entity.Value, error) {
	return s.save(ctx, "post", http.MethodPost, p)
}

// Create is Post.
func (s *EntityService) Create(ctx context.Context, p Payload) (entity.Value, error) {
	return s.Post(ctx, p)
}

// Patch partially updates an entity, or several when p.Data is a list, and
// merges the server response.
func (s *EntityService) Patch(ctx context.Context, p Payload) (entity.Value, error) {
	return s.save(ctx, "patch", http.MethodPatch, p)
}

// Save is Patch.
func (s *EntityService) Save(ctx context.Context, p Payload) (entity.Value, error) {
	return s.Patch(ctx, p)
}

func (s *EntityService) save(ctx context.Context, name, method string, p Payload) (result entity.Value, err error) {
	m, err := s.registry.Lookup(p.Type)
	if err != nil {
		return nil, modelError(name, p.Type, err)
	}
	if p.Data == nil {
		return nil, modelError(name, m.Key, ErrMissingData)
	}
	op := startOperation(ctx, s.perfTracker, s.store.Name(), name, m.Key)
	defer func() { op.finish(s.perfTracker, err) }()

	body, err := s.pipeline.Apply(op.ctx, model.BeforeSave, m.Key, entity.Clone(p.Data))
	if err != nil {
		return nil, modelError(name, m.Key, err)
	}
	res, err := s.transport.Request(op.ctx, p.request(method, body))
	if err != nil {
		return nil, modelError(name, m.Key, err)
	}
	if entity.IsNull(res.Data) {
		return nil, nil
	}
	result, err = s.normalizer.Ingest(op.ctx, m.Key, res.Data)
	if err != nil {
		return nil, modelError(name, m.Key, err)
	}
	return result, nil
}

// Delete removes one entity by p.ID, or marks every entity in p.Data for
// deletion through the bulk delete subresource. Deleted ids leave both the
// live items and the origin snapshots.
func (s *EntityService) Delete(ctx context.Context, p Payload) (err error) {
	m, err := s.registry.Lookup(p.Type)
	if err != nil {
		return modelError("delete", p.Type, err)
	}
	op := startOperation(ctx, s.perfTracker, s.store.Name(), "delete", m.Key)
	defer func() { op.finish(s.perfTracker, err) }()

	if p.ID != "" {
		if _, err := s.transport.Request(op.ctx, p.request(http.MethodDelete, nil)); err != nil {
			return modelError("delete", m.Key, err)
		}
		return s.normalizer.Remove(op.ctx, m.Key, p.ID)
	}

	ids := collectIDs(p.Data)
	if len(ids) == 0 {
		return modelError("delete", m.Key, ErrMissingID)
	}
	body, err := s.pipeline.Apply(op.ctx, model.BeforeSave, m.Key, entity.Clone(p.Data))
	if err != nil {
		return modelError("delete", m.Key, err)
	}
	req := transport.Request{
		Method:   s.bulkDeleteMethod,
		URL:      p.bulkDeleteURL(),
		Data:     body,
		Header:   p.Header,
		DataPath: p.DataPath,
	}
	if _, err := s.transport.Request(op.ctx, req); err != nil {
		return modelError("delete", m.Key, err)
	}
	s.logger.Cache().Info("Bulk delete confirmed", "model", m.Key, "count", len(ids))
	return s.normalizer.Remove(op.ctx, m.Key, ids...)
}

// Reset resets the named collections, or all of them.
func (s *EntityService) Reset(ctx context.Context, modelKeys ...string) error {
	if err := s.store.Reset(modelKeys...); err != nil {
		return fmt.Errorf("failed to reset collections: %w", err)
	}
	return nil
}

// collectIDs returns the ids of a bulk payload: entities, objects or bare ids.
func collectIDs(v entity.Value) []string {
	var ids []string
	switch typed := v.(type) {
	case entity.List:
		for _, el := range typed {
			ids = append(ids, collectIDs(el)...)
		}
	case entity.String:
		ids = append(ids, string(typed))
	case entity.Number:
		ids = append(ids, entity.IDOf(entity.Object{"id": typed}))
	default:
		if id := entity.IDOf(v); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
