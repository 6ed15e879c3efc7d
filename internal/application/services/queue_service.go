package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/modifiers"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/normalizer"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
)

// QueueService buffers local mutations per model and reconciles them with
// the API.
type QueueService struct {
	store       *stores.CollectionStore
	registry    *model.Registry
	pipeline    *modifiers.Pipeline
	normalizer  *normalizer.Normalizer
	transport   transport.Transport
	logger      *logging.ChanneledLogger
	perfTracker *performance.Tracker

	// newID assigns ids to optimistic creations that arrive without one.
	newID func() string
}

// NewQueueService creates the queue reconciler.
func NewQueueService(
	n *normalizer.Normalizer,
	pipeline *modifiers.Pipeline,
	t transport.Transport,
	logger *logging.ChanneledLogger,
	perfTracker *performance.Tracker,
) *QueueService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &QueueService{
		store:       n.Store(),
		registry:    n.Store().Registry(),
		pipeline:    pipeline,
		normalizer:  n,
		transport:   t,
		logger:      logger,
		perfTracker: perfTracker,
		newID:       security.GenerateULID,
	}
}

// QueueAction queues action for data and applies it optimistically to the
// live collection: a post inserts the item, a patch merges its fields and a
// delete removes the live item. Origin snapshots are kept so the change can
// be cancelled. It returns the queued entry.
func (s *QueueService) QueueAction(ctx context.Context, modelKey, action string, data entity.Value) (*types.QueueEntry, error) {
	m, err := s.registry.Lookup(modelKey)
	if err != nil {
		return nil, modelError("queue action for", modelKey, err)
	}
	kind, err := types.ParseAction(action)
	if err != nil {
		var rejected *types.QueueActionRejectedError
		if errors.As(err, &rejected) {
			rejected.Model = m.Key
		}
		s.logger.Queue().Warn("Queue action rejected", "model", m.Key, "action", action, "error", err.Error())
		return nil, err
	}
	if data == nil {
		return nil, modelError("queue action for", m.Key, ErrMissingData)
	}
	ctx = logging.WithWarningScope(logging.WithStoreName(ctx, s.store.Name()))

	raw := entity.Promote(entity.Clone(data))
	id := entity.IDOf(raw)
	if id == "" {
		if kind != types.ActionPost {
			return nil, modelError("queue "+string(kind)+" for", m.Key, ErrMissingID)
		}
		e, ok := raw.(*entity.Entity)
		if !ok {
			return nil, modelError("queue post for", m.Key, fmt.Errorf("cannot assign an id to %T", raw))
		}
		id = s.newID()
		e.Set("id", entity.String(id))
	}

	saved, err := s.pipeline.Apply(ctx, model.BeforeSave, m.Key, entity.Clone(raw))
	if err != nil {
		return nil, modelError("queue action for", m.Key, err)
	}
	var live entity.Value
	if kind != types.ActionDelete {
		if live, err = s.pipeline.Apply(ctx, model.AfterGet, m.Key, raw); err != nil {
			return nil, modelError("queue action for", m.Key, err)
		}
	}

	entry := &types.QueueEntry{ID: id, Type: m.Key, Action: kind, Data: saved, QueuedAt: time.Now().UTC()}
	err = s.normalizer.Update(ctx, func(tx *normalizer.Tx) error {
		switch kind {
		case types.ActionPost, types.ActionPatch:
			tx.MergeOptimistic(m, live)
		case types.ActionDelete:
			tx.RemoveItem(m.Key, id)
		}
		if err := tx.Collection(m.Key).ActionQueue.Put(entry); err != nil {
			return err
		}
		tx.Record(m.Key, stores.ChangeQueued, id)
		return nil
	})
	if err != nil {
		return nil, modelError("queue action for", m.Key, err)
	}
	s.logger.Queue().Debug("Action queued", "model", m.Key, "action", string(kind), "id", id)
	return entry, nil
}

// CancelAction drops the queued action for id and undoes its optimistic
// change. It reports whether an entry was queued.
func (s *QueueService) CancelAction(ctx context.Context, modelKey, action, id string) (bool, error) {
	m, err := s.registry.Lookup(modelKey)
	if err != nil {
		return false, modelError("cancel action for", modelKey, err)
	}
	kind, err := types.ParseAction(action)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, modelError("cancel action for", m.Key, ErrMissingID)
	}

	var cancelled bool
	err = s.normalizer.Update(ctx, func(tx *normalizer.Tx) error {
		c := tx.Collection(m.Key)
		if len(c.ActionQueue.Remove(kind, id)) == 0 {
			return nil
		}
		cancelled = true
		if !tx.Revert(m.Key, id) && kind == types.ActionPost {
			tx.RemoveItem(m.Key, id)
		}
		tx.Record(m.Key, stores.ChangeUnqueued, id)
		return nil
	})
	if err != nil {
		return false, modelError("cancel action for", m.Key, err)
	}
	if cancelled {
		s.logger.Queue().Debug("Action cancelled", "model", m.Key, "action", string(kind), "id", id)
	}
	return cancelled, nil
}

// ResetQueue reverts every queued patch from its origin snapshot and empties
// the queue of each model. Queue-reset callbacks run afterwards.
func (s *QueueService) ResetQueue(ctx context.Context, modelKeys ...string) error {
	keys, err := s.keys(modelKeys)
	if err != nil {
		return err
	}
	return s.normalizer.Update(ctx, func(tx *normalizer.Tx) error {
		for _, key := range keys {
			c := tx.Collection(key)
			for _, id := range c.ActionQueue.IDs(types.ActionPatch) {
				tx.Revert(key, id)
			}
			for _, action := range types.Actions {
				c.ActionQueue.Clear(action)
			}
			tx.Record(key, stores.ChangeQueueReset)
			tx.AfterCommit(c.NotifyQueueReset)
		}
		return nil
	})
}

// ProcessQueue sends every queued action of the given models to the API.
// Models are drained in parallel and the entries of one model concurrently.
// Each entry that succeeds has its response merged and leaves the queue;
// failed entries stay queued and their errors are joined into the result.
func (s *QueueService) ProcessQueue(ctx context.Context, modelKeys ...string) error {
	keys, err := s.keys(modelKeys)
	if err != nil {
		return err
	}
	errs := make([]error, len(keys))
	var g errgroup.Group
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			errs[i] = s.processModel(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *QueueService) processModel(ctx context.Context, modelKey string) (err error) {
	m, _ := s.registry.Get(modelKey)
	c := s.store.MustCollection(modelKey)

	s.store.Mu.RLock()
	entries := c.ActionQueue.Entries()
	s.store.Mu.RUnlock()
	if len(entries) == 0 {
		return nil
	}

	op := startOperation(ctx, s.perfTracker, s.store.Name(), performance.OperationName("queue", "process"), m.Key)
	defer func() { op.finish(s.perfTracker, err) }()
	op.annotate("entries", len(entries))

	errs := make([]error, len(entries))
	var g errgroup.Group
	for i, entry := range entries {
		i, entry := i, entry
		g.Go(func() error {
			errs[i] = s.processEntry(op.ctx, m, entry)
			return nil
		})
	}
	_ = g.Wait()

	err = s.normalizer.Update(op.ctx, func(tx *normalizer.Tx) error {
		if !c.HasAction() {
			tx.Record(m.Key, stores.ChangeQueueReset)
			tx.AfterCommit(c.NotifyQueueReset)
		}
		return nil
	})
	if joined := errors.Join(errs...); joined != nil {
		s.logger.Queue().Warn("Queue processed with failures", "model", m.Key, "entries", len(entries), "error", joined.Error())
		return joined
	}
	s.logger.Queue().Info("Queue processed", "model", m.Key, "entries", len(entries))
	return err
}

func (s *QueueService) processEntry(ctx context.Context, m *model.Model, entry *types.QueueEntry) error {
	var req transport.Request
	switch entry.Action {
	case types.ActionPost:
		req = transport.Request{Method: http.MethodPost, URL: transport.FormatURL(m.Key, "", "", nil), Data: entry.Data}
	case types.ActionPatch:
		req = transport.Request{Method: http.MethodPatch, URL: transport.FormatURL(m.Key, entry.ID, "", nil), Data: entry.Data}
	case types.ActionDelete:
		req = transport.Request{Method: http.MethodDelete, URL: transport.FormatURL(m.Key, entry.ID, "", nil)}
	}

	res, err := s.transport.Request(ctx, req)
	if err != nil {
		s.logger.Queue().Warn("Queued action failed", "model", m.Key, "action", string(entry.Action), "id", entry.ID, "error", err.Error())
		return fmt.Errorf("failed to %s %s %s: %w", entry.Action, m.Key, entry.ID, err)
	}

	var hooked entity.Value
	if entry.Action != types.ActionDelete && !entity.IsNull(res.Data) {
		if hooked, err = s.pipeline.Apply(ctx, model.AfterGet, m.Key, res.Data); err != nil {
			return err
		}
	}
	confirmed := entry.ID
	if id := entity.IDOf(hooked); id != "" {
		confirmed = id
	}

	err = s.normalizer.Update(ctx, func(tx *normalizer.Tx) error {
		switch entry.Action {
		case types.ActionPost:
			if confirmed != entry.ID {
				tx.Remove(m.Key, entry.ID)
			}
			if !entity.IsNull(hooked) {
				tx.Merge(m, hooked)
			}
		case types.ActionPatch:
			if !entity.IsNull(hooked) {
				tx.Merge(m, hooked)
			}
		case types.ActionDelete:
			tx.Remove(m.Key, entry.ID)
		}
		if tx.Collection(m.Key).ActionQueue.RemoveEntry(entry) {
			tx.Record(m.Key, stores.ChangeUnqueued, entry.ID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	// A confirmed change without a response body becomes the new baseline.
	if entity.IsNull(hooked) && entry.Action != types.ActionDelete {
		return s.normalizer.Snapshot(ctx, m.Key, entry.ID)
	}
	return nil
}

// CancelQueue abandons every queued action of the given models. The origin
// snapshots of the queued ids pass through afterQueue and are merged back so
// optimistic edits and deletions are undone; optimistic creations without a
// snapshot are removed. Queue-reset callbacks run afterwards.
func (s *QueueService) CancelQueue(ctx context.Context, modelKeys ...string) error {
	keys, err := s.keys(modelKeys)
	if err != nil {
		return err
	}
	errs := make([]error, len(keys))
	var g errgroup.Group
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			errs[i] = s.cancelModel(ctx, key)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (s *QueueService) cancelModel(ctx context.Context, modelKey string) (err error) {
	m, _ := s.registry.Get(modelKey)
	c := s.store.MustCollection(modelKey)

	s.store.Mu.RLock()
	entries := c.ActionQueue.Entries()
	var origins entity.List
	var orphans []string
	seen := make(map[string]bool)
	for _, e := range entries {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		if origin, ok := c.OriginItems[e.ID]; ok {
			origins = append(origins, entity.Clone(origin))
		} else {
			orphans = append(orphans, e.ID)
		}
	}
	s.store.Mu.RUnlock()
	if len(entries) == 0 {
		return nil
	}

	op := startOperation(ctx, s.perfTracker, s.store.Name(), performance.OperationName("queue", "cancel"), m.Key)
	defer func() { op.finish(s.perfTracker, err) }()

	restored, err := s.pipeline.Apply(op.ctx, model.AfterQueue, m.Key, origins)
	if err != nil {
		return err
	}
	err = s.normalizer.Update(op.ctx, func(tx *normalizer.Tx) error {
		for _, e := range entries {
			c.ActionQueue.RemoveEntry(e)
		}
		for _, id := range orphans {
			tx.RemoveItem(m.Key, id)
		}
		if len(origins) > 0 {
			tx.Merge(m, restored)
		}
		tx.Record(m.Key, stores.ChangeQueueReset)
		tx.AfterCommit(c.NotifyQueueReset)
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Queue().Info("Queue cancelled", "model", m.Key, "entries", len(entries), "restored", len(origins))
	return nil
}

// OnQueueReset registers fn to run after the queue of modelKey is reset,
// drained or cancelled.
func (s *QueueService) OnQueueReset(modelKey string, fn func()) error {
	if _, err := s.registry.Lookup(modelKey); err != nil {
		return err
	}
	c := s.store.MustCollection(modelKey)
	s.store.Mu.Lock()
	c.OnQueueReset(fn)
	s.store.Mu.Unlock()
	return nil
}

// keys validates model keys; none means every model.
func (s *QueueService) keys(modelKeys []string) ([]string, error) {
	if len(modelKeys) == 0 {
		return s.registry.Keys(), nil
	}
	for _, key := range modelKeys {
		if _, err := s.registry.Lookup(key); err != nil {
			return nil, err
		}
	}
	return modelKeys, nil
}
