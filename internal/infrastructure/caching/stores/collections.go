// Package stores provides the concrete collection store backing the entity cache
package stores

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

// ChangeKind names a collection mutation.
type ChangeKind string

const (
	ChangeMerged     ChangeKind = "merged"
	ChangeRemoved    ChangeKind = "removed"
	ChangeQueued     ChangeKind = "queued"
	ChangeUnqueued   ChangeKind = "unqueued"
	ChangeQueueReset ChangeKind = "queue_reset"
	ChangeReset      ChangeKind = "reset"
	ChangeWindow     ChangeKind = "window"
)

// ChangeEvent describes a mutation of one collection.
type ChangeEvent struct {
	Store string     `json:"store,omitempty"`
	Model string     `json:"model"`
	Kind  ChangeKind `json:"kind"`
	IDs   []string   `json:"ids,omitempty"`
	At    time.Time  `json:"at"`
}

// CollectionStats is a summary of one collection.
type CollectionStats struct {
	Model     string    `json:"model"`
	Plural    string    `json:"plural"`
	Items     int       `json:"items"`
	Origins   int       `json:"origins"`
	Queued    int       `json:"queued"`
	Loaded    bool      `json:"loaded"`
	LastLoad  time.Time `json:"lastLoad"`
	HasAction bool      `json:"hasAction"`
}

// CollectionStore holds one EntityCollection per registered model. The set
// of collections is fixed at construction; their contents are guarded by Mu.
type CollectionStore struct {
	Mu sync.RWMutex // Exported for the normalizer and reconciler

	name        string
	registry    *model.Registry
	collections map[string]*types.EntityCollection
	logger      *logging.ChanneledLogger

	subMu       sync.RWMutex
	subscribers map[int]func(ChangeEvent)
	nextSub     int
}

// NewCollectionStore creates an empty collection for every model in the
// registry.
func NewCollectionStore(name string, registry *model.Registry, logger *logging.ChanneledLogger) *CollectionStore {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &CollectionStore{
		name:        name,
		registry:    registry,
		collections: make(map[string]*types.EntityCollection, registry.Len()),
		logger:      logger,
		subscribers: make(map[int]func(ChangeEvent)),
	}
	for _, key := range registry.Keys() {
		m, _ := registry.Get(key)
		s.collections[key] = types.NewEntityCollection(m.Key, m.Plural)
	}
	logger.Cache().Info("Collection store initialized", "store", name, "models", registry.Keys())
	return s
}

// Name returns the store namespace.
func (s *CollectionStore) Name() string { return s.name }

// Registry returns the model registry the store was built from.
func (s *CollectionStore) Registry() *model.Registry { return s.registry }

// Collection returns the live collection for a model key. Callers must hold
// Mu while reading or writing its contents.
func (s *CollectionStore) Collection(modelKey string) (*types.EntityCollection, bool) {
	c, ok := s.collections[modelKey]
	return c, ok
}

// MustCollection is Collection for keys already validated against the
// registry.
func (s *CollectionStore) MustCollection(modelKey string) *types.EntityCollection {
	c, ok := s.collections[modelKey]
	if !ok {
		panic(fmt.Sprintf("no collection for model %s", modelKey))
	}
	return c
}

// ByPlural returns the live collection whose plural name matches.
func (s *CollectionStore) ByPlural(plural string) (*types.EntityCollection, bool) {
	m, ok := s.registry.ByPlural(plural)
	if !ok {
		return nil, false
	}
	return s.Collection(m.Key)
}

// Item returns the cached value for id.
func (s *CollectionStore) Item(modelKey, id string) (entity.Value, bool) {
	c, ok := s.collections[modelKey]
	if !ok {
		return nil, false
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	v, ok := c.Items[id]
	return v, ok
}

// Entity returns the cached entity for id when the item is a record.
func (s *CollectionStore) Entity(modelKey, id string) (*entity.Entity, bool) {
	v, ok := s.Item(modelKey, id)
	if !ok {
		return nil, false
	}
	e, ok := v.(*entity.Entity)
	return e, ok
}

// Origin returns the origin snapshot for id.
func (s *CollectionStore) Origin(modelKey, id string) (entity.Value, bool) {
	c, ok := s.collections[modelKey]
	if !ok {
		return nil, false
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	v, ok := c.OriginItems[id]
	return v, ok
}

// IDs returns the cached ids of a model in sorted order.
func (s *CollectionStore) IDs(modelKey string) []string {
	c, ok := s.collections[modelKey]
	if !ok {
		return nil
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return c.IDs()
}

// Len returns the number of cached items of a model.
func (s *CollectionStore) Len(modelKey string) int {
	c, ok := s.collections[modelKey]
	if !ok {
		return 0
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return len(c.Items)
}

// HasAction reports whether a model has queued actions.
func (s *CollectionStore) HasAction(modelKey string) bool {
	c, ok := s.collections[modelKey]
	if !ok {
		return false
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return c.HasAction()
}

// HasQueued reports whether id is queued under any action.
func (s *CollectionStore) HasQueued(modelKey, id string) bool {
	c, ok := s.collections[modelKey]
	if !ok {
		return false
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return c.ActionQueue.HasID(id)
}

// QueueSnapshot returns a copy of a model's queue.
func (s *CollectionStore) QueueSnapshot(modelKey string) *types.ActionQueue {
	c, ok := s.collections[modelKey]
	if !ok {
		return types.NewActionQueue()
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return c.ActionQueue.Copy()
}

// View returns a point-in-time view of a collection.
func (s *CollectionStore) View(modelKey string) (types.CollectionView, bool) {
	c, ok := s.collections[modelKey]
	if !ok {
		return types.CollectionView{}, false
	}
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	return c.View(), true
}

// Stats summarizes every collection, sorted by model key.
func (s *CollectionStore) Stats() []CollectionStats {
	s.Mu.RLock()
	defer s.Mu.RUnlock()
	out := make([]CollectionStats, 0, len(s.collections))
	for _, key := range s.registry.Keys() {
		c := s.collections[key]
		out = append(out, CollectionStats{
			Model:     c.Model,
			Plural:    c.Plural,
			Items:     len(c.Items),
			Origins:   len(c.OriginItems),
			Queued:    c.ActionQueue.Len(),
			Loaded:    c.Loaded,
			LastLoad:  c.LastLoad,
			HasAction: c.HasAction(),
		})
	}
	return out
}

// Reset resets the named collections, or every collection when no key is
// given. Unknown keys are an error and nothing is reset.
func (s *CollectionStore) Reset(modelKeys ...string) error {
	if len(modelKeys) == 0 {
		modelKeys = s.registry.Keys()
	}
	for _, key := range modelKeys {
		if _, ok := s.collections[key]; !ok {
			return fmt.Errorf("%w: %s", model.ErrUnknownModel, key)
		}
	}

	s.Mu.Lock()
	for _, key := range modelKeys {
		s.collections[key].Reset()
	}
	s.Mu.Unlock()

	for _, key := range modelKeys {
		s.logger.Cache().Info("Collection reset", "store", s.name, "model", key)
		s.Emit(ChangeEvent{Model: key, Kind: ChangeReset})
	}
	return nil
}

// ResetIdle resets every loaded collection whose last load is before cutoff
// and returns the reset model keys. Collections with queued actions are kept.
func (s *CollectionStore) ResetIdle(cutoff time.Time) []string {
	var expired []string
	s.Mu.Lock()
	for _, key := range s.registry.Keys() {
		c := s.collections[key]
		if !c.Loaded || c.HasAction() || !c.LastLoad.Before(cutoff) {
			continue
		}
		c.Reset()
		expired = append(expired, key)
	}
	s.Mu.Unlock()

	for _, key := range expired {
		s.logger.Cache().Info("Idle collection expired", "store", s.name, "model", key)
		s.Emit(ChangeEvent{Model: key, Kind: ChangeReset})
	}
	return expired
}

// SetWindow records the time window the collection was loaded for.
func (s *CollectionStore) SetWindow(modelKey string, from, to time.Time) error {
	c, ok := s.collections[modelKey]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownModel, modelKey)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("window end %s is before start %s", to.Format(time.RFC3339), from.Format(time.RFC3339))
	}
	s.Mu.Lock()
	c.From = from
	c.To = to
	s.Mu.Unlock()
	s.Emit(ChangeEvent{Model: modelKey, Kind: ChangeWindow})
	return nil
}

// Subscribe registers fn for change events and returns a function that
// removes it. Callbacks run synchronously after the mutation, outside Mu.
func (s *CollectionStore) Subscribe(fn func(ChangeEvent)) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
		})
	}
}

// Emit delivers an event to subscribers. It must not be called while
// holding Mu.
func (s *CollectionStore) Emit(ev ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if ev.Store == "" {
		ev.Store = s.name
	}
	if len(ev.IDs) > 1 {
		ids := append([]string(nil), ev.IDs...)
		sort.Strings(ids)
		ev.IDs = ids
	}

	s.subMu.RLock()
	keys := make([]int, 0, len(s.subscribers))
	for id := range s.subscribers {
		keys = append(keys, id)
	}
	sort.Ints(keys)
	fns := make([]func(ChangeEvent), 0, len(keys))
	for _, id := range keys {
		fns = append(fns, s.subscribers[id])
	}
	s.subMu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
