// Package normalizer merges API payloads into the collection store, sharing
// one live entity per (model, id) and keeping origin snapshots for revert.
package normalizer

import (
	"context"
	"sort"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/modifiers"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

// Normalizer owns every mutation of a CollectionStore's items and origin
// snapshots.
type Normalizer struct {
	store    *stores.CollectionStore
	registry *model.Registry
	pipeline *modifiers.Pipeline
	logger   *logging.ChanneledLogger
}

// New creates a normalizer for store. Snapshots are passed through the
// pipeline's beforeQueue hooks.
func New(store *stores.CollectionStore, pipeline *modifiers.Pipeline, logger *logging.ChanneledLogger) *Normalizer {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Normalizer{
		store:    store,
		registry: store.Registry(),
		pipeline: pipeline,
		logger:   logger,
	}
}

// Store returns the underlying collection store.
func (n *Normalizer) Store() *stores.CollectionStore { return n.store }

// Update runs fn with the store locked. Every entity merged through
// Tx.Merge is copied before the lock is released; once released, the copies
// pass through beforeQueue and become origin snapshots, queued callbacks run,
// and change events are emitted. Nothing is rolled back when fn fails;
// operations apply mutations only once they have succeeded.
func (n *Normalizer) Update(ctx context.Context, fn func(tx *Tx) error) error {
	tx := newTx(ctx, n)

	n.store.Mu.Lock()
	err := fn(tx)
	var pending []pendingSnapshot
	if len(tx.snapshots) > 0 {
		pending = n.capture(tx.snapshotKeys())
	}
	n.store.Mu.Unlock()

	if len(pending) > 0 {
		n.storeSnapshots(ctx, pending)
	}
	for _, cb := range tx.afterCommit {
		cb()
	}
	for _, ev := range tx.events() {
		n.store.Emit(ev)
	}
	return err
}

// Merge normalizes data (already through afterGet) into modelKey's collection
// and snapshots every merged entity. It returns the canonical value(s).
func (n *Normalizer) Merge(ctx context.Context, modelKey string, data entity.Value) (entity.Value, error) {
	m, err := n.registry.Lookup(modelKey)
	if err != nil {
		return data, err
	}
	var out entity.Value
	err = n.Update(ctx, func(tx *Tx) error {
		out = tx.Merge(m, data)
		return nil
	})
	return out, err
}

// Ingest runs the afterGet hooks on raw data and merges the result.
func (n *Normalizer) Ingest(ctx context.Context, modelKey string, raw entity.Value) (entity.Value, error) {
	hooked, err := n.pipeline.Apply(ctx, model.AfterGet, modelKey, raw)
	if err != nil {
		return raw, err
	}
	return n.Merge(ctx, modelKey, hooked)
}

// MergeOptimistic merges data without taking origin snapshots. It is used for
// local, unconfirmed changes.
func (n *Normalizer) MergeOptimistic(ctx context.Context, modelKey string, data entity.Value) (entity.Value, error) {
	m, err := n.registry.Lookup(modelKey)
	if err != nil {
		return data, err
	}
	var out entity.Value
	err = n.Update(ctx, func(tx *Tx) error {
		out = tx.MergeOptimistic(m, data)
		return nil
	})
	return out, err
}

// Snapshot re-captures the origin snapshot of the given ids from their live
// items.
func (n *Normalizer) Snapshot(ctx context.Context, modelKey string, ids ...string) error {
	if _, err := n.registry.Lookup(modelKey); err != nil {
		return err
	}
	keys := make([]refKey, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, refKey{model: modelKey, id: id})
	}
	n.store.Mu.RLock()
	pending := n.capture(keys)
	n.store.Mu.RUnlock()
	n.storeSnapshots(ctx, pending)
	return nil
}

// Revert restores the live item for id from its origin snapshot and reports
// whether a snapshot existed.
func (n *Normalizer) Revert(ctx context.Context, modelKey, id string) (bool, error) {
	if _, err := n.registry.Lookup(modelKey); err != nil {
		return false, err
	}
	var reverted bool
	err := n.Update(ctx, func(tx *Tx) error {
		reverted = tx.Revert(modelKey, id)
		return nil
	})
	return reverted, err
}

// Remove deletes ids from both the live items and the origin snapshots.
func (n *Normalizer) Remove(ctx context.Context, modelKey string, ids ...string) error {
	if _, err := n.registry.Lookup(modelKey); err != nil {
		return err
	}
	return n.Update(ctx, func(tx *Tx) error {
		for _, id := range ids {
			tx.Remove(modelKey, id)
		}
		return nil
	})
}

type pendingSnapshot struct {
	key   refKey
	value entity.Value
}

// capture clones the live items for keys. The caller must hold Mu.
func (n *Normalizer) capture(keys []refKey) []pendingSnapshot {
	var work []pendingSnapshot
	for _, k := range keys {
		c, ok := n.store.Collection(k.model)
		if !ok {
			continue
		}
		if item, ok := c.Items[k.id]; ok {
			work = append(work, pendingSnapshot{key: k, value: entity.Clone(item)})
		}
	}
	return work
}

// storeSnapshots runs beforeQueue on captured copies without holding any lock,
// then stores them for items that still exist.
func (n *Normalizer) storeSnapshots(ctx context.Context, work []pendingSnapshot) {
	for i := range work {
		projected, err := n.pipeline.Apply(ctx, model.BeforeQueue, work[i].key.model, work[i].value)
		if err == nil {
			work[i].value = projected
		}
	}

	n.store.Mu.Lock()
	for _, w := range work {
		c, _ := n.store.Collection(w.key.model)
		if _, ok := c.Items[w.key.id]; ok {
			c.OriginItems[w.key.id] = w.value
		}
	}
	n.store.Mu.Unlock()

	n.logger.WithContext(ctx, logging.ChannelNormalize).Debug("Origin snapshots stored", "count", len(work))
}

type refKey struct {
	model string
	id    string
}

// Tx exposes collection mutations while the store lock is held. It must not
// be retained after Update returns.
type Tx struct {
	ctx         context.Context
	n           *Normalizer
	path        map[refKey]bool
	snapshots   map[refKey]bool
	changes     map[string]map[stores.ChangeKind]map[string]bool
	afterCommit []func()
}

func newTx(ctx context.Context, n *Normalizer) *Tx {
	return &Tx{
		ctx:       ctx,
		n:         n,
		path:      make(map[refKey]bool),
		snapshots: make(map[refKey]bool),
		changes:   make(map[string]map[stores.ChangeKind]map[string]bool),
	}
}

// Collection returns the live collection for modelKey.
func (tx *Tx) Collection(modelKey string) *types.EntityCollection {
	return tx.n.store.MustCollection(modelKey)
}

// Record queues a change event to emit after the lock is released.
func (tx *Tx) Record(modelKey string, kind stores.ChangeKind, ids ...string) {
	byKind, ok := tx.changes[modelKey]
	if !ok {
		byKind = make(map[stores.ChangeKind]map[string]bool)
		tx.changes[modelKey] = byKind
	}
	set, ok := byKind[kind]
	if !ok {
		set = make(map[string]bool)
		byKind[kind] = set
	}
	for _, id := range ids {
		set[id] = true
	}
}

// AfterCommit schedules fn to run once the lock is released.
func (tx *Tx) AfterCommit(fn func()) {
	tx.afterCommit = append(tx.afterCommit, fn)
}

// Merge merges data into m's collection and marks merged entities for an
// origin snapshot.
func (tx *Tx) Merge(m *model.Model, data entity.Value) entity.Value {
	out := tx.merge(m, data, true)
	tx.Collection(m.Key).LastLoad = time.Now().UTC()
	return out
}

// MergeOptimistic merges data without marking snapshots.
func (tx *Tx) MergeOptimistic(m *model.Model, data entity.Value) entity.Value {
	return tx.merge(m, data, false)
}

func (tx *Tx) merge(m *model.Model, data entity.Value, snapshot bool) entity.Value {
	switch typed := data.(type) {
	case entity.List:
		out := make(entity.List, len(typed))
		for i, el := range typed {
			out[i] = tx.merge(m, el, snapshot)
		}
		return out
	case entity.Object:
		if entity.IDOf(typed) == "" {
			return data
		}
		return tx.merge(m, entity.Promote(typed), snapshot)
	case entity.Opaque:
		return tx.replace(m, typed, snapshot)
	case *entity.Entity:
		if typed == nil {
			return data
		}
		return tx.mergeEntity(m, typed, snapshot)
	}
	return data
}

// replace stores an opaque hook result wholesale; it cannot be field-merged.
func (tx *Tx) replace(m *model.Model, o entity.Opaque, snapshot bool) entity.Value {
	if o.ID == "" {
		return o
	}
	tx.Collection(m.Key).Items[o.ID] = o
	tx.touched(m.Key, o.ID, snapshot)
	return o
}

func (tx *Tx) mergeEntity(m *model.Model, e *entity.Entity, snapshot bool) entity.Value {
	id := e.ID()
	if id == "" {
		return e
	}
	c := tx.Collection(m.Key)
	key := refKey{model: m.Key, id: id}
	if tx.path[key] {
		if existing, ok := c.Items[id]; ok {
			return existing
		}
		return e
	}
	tx.path[key] = true
	defer delete(tx.path, key)

	for _, prop := range m.ReferenceProperties() {
		value, ok := e.Get(prop)
		if !ok {
			continue
		}
		if _, isNull := value.(entity.Null); isNull {
			continue
		}
		targetKey := m.References[prop]
		target, ok := tx.n.registry.Get(targetKey)
		if !ok {
			modifiers.ReportReferenceNotFound(tx.ctx, tx.n.logger, &model.ReferenceNotFoundError{Model: m.Key, Property: prop, Target: targetKey})
			continue
		}
		canonical := tx.merge(target, value, snapshot)
		if !entity.Same(value, canonical) {
			e.Set(prop, canonical)
		}
	}

	existing, ok := c.Items[id]
	stored, isEntity := existing.(*entity.Entity)
	switch {
	case ok && isEntity && stored == e:
		tx.touched(m.Key, id, snapshot)
		return e
	case ok && isEntity:
		tx.patchFields(m, stored, e)
		tx.touched(m.Key, id, snapshot)
		return stored
	default:
		c.Items[id] = e
		tx.touched(m.Key, id, snapshot)
		return e
	}
}

// patchFields copies changed fields from incoming into the stored entity in
// place. Reference fields compare by identity, other fields deeply. Fields
// absent from incoming are left untouched.
func (tx *Tx) patchFields(m *model.Model, stored, incoming *entity.Entity) {
	for name, value := range incoming.Fields() {
		if entity.IsCallable(value) {
			continue
		}
		current, has := stored.Get(name)
		if has {
			if m.IsReference(name) && entity.Same(current, value) {
				continue
			}
			if !m.IsReference(name) && entity.Equal(current, value) {
				continue
			}
		}
		stored.Set(name, value)
	}
}

func (tx *Tx) touched(modelKey, id string, snapshot bool) {
	if snapshot {
		tx.snapshots[refKey{model: modelKey, id: id}] = true
	}
	tx.Record(modelKey, stores.ChangeMerged, id)
}

// Revert restores the live item for id from its origin snapshot. Fields
// missing from the snapshot are removed and reference fields are pointed back
// at the canonical entities.
func (tx *Tx) Revert(modelKey, id string) bool {
	c := tx.Collection(modelKey)
	origin, ok := c.OriginItems[id]
	if !ok {
		return false
	}
	m, _ := tx.n.registry.Get(modelKey)

	snap, isEntity := origin.(*entity.Entity)
	if !isEntity {
		c.Items[id] = origin
		tx.Record(modelKey, stores.ChangeMerged, id)
		return true
	}

	restored := entity.CloneEntity(snap)
	for _, prop := range m.ReferenceProperties() {
		value, ok := restored.Get(prop)
		if !ok {
			continue
		}
		if target, ok := tx.n.registry.Get(m.References[prop]); ok {
			restored.Set(prop, tx.canonical(target, value))
		}
	}

	live, isLive := c.Items[id].(*entity.Entity)
	if !isLive {
		c.Items[id] = restored
		tx.Record(modelKey, stores.ChangeMerged, id)
		return true
	}
	for _, name := range live.Keys() {
		if !restored.Has(name) {
			live.Delete(name)
		}
	}
	tx.patchFields(m, live, restored)
	tx.Record(modelKey, stores.ChangeMerged, id)
	return true
}

// canonical swaps entities in v for the live entity with the same id, when
// one is cached.
func (tx *Tx) canonical(m *model.Model, v entity.Value) entity.Value {
	switch typed := v.(type) {
	case entity.List:
		out := make(entity.List, len(typed))
		for i, el := range typed {
			out[i] = tx.canonical(m, el)
		}
		return out
	case *entity.Entity, entity.Object:
		id := entity.IDOf(typed)
		if id == "" {
			return v
		}
		if live, ok := tx.Collection(m.Key).Items[id]; ok {
			return live
		}
		return entity.Promote(v)
	}
	return v
}

// RemoveItem deletes the live item for id and keeps its origin snapshot.
func (tx *Tx) RemoveItem(modelKey, id string) bool {
	c := tx.Collection(modelKey)
	if _, ok := c.Items[id]; !ok {
		return false
	}
	delete(c.Items, id)
	tx.Record(modelKey, stores.ChangeRemoved, id)
	return true
}

// Remove deletes id from the live items and the origin snapshots.
func (tx *Tx) Remove(modelKey, id string) {
	c := tx.Collection(modelKey)
	_, live := c.Items[id]
	_, origin := c.OriginItems[id]
	delete(c.Items, id)
	delete(c.OriginItems, id)
	delete(tx.snapshots, refKey{model: modelKey, id: id})
	if live || origin {
		tx.Record(modelKey, stores.ChangeRemoved, id)
	}
}

func (tx *Tx) snapshotKeys() []refKey {
	keys := make([]refKey, 0, len(tx.snapshots))
	for k := range tx.snapshots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].model != keys[j].model {
			return keys[i].model < keys[j].model
		}
		return keys[i].id < keys[j].id
	})
	return keys
}

var kindOrder = []stores.ChangeKind{
	stores.ChangeReset,
	stores.ChangeMerged,
	stores.ChangeRemoved,
	stores.ChangeQueued,
	stores.ChangeUnqueued,
	stores.ChangeQueueReset,
}

func (tx *Tx) events() []stores.ChangeEvent {
	modelKeys := make([]string, 0, len(tx.changes))
	for k := range tx.changes {
		modelKeys = append(modelKeys, k)
	}
	sort.Strings(modelKeys)

	var out []stores.ChangeEvent
	for _, key := range modelKeys {
		for _, kind := range kindOrder {
			set, ok := tx.changes[key][kind]
			if !ok {
				continue
			}
			ids := make([]string, 0, len(set))
			for id := range set {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			out = append(out, stores.ChangeEvent{Model: key, Kind: kind, IDs: ids})
		}
	}
	return out
}
