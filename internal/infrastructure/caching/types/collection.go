// Package types defines the per-model cache structures: live items, origin
// snapshots and the pending action queue.
package types

import (
	"sort"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
)

// EntityCollection holds the cached state for one model. It is not safe for
// concurrent use on its own; the owning store guards it.
type EntityCollection struct {
	Model  string
	Plural string

	Items       map[string]entity.Value // id -> live *entity.Entity or entity.Opaque
	OriginItems map[string]entity.Value // id -> last confirmed snapshot
	ActionQueue *ActionQueue

	// Cache metadata
	LastLoad time.Time
	Loaded   bool

	// Optional load window
	From time.Time
	To   time.Time

	queueResetCallbacks []func()
}

// NewEntityCollection creates an empty collection.
func NewEntityCollection(modelKey, plural string) *EntityCollection {
	c := &EntityCollection{Model: modelKey, Plural: plural}
	c.Reset()
	c.LastLoad = time.Time{}
	return c
}

// HasAction reports whether any action is queued.
func (c *EntityCollection) HasAction() bool {
	return c.ActionQueue != nil && !c.ActionQueue.IsEmpty()
}

// Reset discards items, snapshots and the queue. Queue-reset callbacks are
// kept.
func (c *EntityCollection) Reset() {
	c.Items = make(map[string]entity.Value)
	c.OriginItems = make(map[string]entity.Value)
	c.ActionQueue = NewActionQueue()
	c.Loaded = false
	c.LastLoad = time.Now().UTC()
	c.From = time.Time{}
	c.To = time.Time{}
}

// OnQueueReset registers fn to run whenever the queue is reset.
func (c *EntityCollection) OnQueueReset(fn func()) {
	c.queueResetCallbacks = append(c.queueResetCallbacks, fn)
}

// QueueResetCallbacks returns the registered callbacks so callers can run
// them after releasing their locks.
func (c *EntityCollection) QueueResetCallbacks() []func() {
	out := make([]func(), len(c.queueResetCallbacks))
	copy(out, c.queueResetCallbacks)
	return out
}

// NotifyQueueReset runs the queue-reset callbacks.
func (c *EntityCollection) NotifyQueueReset() {
	for _, fn := range c.QueueResetCallbacks() {
		fn()
	}
}

// IDs returns the cached item ids in sorted order.
func (c *EntityCollection) IDs() []string {
	ids := make([]string, 0, len(c.Items))
	for id := range c.Items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CollectionView is a point-in-time copy of a collection's containers. The
// item values are still the live entities.
type CollectionView struct {
	Model       string                  `json:"model"`
	Plural      string                  `json:"plural"`
	Items       map[string]entity.Value `json:"items"`
	OriginItems map[string]entity.Value `json:"originItems"`
	ActionQueue *ActionQueue            `json:"actionQueue"`
	LastLoad    time.Time               `json:"lastLoad"`
	Loaded      bool                    `json:"loaded"`
	HasAction   bool                    `json:"hasAction"`
	From        *time.Time              `json:"from,omitempty"`
	To          *time.Time              `json:"to,omitempty"`
}

// View copies the collection's containers.
func (c *EntityCollection) View() CollectionView {
	v := CollectionView{
		Model:       c.Model,
		Plural:      c.Plural,
		Items:       make(map[string]entity.Value, len(c.Items)),
		OriginItems: make(map[string]entity.Value, len(c.OriginItems)),
		ActionQueue: c.ActionQueue.Copy(),
		LastLoad:    c.LastLoad,
		Loaded:      c.Loaded,
		HasAction:   c.HasAction(),
	}
	for id, item := range c.Items {
		v.Items[id] = item
	}
	for id, item := range c.OriginItems {
		v.OriginItems[id] = item
	}
	if !c.From.IsZero() {
		from := c.From
		v.From = &from
	}
	if !c.To.IsZero() {
		to := c.To
		v.To = &to
	}
	return v
}
