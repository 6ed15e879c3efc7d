package types

import (
	"fmt"
	"sort"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
)

// Action is a pending mutation kind.
type Action string

const (
	ActionPost   Action = "post"
	ActionPatch  Action = "patch"
	ActionDelete Action = "delete"
)

// Actions lists every action kind in processing order.
var Actions = []Action{ActionPost, ActionPatch, ActionDelete}

// QueueActionRejectedError is returned when a caller asks to queue an action
// kind that is not post, patch or delete.
type QueueActionRejectedError struct {
	Model  string
	Action string
}

func (e *QueueActionRejectedError) Error() string {
	if e.Model == "" {
		return fmt.Sprintf("action %q is not storable", e.Action)
	}
	return fmt.Sprintf("action %q is not storable for model %s", e.Action, e.Model)
}

// ParseAction validates an action kind.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionPost, ActionPatch, ActionDelete:
		return a, nil
	}
	return "", &QueueActionRejectedError{Action: s}
}

// QueueEntry is one pending mutation. Data has already been through the
// model's beforeSave hook.
type QueueEntry struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Action   Action       `json:"action"`
	Data     entity.Value `json:"data"`
	QueuedAt time.Time    `json:"queuedAt"`
}

// ActionQueue buffers pending mutations for one collection. Posts are kept in
// order; patches and deletes are keyed by id and an id is in at most one of
// the two maps.
type ActionQueue struct {
	Post   []*QueueEntry          `json:"post"`
	Patch  map[string]*QueueEntry `json:"patch"`
	Delete map[string]*QueueEntry `json:"delete"`
}

// NewActionQueue returns an empty queue.
func NewActionQueue() *ActionQueue {
	return &ActionQueue{
		Post:   make([]*QueueEntry, 0),
		Patch:  make(map[string]*QueueEntry),
		Delete: make(map[string]*QueueEntry),
	}
}

// HasID reports whether id is queued under any action.
func (q *ActionQueue) HasID(id string) bool {
	if _, ok := q.Delete[id]; ok {
		return true
	}
	if _, ok := q.Patch[id]; ok {
		return true
	}
	for _, e := range q.Post {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Len returns the number of queued entries.
func (q *ActionQueue) Len() int {
	return len(q.Post) + len(q.Patch) + len(q.Delete)
}

// IsEmpty reports whether nothing is queued.
func (q *ActionQueue) IsEmpty() bool {
	return q.Len() == 0
}

// IDs returns the queued ids for one action. Post ids keep queue order,
// patch and delete ids are sorted.
func (q *ActionQueue) IDs(action Action) []string {
	switch action {
	case ActionPost:
		ids := make([]string, 0, len(q.Post))
		for _, e := range q.Post {
			ids = append(ids, e.ID)
		}
		return ids
	case ActionPatch:
		return sortedKeys(q.Patch)
	case ActionDelete:
		return sortedKeys(q.Delete)
	}
	return nil
}

// AllIDs returns the distinct ids queued under any action.
func (q *ActionQueue) AllIDs() []string {
	seen := make(map[string]bool, q.Len())
	var ids []string
	for _, action := range Actions {
		for _, id := range q.IDs(action) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Entries returns every queued entry: posts in order, then patches and
// deletes by id.
func (q *ActionQueue) Entries() []*QueueEntry {
	out := make([]*QueueEntry, 0, q.Len())
	out = append(out, q.Post...)
	for _, id := range sortedKeys(q.Patch) {
		out = append(out, q.Patch[id])
	}
	for _, id := range sortedKeys(q.Delete) {
		out = append(out, q.Delete[id])
	}
	return out
}

// Put stores an entry. A patch replaces any queued delete for the same id and
// the reverse.
func (q *ActionQueue) Put(e *QueueEntry) error {
	switch e.Action {
	case ActionPost:
		q.Post = append(q.Post, e)
	case ActionPatch:
		delete(q.Delete, e.ID)
		q.Patch[e.ID] = e
	case ActionDelete:
		delete(q.Patch, e.ID)
		q.Delete[e.ID] = e
	default:
		return &QueueActionRejectedError{Model: e.Type, Action: string(e.Action)}
	}
	return nil
}

// Remove drops the entries for id under action and returns them.
func (q *ActionQueue) Remove(action Action, id string) []*QueueEntry {
	switch action {
	case ActionPost:
		var removed []*QueueEntry
		kept := q.Post[:0]
		for _, e := range q.Post {
			if e.ID == id {
				removed = append(removed, e)
				continue
			}
			kept = append(kept, e)
		}
		q.Post = kept
		return removed
	case ActionPatch:
		if e, ok := q.Patch[id]; ok {
			delete(q.Patch, id)
			return []*QueueEntry{e}
		}
	case ActionDelete:
		if e, ok := q.Delete[id]; ok {
			delete(q.Delete, id)
			return []*QueueEntry{e}
		}
	}
	return nil
}

// RemoveEntry drops exactly this entry if it is still queued. An entry that
// was replaced by a newer one for the same id is left alone.
func (q *ActionQueue) RemoveEntry(e *QueueEntry) bool {
	switch e.Action {
	case ActionPost:
		for i, queued := range q.Post {
			if queued == e {
				q.Post = append(q.Post[:i], q.Post[i+1:]...)
				return true
			}
		}
	case ActionPatch:
		if q.Patch[e.ID] == e {
			delete(q.Patch, e.ID)
			return true
		}
	case ActionDelete:
		if q.Delete[e.ID] == e {
			delete(q.Delete, e.ID)
			return true
		}
	}
	return false
}

// Clear empties one action structure.
func (q *ActionQueue) Clear(action Action) {
	switch action {
	case ActionPost:
		q.Post = make([]*QueueEntry, 0)
	case ActionPatch:
		q.Patch = make(map[string]*QueueEntry)
	case ActionDelete:
		q.Delete = make(map[string]*QueueEntry)
	}
}

// Copy returns a queue with the same entries in fresh containers.
func (q *ActionQueue) Copy() *ActionQueue {
	out := NewActionQueue()
	out.Post = append(out.Post, q.Post...)
	for id, e := range q.Patch {
		out.Patch[id] = e
	}
	for id, e := range q.Delete {
		out.Delete[id] = e
	}
	return out
}

func sortedKeys(m map[string]*QueueEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
