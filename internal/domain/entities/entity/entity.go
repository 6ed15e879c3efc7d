package entity

import (
	"encoding/json"
	"sort"
	"sync"
)

// IDField is the field that carries an entity's identifier.
const IDField = "id"

// Entity is a mutable record with identity. All places that reference the
// same cached entity share one *Entity, so a mutation through any path is
// visible through every other path.
type Entity struct {
	mu     sync.RWMutex
	fields map[string]Value
}

// New creates an entity from the given fields. The map is copied.
func New(fields map[string]Value) *Entity {
	e := &Entity{fields: make(map[string]Value, len(fields))}
	for k, v := range fields {
		e.fields[k] = v
	}
	return e
}

// NewWithID creates an empty entity carrying only an id.
func NewWithID(id string) *Entity {
	return New(map[string]Value{IDField: String(id)})
}

// ID returns the entity identifier or "" if it has none.
func (e *Entity) ID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return idString(e.fields[IDField])
}

// Get returns a field value.
func (e *Entity) Get(name string) (Value, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.fields[name]
	return v, ok
}

// Has reports whether the field is present.
func (e *Entity) Has(name string) bool {
	_, ok := e.Get(name)
	return ok
}

// Set assigns a field value.
func (e *Entity) Set(name string, v Value) {
	if v == nil {
		v = Null{}
	}
	e.mu.Lock()
	if e.fields == nil {
		e.fields = make(map[string]Value)
	}
	e.fields[name] = v
	e.mu.Unlock()
}

// Delete removes a field.
func (e *Entity) Delete(name string) {
	e.mu.Lock()
	delete(e.fields, name)
	e.mu.Unlock()
}

// Len returns the number of fields.
func (e *Entity) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.fields)
}

// Keys returns the field names in sorted order.
func (e *Entity) Keys() []string {
	e.mu.RLock()
	keys := make([]string, 0, len(e.fields))
	for k := range e.fields {
		keys = append(keys, k)
	}
	e.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Fields returns a shallow copy of the field map. Nested entities are still
// shared with the live graph.
func (e *Entity) Fields() map[string]Value {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Value, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// String returns a compact JSON rendering for logs.
func (e *Entity) String() string {
	b, err := json.Marshal(e)
	if err != nil {
		return "<entity " + e.ID() + ">"
	}
	return string(b)
}

// MarshalJSON encodes the entity, breaking reference cycles.
func (e *Entity) MarshalJSON() ([]byte, error) {
	return json.Marshal(Plain(e))
}

// UnmarshalJSON decodes a JSON object into the entity.
func (e *Entity) UnmarshalJSON(data []byte) error {
	decoded, err := decodeAny(data)
	if err != nil {
		return err
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return &json.UnmarshalTypeError{Value: "non-object", Type: entityType}
	}
	fields := make(map[string]Value, len(obj))
	for k, v := range obj {
		fields[k] = fromAnyNested(v)
	}
	e.mu.Lock()
	e.fields = fields
	e.mu.Unlock()
	return nil
}
