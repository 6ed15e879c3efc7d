package entity

// Clone returns a deep copy of v that shares no mutable state with it.
// Entity graphs are copied structurally: an entity reachable through several
// paths is copied once, and cycles are reproduced in the copy.
func Clone(v Value) Value {
	return clone(v, map[*Entity]*Entity{})
}

// CloneEntity is Clone for a single entity.
func CloneEntity(e *Entity) *Entity {
	if e == nil {
		return nil
	}
	return clone(e, map[*Entity]*Entity{}).(*Entity)
}

func clone(v Value, seen map[*Entity]*Entity) Value {
	switch typed := v.(type) {
	case List:
		out := make(List, len(typed))
		for i, el := range typed {
			out[i] = clone(el, seen)
		}
		return out
	case Object:
		out := make(Object, len(typed))
		for k, el := range typed {
			out[k] = clone(el, seen)
		}
		return out
	case *Entity:
		if typed == nil {
			return typed
		}
		if copied, ok := seen[typed]; ok {
			return copied
		}
		copied := &Entity{fields: map[string]Value{}}
		seen[typed] = copied
		for k, el := range typed.Fields() {
			copied.fields[k] = clone(el, seen)
		}
		return copied
	}
	// Scalars and opaque values are immutable from the cache's point of view.
	return v
}
