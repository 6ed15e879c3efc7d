package entity

import "reflect"

type entityPair struct{ a, b *Entity }

// Equal reports whether a and b are deeply equal. Two entities are equal when
// they are the same pointer or when their fields are equal; comparison of
// cyclic graphs terminates.
func Equal(a, b Value) bool {
	return equal(a, b, map[entityPair]bool{})
}

func equal(a, b Value, seen map[entityPair]bool) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch ta := a.(type) {
	case String:
		tb, ok := b.(String)
		return ok && ta == tb
	case Number:
		tb, ok := b.(Number)
		return ok && ta == tb
	case Bool:
		tb, ok := b.(Bool)
		return ok && ta == tb
	case Time:
		tb, ok := b.(Time)
		return ok && ta.Time.Equal(tb.Time)
	case Opaque:
		tb, ok := b.(Opaque)
		return ok && ta.ID == tb.ID && reflect.DeepEqual(ta.Value, tb.Value)
	case List:
		tb, ok := b.(List)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !equal(ta[i], tb[i], seen) {
				return false
			}
		}
		return true
	case Object:
		tb, ok := b.(Object)
		if !ok {
			return false
		}
		return fieldsEqual(ta, tb, seen)
	case *Entity:
		tb, ok := b.(*Entity)
		if !ok {
			return false
		}
		if ta == tb {
			return true
		}
		pair := entityPair{ta, tb}
		if seen[pair] {
			return true
		}
		seen[pair] = true
		return fieldsEqual(ta.Fields(), tb.Fields(), seen)
	}
	return false
}

func fieldsEqual(a, b map[string]Value, seen map[entityPair]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !equal(va, vb, seen) {
			return false
		}
	}
	return true
}

// IsNull reports whether v is absent, JSON null, or a nil entity.
func IsNull(v Value) bool {
	switch typed := v.(type) {
	case nil, Null:
		return true
	case *Entity:
		return typed == nil
	}
	return false
}

// Same reports whether a and b are the identical reference: the same entity
// pointer, or lists holding identical references element by element.
func Same(a, b Value) bool {
	switch ta := a.(type) {
	case *Entity:
		tb, ok := b.(*Entity)
		return ok && ta == tb
	case List:
		tb, ok := b.(List)
		if !ok || len(ta) != len(tb) {
			return false
		}
		for i := range ta {
			if !Same(ta[i], tb[i]) {
				return false
			}
		}
		return true
	}
	return Equal(a, b)
}
