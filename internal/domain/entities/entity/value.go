// Package entity defines the value model used for cached API payloads.
// Entities are open records keyed by field name; field values are drawn from
// a closed set of variants so that references to other entities are tagged
// explicitly rather than inferred from the shape of a nested object.
package entity

import (
	"encoding/json"
	"reflect"
	"strconv"
	"time"
)

// Value is any value that can be stored in an entity field.
type Value interface {
	isValue()
}

// Null is the JSON null value.
type Null struct{}

// String is a text value.
type String string

// Number is a numeric value. JSON numbers are decoded as float64.
type Number float64

// Bool is a boolean value.
type Bool bool

// Time is a date value, usually produced by an afterGet hook.
type Time struct {
	time.Time
}

// List is an ordered sequence of values.
type List []Value

// Object is a plain nested record that has no identity of its own.
type Object map[string]Value

// Opaque wraps a value of arbitrary Go type returned by a hook. It is never
// field-merged: when an opaque value carries an ID it replaces the cached
// item for that ID wholesale.
type Opaque struct {
	ID    string
	Value any
}

func (Null) isValue()    {}
func (String) isValue()  {}
func (Number) isValue()  {}
func (Bool) isValue()    {}
func (Time) isValue()    {}
func (List) isValue()    {}
func (Object) isValue()  {}
func (Opaque) isValue()  {}
func (*Entity) isValue() {}

// MarshalJSON encodes JSON null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// MarshalJSON encodes the wrapped value.
func (o Opaque) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Value)
}

// MarshalJSON encodes the list, breaking entity cycles.
func (l List) MarshalJSON() ([]byte, error) {
	return json.Marshal(Plain(l))
}

// MarshalJSON encodes the object, breaking entity cycles.
func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(Plain(o))
}

// IsCallable reports whether an opaque value wraps a function. Callables are
// never copied between entities during a merge.
func IsCallable(v Value) bool {
	o, ok := v.(Opaque)
	if !ok || o.Value == nil {
		return false
	}
	return reflect.TypeOf(o.Value).Kind() == reflect.Func
}

// IDOf returns the identifier carried by v, if any. Entities and opaque
// values can carry an ID; every other variant returns "".
func IDOf(v Value) string {
	switch typed := v.(type) {
	case *Entity:
		if typed == nil {
			return ""
		}
		return typed.ID()
	case Opaque:
		return typed.ID
	case Object:
		return idString(typed["id"])
	}
	return ""
}

func idString(v Value) string {
	switch typed := v.(type) {
	case String:
		return string(typed)
	case Number:
		return strconv.FormatFloat(float64(typed), 'f', -1, 64)
	}
	return ""
}
