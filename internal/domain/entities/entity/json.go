package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

var entityType = reflect.TypeOf(Entity{})

func decodeAny(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// Decode parses a JSON document into a value. A top-level object becomes an
// *Entity and a top-level array becomes a List whose object elements are
// entities. An empty document decodes to nil.
func Decode(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	decoded, err := decodeAny(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	return FromAny(decoded), nil
}

// FromAny converts a decoded JSON tree into a value. Objects at the top level
// and directly inside a top-level array are entities; deeper objects are
// plain Objects until a model declares them as references.
func FromAny(v any) Value {
	switch typed := v.(type) {
	case map[string]any:
		fields := make(map[string]Value, len(typed))
		for k, f := range typed {
			fields[k] = fromAnyNested(f)
		}
		return New(fields)
	case []any:
		out := make(List, len(typed))
		for i, el := range typed {
			out[i] = FromAny(el)
		}
		return out
	}
	return fromAnyNested(v)
}

func fromAnyNested(v any) Value {
	switch typed := v.(type) {
	case nil:
		return Null{}
	case Value:
		return typed
	case string:
		return String(typed)
	case bool:
		return Bool(typed)
	case json.Number:
		f, err := typed.Float64()
		if err != nil {
			return String(typed.String())
		}
		return Number(f)
	case float64:
		return Number(typed)
	case float32:
		return Number(typed)
	case int:
		return Number(typed)
	case int64:
		return Number(typed)
	case time.Time:
		return Time{typed}
	case map[string]any:
		obj := make(Object, len(typed))
		for k, f := range typed {
			obj[k] = fromAnyNested(f)
		}
		return obj
	case []any:
		out := make(List, len(typed))
		for i, el := range typed {
			out[i] = fromAnyNested(el)
		}
		return out
	}
	return Opaque{Value: v}
}

// Promote turns plain objects into entities. Lists are promoted element by
// element. Entities and other variants are returned unchanged.
func Promote(v Value) Value {
	switch typed := v.(type) {
	case Object:
		return New(typed)
	case List:
		out := make(List, len(typed))
		for i, el := range typed {
			out[i] = Promote(el)
		}
		return out
	}
	return v
}

// Plain converts a value into plain Go data suitable for encoding/json.
// An entity that is already being encoded further up the path is rendered as
// {"id": ...} so that cyclic graphs terminate.
func Plain(v Value) any {
	return plain(v, map[*Entity]bool{})
}

func plain(v Value, path map[*Entity]bool) any {
	switch typed := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(typed)
	case Number:
		return float64(typed)
	case Bool:
		return bool(typed)
	case Time:
		return typed.Time.Format(time.RFC3339Nano)
	case Opaque:
		return typed.Value
	case List:
		out := make([]any, len(typed))
		for i, el := range typed {
			out[i] = plain(el, path)
		}
		return out
	case Object:
		out := make(map[string]any, len(typed))
		for k, el := range typed {
			out[k] = plain(el, path)
		}
		return out
	case *Entity:
		if typed == nil {
			return nil
		}
		if path[typed] {
			return map[string]any{IDField: typed.ID()}
		}
		path[typed] = true
		fields := typed.Fields()
		out := make(map[string]any, len(fields))
		for k, el := range fields {
			out[k] = plain(el, path)
		}
		delete(path, typed)
		return out
	}
	return nil
}

// Path walks a dotted path ("data.items") through decoded JSON. An empty path
// returns the input.
func Path(v any, path string) (any, bool) {
	if path == "" {
		return v, true
	}
	current := v
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// DecodePath decodes a JSON document and unwraps the value at path before
// converting it. A payload without the path decodes to nil.
func DecodePath(data []byte, path string) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	decoded, err := decodeAny(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	inner, ok := Path(decoded, path)
	if !ok {
		return nil, nil
	}
	return FromAny(inner), nil
}
