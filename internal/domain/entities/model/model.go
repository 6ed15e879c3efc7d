// Package model declares entity types: their collection names, the
// properties that reference other entity types, and their lifecycle hooks.
package model

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
)

// ModifierName identifies a lifecycle hook.
type ModifierName string

const (
	AfterGet    ModifierName = "afterGet"    // applied to payloads received from the API
	BeforeSave  ModifierName = "beforeSave"  // applied to payloads sent to the API or queued
	BeforeQueue ModifierName = "beforeQueue" // applied to origin snapshots
	AfterQueue  ModifierName = "afterQueue"  // applied to snapshots restored by a queue cancel
)

// Hook transforms a value. A hook may return a value of a different shape,
// including an entity.Opaque.
type Hook func(ctx context.Context, v entity.Value) (entity.Value, error)

// ErrUnknownModel is returned when a model key is not declared.
var ErrUnknownModel = errors.New("unknown model")

// Model is the static declaration of one entity type.
type Model struct {
	Key        string            `yaml:"key" json:"key"`
	Name       string            `yaml:"name" json:"name"`
	Plural     string            `yaml:"plural" json:"plural"`
	References map[string]string `yaml:"references,omitempty" json:"references,omitempty"` // property -> model key

	AfterGet    Hook `yaml:"-" json:"-"`
	BeforeSave  Hook `yaml:"-" json:"-"`
	BeforeQueue Hook `yaml:"-" json:"-"`
	AfterQueue  Hook `yaml:"-" json:"-"`
}

// Hook returns the declared hook for name, or nil.
func (m *Model) Hook(name ModifierName) Hook {
	switch name {
	case AfterGet:
		return m.AfterGet
	case BeforeSave:
		return m.BeforeSave
	case BeforeQueue:
		return m.BeforeQueue
	case AfterQueue:
		return m.AfterQueue
	}
	return nil
}

// ReferenceProperties returns the declared reference properties in sorted
// order.
func (m *Model) ReferenceProperties() []string {
	props := make([]string, 0, len(m.References))
	for p := range m.References {
		props = append(props, p)
	}
	sort.Strings(props)
	return props
}

// IsReference reports whether prop is a declared reference property.
func (m *Model) IsReference(prop string) bool {
	_, ok := m.References[prop]
	return ok
}

// Registry maps model keys to declarations. It is immutable once built.
type Registry struct {
	models   map[string]*Model
	byPlural map[string]*Model
	keys     []string
}

// NewRegistry validates the declarations and builds a registry. Missing
// names and plurals default to the upper-cased key and key + "S".
func NewRegistry(models ...Model) (*Registry, error) {
	r := &Registry{
		models:   make(map[string]*Model, len(models)),
		byPlural: make(map[string]*Model, len(models)),
	}
	for i := range models {
		m := models[i]
		if m.Key == "" {
			return nil, fmt.Errorf("model %d: key cannot be empty", i)
		}
		if _, dup := r.models[m.Key]; dup {
			return nil, fmt.Errorf("model %s declared twice", m.Key)
		}
		if m.Name == "" {
			m.Name = strings.ToUpper(m.Key)
		}
		if m.Plural == "" {
			m.Plural = strings.ToUpper(m.Key) + "S"
		}
		if other, dup := r.byPlural[m.Plural]; dup {
			return nil, fmt.Errorf("models %s and %s share plural %s", other.Key, m.Key, m.Plural)
		}
		refs := make(map[string]string, len(m.References))
		for prop, target := range m.References {
			refs[prop] = target
		}
		m.References = refs
		r.models[m.Key] = &m
		r.byPlural[m.Plural] = &m
		r.keys = append(r.keys, m.Key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// MustRegistry is NewRegistry that panics on invalid declarations.
func MustRegistry(models ...Model) *Registry {
	r, err := NewRegistry(models...)
	if err != nil {
		panic(err)
	}
	return r
}

// Get returns the model declared under key.
func (r *Registry) Get(key string) (*Model, bool) {
	m, ok := r.models[key]
	return m, ok
}

// Lookup returns the model declared under key or an ErrUnknownModel error.
func (r *Registry) Lookup(key string) (*Model, error) {
	m, ok := r.models[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, key)
	}
	return m, nil
}

// ByPlural returns the model whose collection is plural. Matching is case
// insensitive so hosts can expose lower-cased accessors.
func (r *Registry) ByPlural(plural string) (*Model, bool) {
	if m, ok := r.byPlural[plural]; ok {
		return m, true
	}
	for p, m := range r.byPlural {
		if strings.EqualFold(p, plural) {
			return m, true
		}
	}
	return nil, false
}

// Keys returns all model keys in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of declared models.
func (r *Registry) Len() int {
	return len(r.models)
}

// ReferenceNotFoundError reports a declared reference whose target model is
// not in the registry.
type ReferenceNotFoundError struct {
	Model    string
	Property string
	Target   string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("could not find the model %s for the reference %s of %s", e.Target, e.Property, e.Model)
}

// Unwrap lets callers match with errors.Is(err, ErrUnknownModel).
func (e *ReferenceNotFoundError) Unwrap() error {
	return ErrUnknownModel
}
