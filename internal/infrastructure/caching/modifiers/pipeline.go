// Package modifiers applies model lifecycle hooks recursively through the
// declared reference graph.
package modifiers

import (
	"context"
	"fmt"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

// FailureError reports a hook that returned an error or panicked. The
// pipeline recovers from it and keeps the untransformed value.
type FailureError struct {
	Hook  model.ModifierName
	Model string
	Err   error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s hook of model %s failed: %v", e.Hook, e.Model, e.Err)
}

func (e *FailureError) Unwrap() error { return e.Err }

// Pipeline runs hooks against values of a registry's models.
type Pipeline struct {
	registry *model.Registry
	logger   *logging.ChanneledLogger
}

// NewPipeline creates a pipeline for registry.
func NewPipeline(registry *model.Registry, logger *logging.ChanneledLogger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{registry: registry, logger: logger}
}

// walk tracks entities already handled in one Apply call. An entity reached
// again while still in progress is part of a cycle and is returned as is; an
// entity reached again after completion yields its earlier result.
type walk struct {
	inProgress map[*entity.Entity]bool
	done       map[*entity.Entity]entity.Value
}

// Apply runs the named hook on data for modelKey. Lists are handled element
// by element in order. For an entity, declared references are transformed
// first so the entity's own hook sees transformed children. Apply may modify
// data in place; callers pass values they own.
//
// Only an unknown modelKey is an error. Missing reference targets and failing
// hooks are logged and skipped.
func (p *Pipeline) Apply(ctx context.Context, name model.ModifierName, modelKey string, data entity.Value) (entity.Value, error) {
	m, err := p.registry.Lookup(modelKey)
	if err != nil {
		return data, err
	}
	w := &walk{
		inProgress: make(map[*entity.Entity]bool),
		done:       make(map[*entity.Entity]entity.Value),
	}
	return p.apply(ctx, name, m, data, w), nil
}

func (p *Pipeline) apply(ctx context.Context, name model.ModifierName, m *model.Model, data entity.Value, w *walk) entity.Value {
	switch typed := data.(type) {
	case nil, entity.Null:
		return data
	case entity.List:
		out := make(entity.List, len(typed))
		for i, el := range typed {
			out[i] = p.apply(ctx, name, m, el, w)
		}
		return out
	case entity.Object:
		return p.apply(ctx, name, m, entity.Promote(typed), w)
	case *entity.Entity:
		if typed == nil {
			return data
		}
		if result, ok := w.done[typed]; ok {
			return result
		}
		if w.inProgress[typed] {
			return typed
		}
		w.inProgress[typed] = true
		p.applyReferences(ctx, name, m, typed, w)
		result := p.runHook(ctx, name, m, typed)
		delete(w.inProgress, typed)
		w.done[typed] = result
		return result
	case entity.Opaque:
		return p.runHook(ctx, name, m, typed)
	}
	// Scalars, such as a reference given as a bare id, have nothing to walk.
	return data
}

func (p *Pipeline) applyReferences(ctx context.Context, name model.ModifierName, m *model.Model, e *entity.Entity, w *walk) {
	for _, prop := range m.ReferenceProperties() {
		value, ok := e.Get(prop)
		if !ok {
			continue
		}
		if _, isNull := value.(entity.Null); isNull {
			continue
		}
		targetKey := m.References[prop]
		target, ok := p.registry.Get(targetKey)
		if !ok {
			ReportReferenceNotFound(ctx, p.logger, &model.ReferenceNotFoundError{Model: m.Key, Property: prop, Target: targetKey})
			continue
		}
		e.Set(prop, p.apply(ctx, name, target, value, w))
	}
}

func (p *Pipeline) runHook(ctx context.Context, name model.ModifierName, m *model.Model, v entity.Value) entity.Value {
	hook := m.Hook(name)
	if hook == nil {
		return v
	}
	result, err := callHook(ctx, hook, v)
	if err != nil {
		failure := &FailureError{Hook: name, Model: m.Key, Err: err}
		p.logger.WithContext(ctx, logging.ChannelModifier).Warn("Modifier failed, keeping untransformed value",
			"model", m.Key,
			"hook", string(name),
			"id", entity.IDOf(v),
			"error", failure.Error(),
		)
		return v
	}
	if result == nil {
		return v
	}
	return result
}

func callHook(ctx context.Context, hook model.Hook, v entity.Value) (result entity.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(ctx, v)
}

// ReportReferenceNotFound logs a missing reference target once per warning
// scope.
func ReportReferenceNotFound(ctx context.Context, logger *logging.ChanneledLogger, err *model.ReferenceNotFoundError) {
	key := "reference-not-found:" + err.Model + "." + err.Property
	logger.WarnOnce(ctx, logging.ChannelNormalize, key, "Reference model not found, leaving value unresolved",
		"model", err.Model,
		"property", err.Property,
		"target", err.Target,
		"error", err.Error(),
	)
}
