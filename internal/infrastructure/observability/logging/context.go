package logging

import (
	"context"
	"sync"
)

type contextKey int

const (
	warningScopeKey contextKey = iota
	storeNameKey
	requestIDKey
)

type warningScope struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (s *warningScope) first(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

// WithWarningScope starts a scope in which WarnOnce reports each key at most
// once. An existing scope in ctx is reused so nested operations share it.
func WithWarningScope(ctx context.Context) context.Context {
	if warningScopeFrom(ctx) != nil {
		return ctx
	}
	return context.WithValue(ctx, warningScopeKey, &warningScope{seen: make(map[string]bool)})
}

func warningScopeFrom(ctx context.Context) *warningScope {
	if ctx == nil {
		return nil
	}
	scope, _ := ctx.Value(warningScopeKey).(*warningScope)
	return scope
}

// WithStoreName attaches the store namespace to ctx for log context.
func WithStoreName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, storeNameKey, name)
}

// StoreName returns the store namespace carried by ctx.
func StoreName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	name, _ := ctx.Value(storeNameKey).(string)
	return name
}

// WithRequestID attaches a request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id carried by ctx.
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
