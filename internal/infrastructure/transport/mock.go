package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
)

// HandlerFunc answers a request made through a Mock.
type HandlerFunc func(ctx context.Context, req Request) (entity.Value, error)

// Mock is an in-memory Transport that records requests and answers them with
// per-route handlers. Routes are keyed by "METHOD url", query included.
type Mock struct {
	mu       sync.Mutex
	routes   map[string]HandlerFunc
	fallback HandlerFunc
	requests []Request
}

// NewMock creates an empty mock. Unrouted requests fail with a 404 Error.
func NewMock() *Mock {
	return &Mock{routes: make(map[string]HandlerFunc)}
}

// On registers fn for method and url.
func (m *Mock) On(method, url string, fn HandlerFunc) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes[method+" "+url] = fn
	return m
}

// Reply registers a fixed response for method and url.
func (m *Mock) Reply(method, url string, data entity.Value) *Mock {
	return m.On(method, url, func(context.Context, Request) (entity.Value, error) {
		return data, nil
	})
}

// Fail registers a failing route with status.
func (m *Mock) Fail(method, url string, status int) *Mock {
	return m.On(method, url, func(_ context.Context, req Request) (entity.Value, error) {
		return nil, &Error{Method: req.Method, URL: req.URL, Status: status}
	})
}

// Fallback handles every request without a route.
func (m *Mock) Fallback(fn HandlerFunc) *Mock {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
	return m
}

func (m *Mock) Request(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn, ok := m.routes[req.Method+" "+req.URL]
	if !ok {
		fn = m.fallback
	}
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Err: err}
	}
	if fn == nil {
		return nil, &Error{Method: req.Method, URL: req.URL, Status: http.StatusNotFound, Body: fmt.Sprintf("no route for %s %s", req.Method, req.URL)}
	}
	data, err := fn(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Response{Status: http.StatusOK, Data: data}, nil
}

// Requests returns a copy of the recorded requests in call order.
func (m *Mock) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Count returns how many recorded requests match method and url.
func (m *Mock) Count(method, url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Method == method && r.URL == url {
			n++
		}
	}
	return n
}
