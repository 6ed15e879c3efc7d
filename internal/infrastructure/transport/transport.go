// Package transport defines the request contract the cache uses to reach a
// REST API, with an HTTP implementation and a recording mock.
package transport

import (
	"context"
	"fmt"
	"net/http"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
)

// Request is one call against the API. URL is relative to the transport's
// base URL unless it is absolute.
type Request struct {
	Method string
	URL    string
	Data   entity.Value
	Query  any
	Header http.Header

	// DataPath unwraps the response body from an envelope such as "data".
	DataPath string
}

// Response carries the decoded body of a successful call.
type Response struct {
	Status int
	Header http.Header
	Data   entity.Value
}

// Transport performs API requests. Implementations must be safe for
// concurrent use.
type Transport interface {
	Request(ctx context.Context, req Request) (*Response, error)
}

// Error is a failed API call: either the request could not be made or the
// server answered with a non-2xx status.
type Error struct {
	Method string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s %s failed: %v", e.Method, e.URL, e.Err)
	}
	msg := fmt.Sprintf("%s %s returned status %d", e.Method, e.URL, e.Status)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Get issues a GET request.
func Get(ctx context.Context, t Transport, url string, query any) (*Response, error) {
	return t.Request(ctx, Request{Method: http.MethodGet, URL: url, Query: query})
}

// Post issues a POST request with data as the JSON body.
func Post(ctx context.Context, t Transport, url string, data entity.Value) (*Response, error) {
	return t.Request(ctx, Request{Method: http.MethodPost, URL: url, Data: data})
}

// Patch issues a PATCH request with data as the JSON body.
func Patch(ctx context.Context, t Transport, url string, data entity.Value) (*Response, error) {
	return t.Request(ctx, Request{Method: http.MethodPatch, URL: url, Data: data})
}

// Delete issues a DELETE request.
func Delete(ctx context.Context, t Transport, url string) (*Response, error) {
	return t.Request(ctx, Request{Method: http.MethodDelete, URL: url})
}
