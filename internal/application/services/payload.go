// Package services provides application-level services that orchestrate
// the entity cache: fetching and storing through the transport, and queueing
// local mutations until they are confirmed or cancelled.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
)

// ErrMissingID is returned when an operation needs an entity id.
var ErrMissingID = errors.New("entity id is required")

// ErrMissingData is returned when an operation needs a payload.
var ErrMissingData = errors.New("payload data is required")

// Payload describes one store operation against a model.
type Payload struct {
	ID   string       `json:"id,omitempty"`
	Type string       `json:"type"`
	URL  string       `json:"url,omitempty"`
	Data entity.Value `json:"data,omitempty"`

	// Query is a string, url.Values or map appended to the request URL.
	Query any `json:"query,omitempty"`

	ForceFetch bool `json:"forceFetch,omitempty"`

	// Clear resets the collection before the fetched data is merged. When nil
	// it defaults to true for collection fetches and false by id.
	Clear *bool `json:"clear,omitempty"`

	DataPath string      `json:"dataPath,omitempty"`
	Header   http.Header `json:"-"`
}

func (p Payload) url() string {
	return transport.FormatURL(p.Type, p.ID, p.URL, p.Query)
}

func (p Payload) request(method string, data entity.Value) transport.Request {
	return transport.Request{
		Method:   method,
		URL:      p.url(),
		Data:     data,
		Header:   p.Header,
		DataPath: p.DataPath,
	}
}

// bulkDeleteURL appends the delete subresource before the query string.
func (p Payload) bulkDeleteURL() string {
	base := transport.FormatURL(p.Type, "", p.URL, nil)
	return transport.FormatURL("", "", base+"/delete", p.Query)
}

func (p Payload) shouldClear() bool {
	if p.Clear != nil {
		return *p.Clear
	}
	return p.ID == ""
}

// Bool returns a pointer to b, for Payload.Clear.
func Bool(b bool) *bool { return &b }

// operation carries the per-call context shared by every service method: a
// warning scope so each condition is logged once, and a performance marker.
type operation struct {
	ctx    context.Context
	marker *performance.Marker
}

func startOperation(ctx context.Context, tracker *performance.Tracker, storeName, name, modelKey string) *operation {
	ctx = logging.WithWarningScope(logging.WithStoreName(ctx, storeName))
	op := &operation{ctx: ctx}
	if tracker != nil {
		op.marker = tracker.StartOperationWithContext(ctx, name, modelKey)
	}
	return op
}

func (op *operation) hit() {
	if op.marker != nil {
		op.marker.AddCacheHit()
	}
}

func (op *operation) miss() {
	if op.marker != nil {
		op.marker.AddCacheMiss()
	}
}

func (op *operation) annotate(key string, value any) {
	if op.marker != nil {
		op.marker.AddMetadata(key, value)
	}
}

func (op *operation) finish(tracker *performance.Tracker, err error) {
	if op.marker == nil {
		return
	}
	if err != nil {
		op.marker.SetError(err)
	}
	tracker.CompleteOperation(op.marker)
}

func modelError(op, modelKey string, err error) error {
	return fmt.Errorf("failed to %s %s: %w", op, modelKey, err)
}
