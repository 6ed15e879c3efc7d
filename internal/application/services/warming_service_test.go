package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/cleanup"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
)

func TestWarmLoadsCollections(t *testing.T) {
	f := newFixture(t)
	f.mock.
		Reply(http.MethodGet, "user", decode(t, `[{"id":"u1"},{"id":"u2"}]`)).
		Fail(http.MethodGet, "resource", http.StatusInternalServerError)

	var out bytes.Buffer
	ws := NewWarmingService(f.entities, nil, cleanup.NewReporter(&out), nil)
	result, err := ws.Warm(context.Background(), "user", "resource")

	var terr *transport.Error
	if !errors.As(err, &terr) {
		t.Fatalf("expected the resource failure, got %v", err)
	}
	if len(result.Warmed) != 1 || result.Warmed[0] != "user" || f.store.Len("user") != 2 {
		t.Fatalf("user collection should be warmed: %+v", result)
	}
	if !strings.Contains(out.String(), "1/2 collections") {
		t.Fatalf("unexpected report %q", out.String())
	}
}

func TestWarmSkipsModelsAlreadyWarming(t *testing.T) {
	f := newFixture(t)
	lock := caching.NewWarmingLock()
	if !lock.TryLock("api/user") {
		t.Fatal("lock should be free")
	}
	ws := NewWarmingService(f.entities, lock, nil, nil)

	result, err := ws.Warm(context.Background(), "user")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Skipped) != 1 || len(result.Warmed) != 0 {
		t.Fatalf("held model should be skipped: %+v", result)
	}
	if f.mock.Count(http.MethodGet, "user") != 0 {
		t.Fatal("skipped model should not be fetched")
	}
	lock.Unlock("api/user")
	if lock.Held("api/user") {
		t.Fatal("unlock should release the key")
	}

	if _, err := ws.Warm(context.Background(), "ghost"); !errors.Is(err, model.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}
