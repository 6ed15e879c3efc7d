package normalizer

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/modifiers"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

func mustDecode(t *testing.T, s string) entity.Value {
	t.Helper()
	v, err := entity.Decode([]byte(s))
	if err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return v
}

func setup(t *testing.T, logger *logging.ChanneledLogger, models ...model.Model) *Normalizer {
	t.Helper()
	if len(models) == 0 {
		models = []model.Model{
			{Key: "user"},
			{Key: "resource", References: map[string]string{"user": "user"}},
		}
	}
	reg := model.MustRegistry(models...)
	store := stores.NewCollectionStore("api", reg, logger)
	return New(store, modifiers.NewPipeline(reg, logger), logger)
}

func field(t *testing.T, v entity.Value, name string) entity.Value {
	t.Helper()
	e, ok := v.(*entity.Entity)
	if !ok {
		t.Fatalf("expected entity, got %T", v)
	}
	f, _ := e.Get(name)
	return f
}

func TestMergeSharesReferencedEntities(t *testing.T) {
	n := setup(t, nil)
	ctx := context.Background()
	data := mustDecode(t, `[{"id":"r1","user":{"id":"u1","name":"Bob"}},{"id":"r2","user":{"id":"u1","name":"Bob"}}]`)
	if _, err := n.Ingest(ctx, "resource", data); err != nil {
		t.Fatal(err)
	}
	s := n.Store()
	r1, _ := s.Item("resource", "r1")
	r2, _ := s.Item("resource", "r2")
	u1, _ := s.Entity("user", "u1")
	if field(t, r1, "user") != entity.Value(u1) || field(t, r2, "user") != entity.Value(u1) {
		t.Fatal("both resources should reference the canonical user")
	}
	if s.Len("user") != 1 || s.Len("resource") != 2 {
		t.Fatalf("unexpected sizes %d users %d resources", s.Len("user"), s.Len("resource"))
	}
	for _, key := range []struct{ model, id string }{{"user", "u1"}, {"resource", "r1"}, {"resource", "r2"}} {
		origin, ok := s.Origin(key.model, key.id)
		if !ok {
			t.Fatalf("missing origin for %s/%s", key.model, key.id)
		}
		live, _ := s.Item(key.model, key.id)
		if origin == live || !entity.Equal(origin, live) {
			t.Fatalf("origin for %s/%s should be an equal detached copy", key.model, key.id)
		}
	}
}

func TestMergeUpdatesInPlace(t *testing.T) {
	n := setup(t, nil)
	ctx := context.Background()
	if _, err := n.Ingest(ctx, "user", mustDecode(t, `{"id":"u1","name":"Bob","age":30}`)); err != nil {
		t.Fatal(err)
	}
	before, _ := n.Store().Entity("user", "u1")

	out, err := n.Ingest(ctx, "user", mustDecode(t, `{"id":"u1","name":"Alice"}`))
	if err != nil {
		t.Fatal(err)
	}
	after, _ := n.Store().Entity("user", "u1")
	if before != after || out != entity.Value(after) {
		t.Fatal("merge should keep the live pointer")
	}
	if field(t, after, "name") != entity.String("Alice") || field(t, after, "age") != entity.Number(30) {
		t.Fatalf("partial update should keep missing fields: %s", after)
	}
	origin, _ := n.Store().Origin("user", "u1")
	if field(t, origin, "name") != entity.String("Alice") {
		t.Fatal("origin should follow the latest server state")
	}
}

func TestMergeIsIdempotent(t *testing.T) {
	n := setup(t, nil)
	ctx := context.Background()
	payload := `[{"id":"r1","user":{"id":"u1","name":"Bob"}}]`
	if _, err := n.Ingest(ctx, "resource", mustDecode(t, payload)); err != nil {
		t.Fatal(err)
	}
	r1, _ := n.Store().Entity("resource", "r1")
	snapshot := entity.CloneEntity(r1)

	if _, err := n.Ingest(ctx, "resource", mustDecode(t, payload)); err != nil {
		t.Fatal(err)
	}
	again, _ := n.Store().Entity("resource", "r1")
	if again != r1 || !entity.Equal(again, snapshot) {
		t.Fatal("merging the same payload twice should change nothing")
	}
}

func TestMergeMissingReferenceModelWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, slog.LevelInfo)
	n := setup(t, logger, model.Model{Key: "resource", References: map[string]string{"owner": "account"}})

	ctx := logging.WithWarningScope(context.Background())
	data := mustDecode(t, `[{"id":"r1","owner":{"id":"a1"}},{"id":"r2","owner":{"id":"a2"}}]`)
	if _, err := n.Ingest(ctx, "resource", data); err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), "Reference model not found"); got != 1 {
		t.Fatalf("expected a single warning, got %d", got)
	}
	if n.Store().Len("resource") != 2 {
		t.Fatal("resources should still be stored")
	}
	r1, _ := n.Store().Item("resource", "r1")
	if _, ok := field(t, r1, "owner").(entity.Object); !ok {
		t.Fatalf("unresolved reference should be left as given, got %T", field(t, r1, "owner"))
	}
}

func TestMergeTerminatesOnCycles(t *testing.T) {
	n := setup(t, nil,
		model.Model{Key: "a", References: map[string]string{"b": "b"}},
		model.Model{Key: "b", References: map[string]string{"a": "a"}},
	)
	a := entity.NewWithID("a1")
	b := entity.NewWithID("b1")
	a.Set("b", b)
	b.Set("a", a)

	if _, err := n.Merge(context.Background(), "a", a); err != nil {
		t.Fatal(err)
	}
	liveA, _ := n.Store().Entity("a", "a1")
	liveB, _ := n.Store().Entity("b", "b1")
	if liveA == nil || liveB == nil {
		t.Fatal("both ends of the cycle should be cached")
	}
	if field(t, liveA, "b") != entity.Value(liveB) || field(t, liveB, "a") != entity.Value(liveA) {
		t.Fatal("cycle should link the canonical entities")
	}
}

func TestMergeOpaqueReplacesItem(t *testing.T) {
	type user struct{ Name string }
	n := setup(t, nil, model.Model{Key: "user", AfterGet: func(_ context.Context, v entity.Value) (entity.Value, error) {
		e := v.(*entity.Entity)
		name, _ := e.Get("name")
		return entity.Opaque{ID: e.ID(), Value: &user{Name: string(name.(entity.String))}}, nil
	}})
	ctx := context.Background()
	if _, err := n.Ingest(ctx, "user", mustDecode(t, `{"id":"u1","name":"Bob"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := n.Ingest(ctx, "user", mustDecode(t, `{"id":"u1","name":"Alice"}`)); err != nil {
		t.Fatal(err)
	}
	item, _ := n.Store().Item("user", "u1")
	o, ok := item.(entity.Opaque)
	if !ok || o.Value.(*user).Name != "Alice" {
		t.Fatalf("opaque item should be replaced wholesale, got %#v", item)
	}
}

func TestRevertRestoresSnapshot(t *testing.T) {
	n := setup(t, nil)
	ctx := context.Background()
	if _, err := n.Ingest(ctx, "resource", mustDecode(t, `{"id":"r1","title":"A","user":{"id":"u1"}}`)); err != nil {
		t.Fatal(err)
	}
	live, _ := n.Store().Entity("resource", "r1")
	u1, _ := n.Store().Entity("user", "u1")

	if _, err := n.MergeOptimistic(ctx, "resource", mustDecode(t, `{"id":"r1","title":"B","draft":true}`)); err != nil {
		t.Fatal(err)
	}
	if field(t, live, "title") != entity.String("B") {
		t.Fatal("optimistic merge should apply to the live item")
	}
	origin, _ := n.Store().Origin("resource", "r1")
	if field(t, origin, "title") != entity.String("A") {
		t.Fatal("optimistic merge should not touch the snapshot")
	}

	ok, err := n.Revert(ctx, "resource", "r1")
	if err != nil || !ok {
		t.Fatalf("revert failed: %v %v", ok, err)
	}
	after, _ := n.Store().Entity("resource", "r1")
	if after != live {
		t.Fatal("revert should restore in place")
	}
	if field(t, live, "title") != entity.String("A") || live.Has("draft") {
		t.Fatalf("revert should restore the snapshot fields: %s", live)
	}
	if field(t, live, "user") != entity.Value(u1) {
		t.Fatal("revert should point references at canonical entities")
	}
	if ok, _ := n.Revert(ctx, "resource", "missing"); ok {
		t.Fatal("revert without a snapshot should report false")
	}
}

func TestRemoveDropsItemAndOrigin(t *testing.T) {
	n := setup(t, nil)
	ctx := context.Background()
	var events []stores.ChangeEvent
	n.Store().Subscribe(func(ev stores.ChangeEvent) { events = append(events, ev) })

	if _, err := n.Ingest(ctx, "user", mustDecode(t, `[{"id":"u1"},{"id":"u2"}]`)); err != nil {
		t.Fatal(err)
	}
	if err := n.Remove(ctx, "user", "u1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := n.Store().Item("user", "u1"); ok {
		t.Fatal("item should be removed")
	}
	if _, ok := n.Store().Origin("user", "u1"); ok {
		t.Fatal("origin should be removed")
	}
	if len(events) != 2 || events[0].Kind != stores.ChangeMerged || len(events[0].IDs) != 2 || events[1].Kind != stores.ChangeRemoved {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestUpdateSnapshotsAfterUnlock(t *testing.T) {
	n := setup(t, nil, model.Model{Key: "user", BeforeQueue: func(_ context.Context, v entity.Value) (entity.Value, error) {
		e := v.(*entity.Entity)
		e.Delete("password")
		return e, nil
	}})
	ctx := context.Background()
	if _, err := n.Ingest(ctx, "user", mustDecode(t, `{"id":"u1","password":"x"}`)); err != nil {
		t.Fatal(err)
	}
	origin, _ := n.Store().Origin("user", "u1")
	if origin.(*entity.Entity).Has("password") {
		t.Fatal("snapshot should pass through beforeQueue")
	}
	live, _ := n.Store().Entity("user", "u1")
	if !live.Has("password") {
		t.Fatal("beforeQueue should run on a copy")
	}
}

func TestUpdateSnapshotIgnoresWaitingWriters(t *testing.T) {
	n := setup(t, nil)
	ctx := context.Background()
	s := n.Store()
	done := make(chan struct{})

	user, _ := s.Registry().Get("user")
	err := n.Update(ctx, func(tx *Tx) error {
		merged := tx.Merge(user, mustDecode(t, `{"id":"u1","name":"server"}`))
		live := merged.(*entity.Entity)
		go func() {
			defer close(done)
			s.Mu.Lock()
			live.Set("name", entity.String("local"))
			s.Mu.Unlock()
		}()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	<-done

	origin, _ := s.Origin("user", "u1")
	if got := field(t, origin, "name"); got != entity.String("server") {
		t.Fatalf("origin should hold the merged value, got %#v", got)
	}
	if got := field(t, mustItem(t, s, "u1"), "name"); got != entity.String("local") {
		t.Fatalf("live item should hold the later write, got %#v", got)
	}
}

func mustItem(t *testing.T, s *stores.CollectionStore, id string) entity.Value {
	t.Helper()
	v, ok := s.Item("user", id)
	if !ok {
		t.Fatalf("missing user %s", id)
	}
	return v
}
