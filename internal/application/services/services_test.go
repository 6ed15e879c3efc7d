package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/modifiers"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/normalizer"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/types"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/performance"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
)

type fixture struct {
	store    *stores.CollectionStore
	entities *EntityService
	queue    *QueueService
	mock     *transport.Mock
	logs     *bytes.Buffer
	tracker  *performance.Tracker
}

func newFixture(t *testing.T, models ...model.Model) *fixture {
	t.Helper()
	if len(models) == 0 {
		models = []model.Model{
			{Key: "user"},
			{Key: "resource", References: map[string]string{"user": "user"}},
		}
	}
	var logs bytes.Buffer
	logger := logging.NewWriterLogger(&logs, slog.LevelInfo)
	reg := model.MustRegistry(models...)
	store := stores.NewCollectionStore("api", reg, logger)
	pipeline := modifiers.NewPipeline(reg, logger)
	n := normalizer.New(store, pipeline, logger)
	mock := transport.NewMock()
	tracker := performance.NewTracker(nil, nil, logger)
	return &fixture{
		store:    store,
		entities: NewEntityService(n, pipeline, mock, http.MethodPatch, logger, tracker),
		queue:    NewQueueService(n, pipeline, mock, logger, tracker),
		mock:     mock,
		logs:     &logs,
		tracker:  tracker,
	}
}

func decode(t *testing.T, s string) entity.Value {
	t.Helper()
	v, err := entity.Decode([]byte(s))
	if err != nil {
		t.Fatalf("decode %s: %v", s, err)
	}
	return v
}

func get(t *testing.T, v entity.Value, name string) entity.Value {
	t.Helper()
	e, ok := v.(*entity.Entity)
	if !ok {
		t.Fatalf("expected entity, got %T", v)
	}
	f, _ := e.Get(name)
	return f
}

func (f *fixture) load(t *testing.T, modelKey, body string) {
	t.Helper()
	f.mock.Reply(http.MethodGet, modelKey, decode(t, body))
	if _, err := f.entities.Get(context.Background(), Payload{Type: modelKey}); err != nil {
		t.Fatal(err)
	}
}

func TestGetNormalizesResourcesAndUsers(t *testing.T) {
	f := newFixture(t)
	f.load(t, "resource", `[{"id":"r1","user":{"id":"u1","name":"Bob"}}]`)

	r1, ok := f.store.Entity("resource", "r1")
	if !ok {
		t.Fatal("resource r1 missing")
	}
	u1, ok := f.store.Entity("user", "u1")
	if !ok {
		t.Fatal("user u1 missing")
	}
	if get(t, r1, "user") != entity.Value(u1) {
		t.Fatal("resource should reference the stored user")
	}
	if get(t, u1, "name") != entity.String("Bob") {
		t.Fatalf("unexpected user %s", u1)
	}
	u1.Set("name", entity.String("Robert"))
	if get(t, get(t, r1, "user"), "name") != entity.String("Robert") {
		t.Fatal("mutation should be visible through the reference")
	}
	view, _ := f.store.View("resource")
	if !view.Loaded {
		t.Fatal("collection should be marked loaded")
	}
}

func TestGetReturnsCachedItem(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"u1","name":"Bob"}]`)
	ctx := context.Background()

	cached, err := f.entities.Get(ctx, Payload{Type: "user", ID: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	live, _ := f.store.Entity("user", "u1")
	if cached != entity.Value(live) {
		t.Fatal("cached get should return the live entity")
	}
	if n := len(f.mock.Requests()); n != 1 {
		t.Fatalf("cached get should not call the transport, got %d requests", n)
	}

	f.mock.Reply(http.MethodGet, "user/u1", decode(t, `{"id":"u1","name":"Alice"}`))
	if _, err := f.entities.Get(ctx, Payload{Type: "user", ID: "u1", ForceFetch: true}); err != nil {
		t.Fatal(err)
	}
	if get(t, live, "name") != entity.String("Alice") {
		t.Fatal("forced fetch should update the live entity in place")
	}
	if f.store.Len("user") != 1 {
		t.Fatal("fetch by id should not clear the collection")
	}
}

func TestGetClearsCollectionByDefault(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"u1"},{"id":"u2"}]`)
	f.load(t, "user", `[{"id":"u2"}]`)
	if ids := f.store.IDs("user"); len(ids) != 1 || ids[0] != "u2" {
		t.Fatalf("collection fetch should replace the collection, got %v", ids)
	}

	f.mock.Reply(http.MethodGet, "user", decode(t, `[{"id":"u3"}]`))
	if _, err := f.entities.Get(context.Background(), Payload{Type: "user", Clear: Bool(false)}); err != nil {
		t.Fatal(err)
	}
	if f.store.Len("user") != 2 {
		t.Fatal("clear=false should merge into the existing collection")
	}
}

func TestGetFailureLeavesCollection(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"u1"}]`)
	f.mock.Fail(http.MethodGet, "user?page=2", http.StatusBadGateway)

	_, err := f.entities.Get(context.Background(), Payload{Type: "user", Query: "page=2"})
	var terr *transport.Error
	if !errors.As(err, &terr) || terr.Status != http.StatusBadGateway {
		t.Fatalf("expected transport error, got %v", err)
	}
	if f.store.Len("user") != 1 {
		t.Fatal("failed fetch must not clear the collection")
	}
	if stats := f.tracker.GetOverallStats(); stats == nil {
		t.Fatal("tracker should have recorded operations")
	}
}

func TestPostAppliesBeforeSaveAndMergesResponse(t *testing.T) {
	f := newFixture(t, model.Model{Key: "user", BeforeSave: func(_ context.Context, v entity.Value) (entity.Value, error) {
		e := v.(*entity.Entity)
		e.Delete("local")
		return e, nil
	}})
	f.mock.Reply(http.MethodPost, "user", decode(t, `{"id":"srv1","name":"Bob"}`))

	data := decode(t, `{"name":"Bob","local":true}`)
	out, err := f.entities.Create(context.Background(), Payload{Type: "user", Data: data})
	if err != nil {
		t.Fatal(err)
	}
	if entity.IDOf(out) != "srv1" {
		t.Fatalf("unexpected result %v", out)
	}
	sent := f.mock.Requests()[0].Data.(*entity.Entity)
	if sent.Has("local") {
		t.Fatal("beforeSave should run on the request body")
	}
	if !data.(*entity.Entity).Has("local") {
		t.Fatal("caller data must not be modified")
	}
	if _, ok := f.store.Origin("user", "srv1"); !ok {
		t.Fatal("created entity should have an origin snapshot")
	}
}

func TestPatchMergesPartialResponse(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"1","a":1,"b":2}]`)
	before, _ := f.store.Entity("user", "1")
	f.mock.Reply(http.MethodPatch, "user/1", decode(t, `{"id":"1","a":99}`))

	if _, err := f.entities.Save(context.Background(), Payload{Type: "user", ID: "1", Data: decode(t, `{"a":99}`)}); err != nil {
		t.Fatal(err)
	}
	after, _ := f.store.Entity("user", "1")
	if before != after || get(t, after, "a") != entity.Number(99) || get(t, after, "b") != entity.Number(2) {
		t.Fatalf("partial update should keep identity and untouched fields: %s", after)
	}
}

func TestDeleteSingleAndBulk(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"u1"},{"id":"u2"},{"id":"u3"}]`)
	ctx := context.Background()

	f.mock.Reply(http.MethodDelete, "user/u1", nil)
	if err := f.entities.Delete(ctx, Payload{Type: "user", ID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Item("user", "u1"); ok {
		t.Fatal("u1 should be removed")
	}
	if _, ok := f.store.Origin("user", "u1"); ok {
		t.Fatal("u1 origin should be removed")
	}

	f.mock.Reply(http.MethodPatch, "user/delete", nil)
	if err := f.entities.Delete(ctx, Payload{Type: "user", Data: decode(t, `[{"id":"u2"},{"id":"u3"}]`)}); err != nil {
		t.Fatal(err)
	}
	if f.store.Len("user") != 0 {
		t.Fatalf("bulk delete should remove every id, left %v", f.store.IDs("user"))
	}
	if f.mock.Count(http.MethodPatch, "user/delete") != 1 {
		t.Fatalf("bulk delete should use the delete subresource: %+v", f.mock.Requests())
	}

	if err := f.entities.Delete(ctx, Payload{Type: "user"}); !errors.Is(err, ErrMissingID) {
		t.Fatalf("expected ErrMissingID, got %v", err)
	}
}

func TestQueuePatchThenCancelRestores(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"1","name":"A"}]`)
	ctx := context.Background()

	if _, err := f.queue.QueueAction(ctx, "user", "patch", decode(t, `{"id":"1","name":"B"}`)); err != nil {
		t.Fatal(err)
	}
	live, _ := f.store.Entity("user", "1")
	if get(t, live, "name") != entity.String("B") {
		t.Fatal("queued patch should apply optimistically")
	}
	if !f.store.HasQueued("user", "1") || !f.store.HasAction("user") {
		t.Fatal("id should be queued")
	}

	ok, err := f.queue.CancelAction(ctx, "user", "patch", "1")
	if err != nil || !ok {
		t.Fatalf("cancel failed: %v %v", ok, err)
	}
	if get(t, live, "name") != entity.String("A") {
		t.Fatalf("cancel should restore the origin value, got %s", live)
	}
	if f.store.HasQueued("user", "1") || f.store.HasAction("user") {
		t.Fatal("id should no longer be queued")
	}
	if ok, _ := f.queue.CancelAction(ctx, "user", "patch", "1"); ok {
		t.Fatal("second cancel should report nothing queued")
	}
}

func TestQueueDeleteAndCancel(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"1","name":"A"}]`)
	ctx := context.Background()

	if _, err := f.queue.QueueAction(ctx, "user", "delete", decode(t, `{"id":"1"}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Item("user", "1"); ok {
		t.Fatal("queued delete should remove the live item")
	}
	if _, ok := f.store.Origin("user", "1"); !ok {
		t.Fatal("queued delete should keep the origin")
	}
	if _, err := f.queue.CancelAction(ctx, "user", "delete", "1"); err != nil {
		t.Fatal(err)
	}
	restored, ok := f.store.Entity("user", "1")
	if !ok || get(t, restored, "name") != entity.String("A") {
		t.Fatal("cancelling a delete should restore the item")
	}
}

func TestQueueRejectsUnknownAction(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.QueueAction(context.Background(), "user", "upsert", decode(t, `{"id":"1"}`))
	var rejected *types.QueueActionRejectedError
	if !errors.As(err, &rejected) || rejected.Model != "user" {
		t.Fatalf("expected QueueActionRejectedError, got %v", err)
	}
	if f.store.HasAction("user") || f.store.Len("user") != 0 {
		t.Fatal("rejected action must leave the collection unchanged")
	}
	if !strings.Contains(f.logs.String(), "Queue action rejected") {
		t.Fatal("rejection should be logged")
	}
}

func TestQueuePostDrainMergesServerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	resets := 0
	if err := f.queue.OnQueueReset("user", func() { resets++ }); err != nil {
		t.Fatal(err)
	}

	if _, err := f.queue.QueueAction(ctx, "user", "post", decode(t, `{"id":"tmp","name":"x"}`)); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Item("user", "tmp"); !ok {
		t.Fatal("queued post should create the live item")
	}
	f.mock.Reply(http.MethodPost, "user", decode(t, `{"id":"srv1","name":"x"}`))

	if err := f.queue.ProcessQueue(ctx, "user"); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Item("user", "srv1"); !ok {
		t.Fatal("server entity should be merged")
	}
	if _, ok := f.store.Item("user", "tmp"); ok {
		t.Fatal("temporary item should be removed")
	}
	if q := f.store.QueueSnapshot("user"); len(q.Post) != 0 || f.store.HasAction("user") {
		t.Fatal("post queue should be empty")
	}
	if resets != 1 {
		t.Fatalf("queue reset callback should run once, got %d", resets)
	}
}

func TestQueuePostWithoutIDGetsTemporaryID(t *testing.T) {
	f := newFixture(t)
	f.queue.newID = func() string { return "tmp1" }
	entry, err := f.queue.QueueAction(context.Background(), "user", "post", decode(t, `{"name":"x"}`))
	if err != nil {
		t.Fatal(err)
	}
	if entry.ID != "tmp1" || entity.IDOf(entry.Data) != "tmp1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if _, ok := f.store.Item("user", "tmp1"); !ok {
		t.Fatal("optimistic item should use the temporary id")
	}
	if _, err := f.queue.QueueAction(context.Background(), "user", "patch", decode(t, `{"name":"x"}`)); !errors.Is(err, ErrMissingID) {
		t.Fatalf("patch without id should fail, got %v", err)
	}
}

func TestProcessQueueKeepsFailedEntries(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"u1","n":1},{"id":"u2","n":1}]`)
	ctx := context.Background()
	resets := 0
	_ = f.queue.OnQueueReset("user", func() { resets++ })

	for _, body := range []string{`{"id":"u1","n":2}`, `{"id":"u2","n":2}`} {
		if _, err := f.queue.QueueAction(ctx, "user", "patch", decode(t, body)); err != nil {
			t.Fatal(err)
		}
	}
	f.mock.Reply(http.MethodPatch, "user/u1", decode(t, `{"id":"u1","n":2}`))
	f.mock.Fail(http.MethodPatch, "user/u2", http.StatusInternalServerError)

	err := f.queue.ProcessQueue(ctx, "user")
	var terr *transport.Error
	if !errors.As(err, &terr) || terr.Status != http.StatusInternalServerError {
		t.Fatalf("expected the failed entry's error, got %v", err)
	}
	if f.store.HasQueued("user", "u1") {
		t.Fatal("successful entry should leave the queue")
	}
	if !f.store.HasQueued("user", "u2") {
		t.Fatal("failed entry should stay queued")
	}
	if resets != 0 {
		t.Fatal("queue is not empty, reset callbacks must not run")
	}
	origin, _ := f.store.Origin("user", "u1")
	if get(t, origin, "n") != entity.Number(2) {
		t.Fatal("confirmed patch should become the new origin")
	}
}

func TestProcessQueueSeveralModels(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mock.Fallback(func(_ context.Context, req transport.Request) (entity.Value, error) {
		e := entity.CloneEntity(req.Data.(*entity.Entity))
		e.Set("id", entity.String("srv-"+strings.Split(req.URL, "/")[0]))
		return e, nil
	})
	_, _ = f.queue.QueueAction(ctx, "user", "post", decode(t, `{"id":"t1"}`))
	_, _ = f.queue.QueueAction(ctx, "resource", "post", decode(t, `{"id":"t2"}`))

	if err := f.queue.ProcessQueue(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Item("user", "srv-user"); !ok {
		t.Fatal("user post should be confirmed")
	}
	if _, ok := f.store.Item("resource", "srv-resource"); !ok {
		t.Fatal("resource post should be confirmed")
	}
	if err := f.queue.ProcessQueue(ctx, "ghost"); !errors.Is(err, model.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestCancelQueueRestoresOrigins(t *testing.T) {
	f := newFixture(t, model.Model{Key: "user", AfterQueue: func(_ context.Context, v entity.Value) (entity.Value, error) {
		e := v.(*entity.Entity)
		e.Set("restored", entity.Bool(true))
		return e, nil
	}})
	f.load(t, "user", `[{"id":"u1","name":"A"},{"id":"u2"}]`)
	f.queue.newID = func() string { return "tmp1" }
	ctx := context.Background()
	resets := 0
	_ = f.queue.OnQueueReset("user", func() { resets++ })

	_, _ = f.queue.QueueAction(ctx, "user", "patch", decode(t, `{"id":"u1","name":"B"}`))
	_, _ = f.queue.QueueAction(ctx, "user", "delete", decode(t, `{"id":"u2"}`))
	_, _ = f.queue.QueueAction(ctx, "user", "post", decode(t, `{"name":"new"}`))

	if err := f.queue.CancelQueue(ctx, "user"); err != nil {
		t.Fatal(err)
	}
	u1, _ := f.store.Entity("user", "u1")
	if get(t, u1, "name") != entity.String("A") || get(t, u1, "restored") != entity.Bool(true) {
		t.Fatalf("patched item should be restored through afterQueue: %s", u1)
	}
	if _, ok := f.store.Item("user", "u2"); !ok {
		t.Fatal("deleted item should be restored")
	}
	if _, ok := f.store.Item("user", "tmp1"); ok {
		t.Fatal("optimistic creation should be removed")
	}
	if f.store.HasAction("user") || resets != 1 {
		t.Fatalf("queue should be empty and callbacks run once, resets=%d", resets)
	}
	if len(f.mock.Requests()) != 1 {
		t.Fatal("cancel must not call the transport")
	}
}

func TestResetQueueRevertsPatches(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"u1","name":"A"}]`)
	ctx := context.Background()
	resets := 0
	_ = f.queue.OnQueueReset("user", func() { resets++ })

	_, _ = f.queue.QueueAction(ctx, "user", "patch", decode(t, `{"id":"u1","name":"B"}`))
	_, _ = f.queue.QueueAction(ctx, "user", "post", decode(t, `{"id":"t1"}`))
	if err := f.queue.ResetQueue(ctx, "user"); err != nil {
		t.Fatal(err)
	}
	u1, _ := f.store.Entity("user", "u1")
	if get(t, u1, "name") != entity.String("A") {
		t.Fatal("reset should revert queued patches")
	}
	if f.store.HasAction("user") || resets != 1 {
		t.Fatal("queue should be empty and callbacks run")
	}
}

func TestResetClearsEverything(t *testing.T) {
	f := newFixture(t)
	f.load(t, "user", `[{"id":"u1"}]`)
	_, _ = f.queue.QueueAction(context.Background(), "user", "patch", decode(t, `{"id":"u1","x":1}`))

	if err := f.entities.Reset(context.Background(), "user"); err != nil {
		t.Fatal(err)
	}
	view, _ := f.store.View("user")
	if len(view.Items) != 0 || len(view.OriginItems) != 0 || view.HasAction || view.Loaded {
		t.Fatalf("reset should clear the collection: %+v", view)
	}
}
