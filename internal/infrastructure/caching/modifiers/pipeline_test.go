package modifiers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
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

// tag records the order in which hooks run.
func tag(order *[]string, label string) model.Hook {
	return func(_ context.Context, v entity.Value) (entity.Value, error) {
		e := v.(*entity.Entity)
		*order = append(*order, label+":"+e.ID())
		e.Set("seen", entity.Bool(true))
		return e, nil
	}
}

func TestApplyTransformsReferencesFirst(t *testing.T) {
	var order []string
	reg := model.MustRegistry(
		model.Model{Key: "user", AfterGet: tag(&order, "user")},
		model.Model{Key: "resource", References: map[string]string{"user": "user"}, AfterGet: func(_ context.Context, v entity.Value) (entity.Value, error) {
			e := v.(*entity.Entity)
			u, _ := e.Get("user")
			if seen, _ := u.(*entity.Entity).Get("seen"); seen != entity.Bool(true) {
				t.Errorf("resource hook ran before its user reference was transformed")
			}
			order = append(order, "resource:"+e.ID())
			return e, nil
		}},
	)
	p := NewPipeline(reg, nil)

	data := mustDecode(t, `[{"id":"r1","user":{"id":"u1"}},{"id":"r2","user":{"id":"u2"}}]`)
	out, err := p.Apply(context.Background(), model.AfterGet, "resource", data)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"user:u1", "resource:r1", "user:u2", "resource:r2"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Fatalf("hook order %v, want %v", order, want)
	}
	list := out.(entity.List)
	if entity.IDOf(list[0]) != "r1" || entity.IDOf(list[1]) != "r2" {
		t.Fatal("list order should be preserved")
	}
	u, _ := list[0].(*entity.Entity).Get("user")
	if _, ok := u.(*entity.Entity); !ok {
		t.Fatalf("nested reference should be promoted to an entity, got %T", u)
	}
}

func TestApplyNilAndUndeclared(t *testing.T) {
	p := NewPipeline(model.MustRegistry(model.Model{Key: "user"}), nil)
	out, err := p.Apply(context.Background(), model.BeforeSave, "user", nil)
	if err != nil || out != nil {
		t.Fatalf("nil input should pass through, got %v %v", out, err)
	}
	e := entity.NewWithID("1")
	out, _ = p.Apply(context.Background(), model.BeforeSave, "user", e)
	if out != entity.Value(e) {
		t.Fatal("undeclared hook should be the identity")
	}
	if _, err := p.Apply(context.Background(), model.AfterGet, "ghost", e); !errors.Is(err, model.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
}

func TestApplyHookMayReturnOpaque(t *testing.T) {
	type user struct {
		ID   string
		Born time.Time
	}
	reg := model.MustRegistry(model.Model{Key: "user", AfterGet: func(_ context.Context, v entity.Value) (entity.Value, error) {
		e := v.(*entity.Entity)
		return entity.Opaque{ID: e.ID(), Value: &user{ID: e.ID()}}, nil
	}})
	out, err := NewPipeline(reg, nil).Apply(context.Background(), model.AfterGet, "user", entity.NewWithID("7"))
	if err != nil {
		t.Fatal(err)
	}
	o, ok := out.(entity.Opaque)
	if !ok || o.ID != "7" {
		t.Fatalf("expected opaque replacement, got %#v", out)
	}
	if _, ok := o.Value.(*user); !ok {
		t.Fatalf("unexpected opaque payload %T", o.Value)
	}
}

func TestApplyRecoversFailingHooks(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, slog.LevelInfo)
	reg := model.MustRegistry(
		model.Model{Key: "user", BeforeSave: func(context.Context, entity.Value) (entity.Value, error) {
			panic("boom")
		}},
		model.Model{Key: "tag", BeforeSave: func(context.Context, entity.Value) (entity.Value, error) {
			return nil, errors.New("bad tag")
		}},
	)
	p := NewPipeline(reg, logger)

	e := entity.New(map[string]entity.Value{"id": entity.String("1"), "name": entity.String("Bob")})
	out, err := p.Apply(context.Background(), model.BeforeSave, "user", e)
	if err != nil {
		t.Fatal(err)
	}
	if out != entity.Value(e) {
		t.Fatal("panicking hook should leave the value untransformed")
	}
	out, _ = p.Apply(context.Background(), model.BeforeSave, "tag", entity.NewWithID("t"))
	if entity.IDOf(out) != "t" {
		t.Fatal("failing hook should leave the value untransformed")
	}
	log := buf.String()
	if !strings.Contains(log, "panic: boom") || !strings.Contains(log, "bad tag") {
		t.Fatalf("failures should be logged on the modifier channel: %s", log)
	}
}

func TestApplyMissingReferenceWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, slog.LevelInfo)
	reg := model.MustRegistry(model.Model{Key: "resource", References: map[string]string{"owner": "account", "user": "user"}}, model.Model{Key: "user"})
	p := NewPipeline(reg, logger)

	ctx := logging.WithWarningScope(context.Background())
	data := mustDecode(t, `[{"id":"r1","owner":{"id":"a1"},"user":{"id":"u1"}},{"id":"r2","owner":{"id":"a2"}}]`)
	out, err := p.Apply(ctx, model.AfterGet, "resource", data)
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(buf.String(), "Reference model not found"); got != 1 {
		t.Fatalf("expected one warning, got %d: %s", got, buf.String())
	}
	if !strings.Contains(buf.String(), `"target":"account"`) || !strings.Contains(buf.String(), `"property":"owner"`) {
		t.Fatalf("warning should name the model and property: %s", buf.String())
	}
	r1 := out.(entity.List)[0].(*entity.Entity)
	owner, _ := r1.Get("owner")
	if _, ok := owner.(entity.Object); !ok {
		t.Fatalf("unresolved reference should stay raw, got %T", owner)
	}
	user, _ := r1.Get("user")
	if _, ok := user.(*entity.Entity); !ok {
		t.Fatalf("sibling reference should still be processed, got %T", user)
	}
}

func TestApplyTerminatesOnCycles(t *testing.T) {
	calls := 0
	count := func(_ context.Context, v entity.Value) (entity.Value, error) {
		calls++
		return v, nil
	}
	reg := model.MustRegistry(
		model.Model{Key: "a", References: map[string]string{"b": "b"}, BeforeQueue: count},
		model.Model{Key: "b", References: map[string]string{"a": "a"}, BeforeQueue: count},
	)
	a := entity.NewWithID("a1")
	b := entity.NewWithID("b1")
	a.Set("b", b)
	b.Set("a", a)

	if _, err := NewPipeline(reg, nil).Apply(context.Background(), model.BeforeQueue, "a", a); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("each entity in the cycle should be hooked once, got %d", calls)
	}
}

func TestApplySharedEntityHookedOnce(t *testing.T) {
	calls := 0
	reg := model.MustRegistry(
		model.Model{Key: "user", AfterQueue: func(_ context.Context, v entity.Value) (entity.Value, error) {
			calls++
			return v, nil
		}},
		model.Model{Key: "resource", References: map[string]string{"user": "user"}},
	)
	shared := entity.NewWithID("u1")
	data := entity.List{
		entity.New(map[string]entity.Value{"id": entity.String("r1"), "user": shared}),
		entity.New(map[string]entity.Value{"id": entity.String("r2"), "user": shared}),
	}
	if _, err := NewPipeline(reg, nil).Apply(context.Background(), model.AfterQueue, "resource", data); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("shared entity should be hooked once, got %d", calls)
	}
}
