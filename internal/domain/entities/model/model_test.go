package model

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
)

func TestNewRegistryDefaults(t *testing.T) {
	r, err := NewRegistry(
		Model{Key: "user"},
		Model{Key: "resource", Plural: "RESOURCES", References: map[string]string{"user": "user"}},
	)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	user, ok := r.Get("user")
	if !ok {
		t.Fatal("user model missing")
	}
	if user.Name != "USER" || user.Plural != "USERS" {
		t.Fatalf("unexpected defaults: name=%s plural=%s", user.Name, user.Plural)
	}
	if m, ok := r.ByPlural("resources"); !ok || m.Key != "resource" {
		t.Fatalf("plural lookup should be case insensitive, got %v %v", m, ok)
	}
	if got := r.Keys(); len(got) != 2 || got[0] != "resource" || got[1] != "user" {
		t.Fatalf("keys should be sorted, got %v", got)
	}
}

func TestNewRegistryRejectsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		models []Model
	}{
		{"empty key", []Model{{}}},
		{"duplicate key", []Model{{Key: "a"}, {Key: "a"}}},
		{"duplicate plural", []Model{{Key: "a", Plural: "X"}, {Key: "b", Plural: "X"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.models...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	r := MustRegistry(Model{Key: "user"})
	if _, err := r.Lookup("missing"); !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", err)
	}
	refErr := &ReferenceNotFoundError{Model: "resource", Property: "owner", Target: "account"}
	if !errors.Is(refErr, ErrUnknownModel) {
		t.Fatal("reference error should unwrap to ErrUnknownModel")
	}
}

func TestHookByName(t *testing.T) {
	called := ""
	mk := func(name string) Hook {
		return func(_ context.Context, v entity.Value) (entity.Value, error) {
			called = name
			return v, nil
		}
	}
	m := Model{Key: "user", AfterGet: mk("get"), BeforeSave: mk("save")}
	if m.Hook(BeforeQueue) != nil {
		t.Fatal("undeclared hook should be nil")
	}
	if _, err := m.Hook(BeforeSave)(context.Background(), entity.Null{}); err != nil {
		t.Fatal(err)
	}
	if called != "save" {
		t.Fatalf("expected beforeSave hook, got %q", called)
	}
}

func TestParseRegistryFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	doc := `
models:
  user: {}
  resource:
    plural: RESOURCES
    references:
      user: user
      tags: tag
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}
	r, err := LoadRegistryFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	res, ok := r.Get("resource")
	if !ok {
		t.Fatal("resource missing")
	}
	if got := res.ReferenceProperties(); len(got) != 2 || got[0] != "tags" || got[1] != "user" {
		t.Fatalf("unexpected references %v", got)
	}
	if !res.IsReference("user") || res.IsReference("name") {
		t.Fatal("IsReference mismatch")
	}

	hooked, err := r.WithHooks(func(m *Model) {
		if m.Key == "user" {
			m.AfterGet = func(_ context.Context, v entity.Value) (entity.Value, error) { return v, nil }
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if u, _ := hooked.Get("user"); u.AfterGet == nil {
		t.Fatal("hook not attached")
	}
	if u, _ := r.Get("user"); u.AfterGet != nil {
		t.Fatal("source registry should be untouched")
	}
}

func TestParseRegistryEmpty(t *testing.T) {
	if _, err := ParseRegistry([]byte("models: {}")); err == nil {
		t.Fatal("expected error for empty registry")
	}
}
