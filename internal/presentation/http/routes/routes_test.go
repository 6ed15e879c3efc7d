package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/application/container"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/transport"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newContainer(t *testing.T, mock *transport.Mock) *container.Container {
	t.Helper()
	reg := model.MustRegistry(
		model.Model{Key: "user"},
		model.Model{Key: "resource", References: map[string]string{"user": "user"}},
	)
	c, err := container.NewContainer(config.Options{Name: "api"}, reg, container.Dependencies{Transport: mock})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func decode(t *testing.T, s string) entity.Value {
	t.Helper()
	v, err := entity.Decode([]byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCollectionRoutes(t *testing.T) {
	mock := transport.NewMock().
		Reply(http.MethodGet, "resource", decode(t, `[{"id":"r1","user":{"id":"u1","name":"Bob"}}]`)).
		Reply(http.MethodPost, "user", decode(t, `{"id":"u2","name":"Ann"}`))
	r := SetupRoutes(newContainer(t, mock))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		want   string
	}{
		{"fetch collection", http.MethodPost, "/api/collections/resource/fetch", "", http.StatusOK, `"r1"`},
		{"view users", http.MethodGet, "/api/collections/user", "", http.StatusOK, `"Bob"`},
		{"cached item", http.MethodGet, "/api/collections/user/u1", "", http.StatusOK, `"Bob"`},
		{"create", http.MethodPost, "/api/collections/user", `{"name":"Ann"}`, http.StatusCreated, `"u2"`},
		{"unknown model", http.MethodGet, "/api/collections/ghost", "", http.StatusNotFound, "unknown model"},
		{"upstream failure", http.MethodPatch, "/api/collections/user/u1", `{"name":"X"}`, http.StatusBadGateway, `"upstreamStatus":404`},
		{"models", http.MethodGet, "/api/models", "", http.StatusOK, `"resource"`},
		{"health", http.MethodGet, "/health", "", http.StatusOK, `"store":"api"`},
		{"warm", http.MethodPost, "/api/warm", `{"models":["resource"]}`, http.StatusOK, `"warmed":["resource"]`},
		{"warm unknown", http.MethodPost, "/api/warm", `{"models":["ghost"]}`, http.StatusNotFound, "unknown model"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, r, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Fatalf("body %s does not contain %s", w.Body.String(), tt.want)
			}
			if w.Header().Get("X-Request-ID") == "" {
				t.Fatal("responses should carry a request id")
			}
		})
	}
	if mock.Count(http.MethodGet, "user/u1") != 0 {
		t.Fatal("cached item should not be fetched")
	}
}

func TestQueueRoutes(t *testing.T) {
	mock := transport.NewMock().
		Reply(http.MethodGet, "user", decode(t, `[{"id":"u1","name":"Bob"}]`)).
		Fail(http.MethodDelete, "user/u1", http.StatusConflict)
	c := newContainer(t, mock)
	r := SetupRoutes(c)

	if w := do(t, r, http.MethodPost, "/api/collections/user/fetch", ""); w.Code != http.StatusOK {
		t.Fatalf("fetch failed: %s", w.Body.String())
	}
	if w := do(t, r, http.MethodPost, "/api/queue/user/rename", `{"id":"u1"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown action should be rejected, got %d", w.Code)
	}
	if w := do(t, r, http.MethodPost, "/api/queue/user/delete", `{"id":"u1"}`); w.Code != http.StatusAccepted {
		t.Fatalf("queue delete failed: %d %s", w.Code, w.Body.String())
	}
	if _, ok := c.Store.Item("user", "u1"); ok {
		t.Fatal("queued delete should hide the item")
	}

	w := do(t, r, http.MethodPost, "/api/queue/process", `{"models":["user"]}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("failed drain should report the upstream error, got %d", w.Code)
	}
	var body struct {
		Pending map[string]int `json:"pending"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Pending["user"] != 1 {
		t.Fatalf("failed entry should still be pending: %s", w.Body.String())
	}

	if w := do(t, r, http.MethodDelete, "/api/queue/user/delete/u1", ""); w.Code != http.StatusNoContent {
		t.Fatalf("cancel failed: %d %s", w.Code, w.Body.String())
	}
	if _, ok := c.Store.Item("user", "u1"); !ok {
		t.Fatal("cancel should restore the item")
	}
	if w := do(t, r, http.MethodDelete, "/api/queue/user/delete/u1", ""); w.Code != http.StatusNotFound {
		t.Fatalf("second cancel should find nothing, got %d", w.Code)
	}
}

func TestChangesWebsocket(t *testing.T) {
	mock := transport.NewMock().Reply(http.MethodGet, "user", decode(t, `[{"id":"u1"}]`))
	c := newContainer(t, mock)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartRealtime(ctx)

	srv := httptest.NewServer(SetupRoutes(c))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/changes?models=user", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for c.Hub.ClientCount("api") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	res, err := http.Post(srv.URL+"/api/collections/user/fetch", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	seen := map[stores.ChangeKind]bool{}
	for !seen[stores.ChangeMerged] {
		var ev stores.ChangeEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read change event: %v", err)
		}
		if ev.Model != "user" {
			t.Fatalf("filter should only pass user events, got %+v", ev)
		}
		seen[ev.Kind] = true
	}
}
