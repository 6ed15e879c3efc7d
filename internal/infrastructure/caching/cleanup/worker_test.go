package cleanup

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/entity"
	"github.com/AtRiskMedia/apistore-go/internal/domain/entities/model"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/caching/stores"
)

func loadedStore(t *testing.T, lastLoad time.Time) *stores.CollectionStore {
	t.Helper()
	s := stores.NewCollectionStore("api", model.MustRegistry(model.Model{Key: "user"}), nil)
	s.Mu.Lock()
	c := s.MustCollection("user")
	c.Items["u1"] = entity.Opaque{}
	c.Loaded = true
	c.LastLoad = lastLoad
	s.Mu.Unlock()
	return s
}

func TestWorkerExpiresIdleCollections(t *testing.T) {
	now := time.Now().UTC()
	tests := []struct {
		name    string
		ttl     time.Duration
		age     time.Duration
		expired bool
	}{
		{"disabled", 0, time.Hour, false},
		{"fresh", time.Hour, time.Minute, false},
		{"idle", time.Minute, time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := loadedStore(t, now.Add(-tt.age))
			w := NewWorker(s, &Config{CollectionTTL: tt.ttl}, nil, nil)
			got := w.performCleanup(now)
			if (len(got) == 1) != tt.expired {
				t.Fatalf("expired %v, want expired=%v", got, tt.expired)
			}
			if tt.expired && s.Len("user") != 0 {
				t.Fatal("expired collection should be empty")
			}
		})
	}
}

func TestVerboseReport(t *testing.T) {
	now := time.Now().UTC()
	var out bytes.Buffer
	s := loadedStore(t, now.Add(-90*time.Second))
	w := NewWorker(s, &Config{VerboseReporting: true}, NewReporter(&out), nil)
	w.performCleanup(now)

	report := out.String()
	for _, want := range []string{"PERIODIC CACHE CLEANUP", "Store: ", "user:", "items:", "1m30s"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
}
