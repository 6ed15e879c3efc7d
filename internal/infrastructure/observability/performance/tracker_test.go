package performance

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

func TestTrackerLifecycle(t *testing.T) {
	tracker := NewTracker(nil, nil, nil)

	marker := tracker.StartOperation("get", "api", "user")
	if got := tracker.GetActiveOperations("api"); len(got) != 1 || got[0].Operation != "get" {
		t.Fatalf("expected one active get, got %+v", got)
	}
	marker.AddCacheHit()
	marker.AddCacheMiss()
	tracker.CompleteOperation(marker)
	tracker.CompleteOperation(marker)

	if got := tracker.GetActiveOperations("api"); len(got) != 0 {
		t.Fatalf("completed marker still active: %+v", got)
	}
	metrics := tracker.GetMetrics("api")
	if len(metrics) != 1 {
		t.Fatalf("expected one completed marker, got %d", len(metrics))
	}
	if ratio := metrics[0].GetCacheHitRatio(); ratio != 0.5 {
		t.Fatalf("expected hit ratio 0.5, got %v", ratio)
	}
	if len(tracker.GetMetrics("other")) != 0 {
		t.Fatal("metrics should be scoped by store")
	}
}

func TestTrackerSlowOperationAlerts(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, slog.LevelInfo)
	thresholds := DefaultAlertThresholds()
	thresholds.SlowResponseThreshold = time.Nanosecond
	thresholds.TransportThreshold = time.Nanosecond
	tracker := NewTracker(nil, thresholds, logger)

	marker := tracker.StartOperation("transport:get", "api", "user")
	time.Sleep(2 * time.Millisecond)
	tracker.CompleteOperation(marker)

	alerts := tracker.GetAlerts("api")
	if len(alerts) != 1 || alerts[0].Severity != AlertWarning {
		t.Fatalf("expected one transport warning, got %+v", alerts)
	}
	out := buf.String()
	if !strings.Contains(out, `"channel":"slow-request"`) || !strings.Contains(out, `"channel":"alert"`) {
		t.Fatalf("expected slow-request and alert logs, got %s", out)
	}
}

func TestTrackerSnapshot(t *testing.T) {
	tracker := NewTracker(nil, nil, nil)
	for i := 0; i < 3; i++ {
		m := tracker.StartOperation("post", "api", "user")
		if i == 0 {
			m.SetError(errors.New("boom"))
		}
		tracker.CompleteOperation(m)
	}
	snap := tracker.TakeSnapshot("api")
	if snap.CompletedOperations != 3 || len(snap.Operations) != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Operations[0].Failures != 1 {
		t.Fatalf("expected one failure, got %d", snap.Operations[0].Failures)
	}
	if snap.OverallHealth != HealthUnhealthy {
		t.Fatalf("one failure in three should be unhealthy, got %s", snap.OverallHealth)
	}
	if OperationName("queue", "Process") != "queue:process" {
		t.Fatal("operation names should be lower-cased")
	}
}
