package performance

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
)

// Tracker manages performance markers and provides metrics aggregation
type Tracker struct {
	active     map[string]Marker  // started, not yet completed (immutable copies)
	completed  []*Marker          // ring of completed markers, oldest first
	alerts     []*PerformanceAlert
	thresholds *AlertThresholds
	logger     *logging.ChanneledLogger
	mu         sync.RWMutex
	started    time.Time
	config     *TrackerConfig
}

// TrackerConfig contains configuration options for the performance tracker
type TrackerConfig struct {
	MaxMarkers   int  `json:"maxMarkers"`
	MaxAlerts    int  `json:"maxAlerts"`
	EnableAlerts bool `json:"enableAlerts"`
}

// DefaultTrackerConfig returns a sensible default configuration
func DefaultTrackerConfig() *TrackerConfig {
	return &TrackerConfig{
		MaxMarkers:   10000,
		MaxAlerts:    500,
		EnableAlerts: true,
	}
}

// AlertThresholds defines performance thresholds for generating alerts
type AlertThresholds struct {
	SlowResponseThreshold     time.Duration `json:"slowResponseThreshold"`     // 500ms
	CriticalResponseThreshold time.Duration `json:"criticalResponseThreshold"` // 5s

	// Collection reads
	LowCacheHitRatio float64 `json:"lowCacheHitRatio"` // 0.5

	// Operation-specific thresholds
	TransportThreshold time.Duration `json:"transportThreshold"` // 2s
	QueueThreshold     time.Duration `json:"queueThreshold"`     // 5s
	DatabaseThreshold  time.Duration `json:"databaseThreshold"`  // 50ms
}

// DefaultAlertThresholds returns sensible default alert thresholds
func DefaultAlertThresholds() *AlertThresholds {
	return &AlertThresholds{
		SlowResponseThreshold:     500 * time.Millisecond,
		CriticalResponseThreshold: 5 * time.Second,
		LowCacheHitRatio:          0.5,
		TransportThreshold:        2 * time.Second,
		QueueThreshold:            5 * time.Second,
		DatabaseThreshold:         50 * time.Millisecond,
	}
}

// NewTracker creates a new performance tracker. A nil logger disables slow
// operation logging.
func NewTracker(config *TrackerConfig, thresholds *AlertThresholds, logger *logging.ChanneledLogger) *Tracker {
	if config == nil {
		config = DefaultTrackerConfig()
	}
	if thresholds == nil {
		thresholds = DefaultAlertThresholds()
	}
	return &Tracker{
		active:     make(map[string]Marker),
		completed:  make([]*Marker, 0),
		alerts:     make([]*PerformanceAlert, 0),
		thresholds: thresholds,
		logger:     logger,
		started:    time.Now(),
		config:     config,
	}
}

// Thresholds returns the configured thresholds.
func (t *Tracker) Thresholds() AlertThresholds {
	return *t.thresholds
}

// StartOperation creates and tracks a new performance marker for an operation
func (t *Tracker) StartOperation(operation, store, modelKey string) *Marker {
	marker := &Marker{
		ID:        ulid.Make().String(),
		Operation: operation,
		Store:     store,
		Model:     modelKey,
		StartTime: time.Now(),
		Metadata:  make(map[string]any),
		Success:   true,
	}

	t.mu.Lock()
	t.active[marker.ID] = Marker{ID: marker.ID, Operation: operation, Store: store, Model: modelKey, StartTime: marker.StartTime}
	t.mu.Unlock()

	return marker
}

// StartOperationWithContext starts a marker that records the context error
// when the operation completes after cancellation.
func (t *Tracker) StartOperationWithContext(ctx context.Context, operation, modelKey string) *Marker {
	marker := t.StartOperation(operation, logging.StoreName(ctx), modelKey)
	if requestID := logging.RequestID(ctx); requestID != "" {
		marker.AddMetadata("requestId", requestID)
	}
	return marker
}

// CompleteOperation completes an operation and checks for alerts
func (t *Tracker) CompleteOperation(marker *Marker) {
	if marker == nil || marker.Completed {
		return
	}
	marker.Complete()

	var alerts []*PerformanceAlert
	if t.config.EnableAlerts {
		alerts = t.evaluateThresholds(marker)
	}

	t.mu.Lock()
	delete(t.active, marker.ID)
	t.completed = append(t.completed, marker)
	if len(t.completed) > t.config.MaxMarkers {
		t.completed = t.completed[len(t.completed)-t.config.MaxMarkers:]
	}
	t.alerts = append(t.alerts, alerts...)
	if len(t.alerts) > t.config.MaxAlerts {
		t.alerts = t.alerts[len(t.alerts)-t.config.MaxAlerts:]
	}
	t.mu.Unlock()

	if t.logger == nil {
		return
	}
	if marker.Duration > t.thresholds.SlowResponseThreshold {
		t.logger.LogSlowRequest(marker.Operation, marker.Duration, t.thresholds.SlowResponseThreshold, map[string]any{
			"store": marker.Store,
			"model": marker.Model,
		})
	}
	for _, alert := range alerts {
		t.logger.Alert().Warn(alert.Message,
			"operation", alert.Operation,
			"severity", alert.Severity,
			"actual", alert.Actual,
			"threshold", alert.Threshold,
		)
	}
}

// evaluateThresholds checks a marker against all relevant thresholds
func (t *Tracker) evaluateThresholds(marker *Marker) []*PerformanceAlert {
	var alerts []*PerformanceAlert

	if marker.Duration > t.thresholds.CriticalResponseThreshold {
		alerts = append(alerts, t.createAlert(marker, AlertCritical, t.thresholds.CriticalResponseThreshold,
			"Operation exceeded critical response time threshold"))
	}

	switch {
	case strings.HasPrefix(marker.Operation, "transport:"):
		if marker.Duration > t.thresholds.TransportThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning, t.thresholds.TransportThreshold,
				"Transport request exceeded threshold"))
		}
	case strings.HasPrefix(marker.Operation, "queue:"):
		if marker.Duration > t.thresholds.QueueThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning, t.thresholds.QueueThreshold,
				"Queue operation exceeded threshold"))
		}
	case strings.HasPrefix(marker.Operation, "db:"):
		if marker.Duration > t.thresholds.DatabaseThreshold {
			alerts = append(alerts, t.createAlert(marker, AlertWarning, t.thresholds.DatabaseThreshold,
				"Database query exceeded threshold"))
		}
	}

	if marker.CacheHits+marker.CacheMisses >= 10 && marker.GetCacheHitRatio() < t.thresholds.LowCacheHitRatio {
		alerts = append(alerts, t.createAlert(marker, AlertInfo, 0, "Cache hit ratio below optimal"))
	}

	return alerts
}

func (t *Tracker) createAlert(marker *Marker, severity AlertSeverity, threshold time.Duration, message string) *PerformanceAlert {
	return &PerformanceAlert{
		ID:        ulid.Make().String(),
		Timestamp: time.Now(),
		Store:     marker.Store,
		Severity:  severity,
		Operation: marker.Operation,
		Threshold: threshold,
		Actual:    marker.Duration,
		Message:   message,
		Metadata: map[string]any{
			"model":         marker.Model,
			"cacheHitRatio": marker.GetCacheHitRatio(),
			"success":       marker.Success,
		},
	}
}

// GetMetrics returns completed markers for a store, oldest first
func (t *Tracker) GetMetrics(store string) []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var metrics []Marker
	for _, marker := range t.completed {
		if marker.Store == store {
			metrics = append(metrics, *marker)
		}
	}
	return metrics
}

// GetRecentMetrics returns metrics for operations completed within the specified duration
func (t *Tracker) GetRecentMetrics(store string, within time.Duration) []Marker {
	cutoff := time.Now().Add(-within)
	var recent []Marker
	for _, m := range t.GetMetrics(store) {
		if m.EndTime.After(cutoff) {
			recent = append(recent, m)
		}
	}
	return recent
}

// GetActiveOperations returns currently running operations for a store
func (t *Tracker) GetActiveOperations(store string) []Marker {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []Marker
	for _, marker := range t.active {
		if marker.Store == store {
			marker.Duration = time.Since(marker.StartTime)
			active = append(active, marker)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].StartTime.Before(active[j].StartTime) })
	return active
}

// GetAlerts returns performance alerts for a store
func (t *Tracker) GetAlerts(store string) []*PerformanceAlert {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var alerts []*PerformanceAlert
	for _, alert := range t.alerts {
		if alert.Store == store {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// TakeSnapshot summarizes the last five minutes for a store
func (t *Tracker) TakeSnapshot(store string) *PerformanceSnapshot {
	metrics := t.GetRecentMetrics(store, 5*time.Minute)
	activeOps := t.GetActiveOperations(store)

	byOp := make(map[string]*OperationStats)
	var total = make(map[string]time.Duration)
	for _, m := range metrics {
		stats, ok := byOp[m.Operation]
		if !ok {
			stats = &OperationStats{Operation: m.Operation}
			byOp[m.Operation] = stats
		}
		stats.Count++
		if !m.Success {
			stats.Failures++
		}
		total[m.Operation] += m.Duration
		if m.Duration > stats.MaxDuration {
			stats.MaxDuration = m.Duration
		}
		stats.CacheHits += m.CacheHits
		stats.CacheMisses += m.CacheMisses
		if m.EndTime.After(stats.LastRun) {
			stats.LastRun = m.EndTime
		}
	}

	ops := make([]OperationStats, 0, len(byOp))
	for name, stats := range byOp {
		stats.AvgDuration = total[name] / time.Duration(stats.Count)
		ops = append(ops, *stats)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i].Operation < ops[j].Operation })

	return &PerformanceSnapshot{
		Timestamp:           time.Now(),
		Store:               store,
		Operations:          ops,
		ActiveOperations:    len(activeOps),
		CompletedOperations: len(metrics),
		OverallHealth:       t.calculateHealth(metrics, activeOps),
	}
}

// calculateHealth determines overall health based on recent metrics
func (t *Tracker) calculateHealth(metrics, activeOps []Marker) HealthStatus {
	if len(metrics) == 0 && len(activeOps) == 0 {
		return HealthUnknown
	}

	criticalIssues := 0
	warningIssues := 0
	totalOps := len(metrics) + len(activeOps)

	for _, op := range append(append([]Marker{}, metrics...), activeOps...) {
		if op.Duration > t.thresholds.CriticalResponseThreshold || (op.Completed && !op.Success) {
			criticalIssues++
		} else if op.Duration > t.thresholds.SlowResponseThreshold {
			warningIssues++
		}
	}

	criticalRatio := float64(criticalIssues) / float64(totalOps)
	warningRatio := float64(warningIssues) / float64(totalOps)

	if criticalRatio > 0.1 {
		return HealthUnhealthy
	} else if criticalRatio > 0.05 || warningRatio > 0.2 {
		return HealthDegraded
	}
	return HealthHealthy
}

// GetOverallStats returns overall tracker statistics
func (t *Tracker) GetOverallStats() map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return map[string]any{
		"trackerUptime":       time.Since(t.started).String(),
		"activeOperations":    len(t.active),
		"completedOperations": len(t.completed),
		"totalAlerts":         len(t.alerts),
	}
}

// OperationName builds "prefix:suffix" operation names.
func OperationName(prefix, suffix string) string {
	return fmt.Sprintf("%s:%s", prefix, strings.ToLower(suffix))
}
