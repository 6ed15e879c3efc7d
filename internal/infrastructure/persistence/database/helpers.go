package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
)

// TestConnection runs a trivial query to confirm the database answers.
func (db *DB) TestConnection(ctx context.Context) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("connection test query failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("unexpected query result: %d", result)
	}
	return nil
}

// GetSlowQueryThreshold returns the configured slow query threshold
func GetSlowQueryThreshold() time.Duration {
	return config.SlowQueryThreshold
}

// CheckAndLogSlowQuery logs a query at debug level, or as a warning when it
// exceeds the threshold. Bulk operations get three times the budget.
func CheckAndLogSlowQuery(logger *logging.ChanneledLogger, query string, duration time.Duration, rows int64) {
	threshold := GetSlowQueryThreshold()
	if strings.HasPrefix(query, "BULK_") {
		threshold *= 3
	}
	if duration > threshold {
		logger.Database().Warn("Slow query", "query", query, "duration", duration, "threshold", threshold, "rows", rows)
		return
	}
	logger.LogQuery(query, duration, rows)
}
