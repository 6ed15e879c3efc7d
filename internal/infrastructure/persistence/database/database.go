// Package database provides the core functionality for creating and managing
// database connections in a clean, isolated manner.
package database

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/pkg/config"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

// Supported driver names.
const (
	DriverSQLite = "sqlite3"
	DriverLibSQL = "libsql"
)

// DB represents a wrapper around the standard SQL database connection.
type DB struct {
	*sql.DB
	Driver string
}

// NormalizeDriver maps configured driver names onto registered drivers.
func NormalizeDriver(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "libsql", "turso":
		return DriverLibSQL, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// NewConnection establishes a new database connection for the specified driver.
func NewConnection(driverName, dataSourceName string) (*DB, error) {
	return NewConnectionWithLogger(driverName, dataSourceName, logging.Discard())
}

// NewConnectionWithLogger establishes a new database connection for the specified driver with logging.
func NewConnectionWithLogger(driverName, dataSourceName string, logger *logging.ChanneledLogger) (*DB, error) {
	start := time.Now()
	driver, err := NormalizeDriver(driverName)
	if err != nil {
		return nil, err
	}
	logger.Database().Debug("Creating new database connection", "driverName", driver)

	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		logger.Database().Error("Failed to open database connection", "error", err.Error(), "driverName", driver)
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	configurePool(db, driver, dataSourceName)

	if err = db.Ping(); err != nil {
		db.Close()
		logger.Database().Error("Database ping failed", "error", err.Error(), "driverName", driver)
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	duration := time.Since(start)
	logger.Database().Info("Database connection established", "driverName", driver, "duration", duration)
	CheckAndLogSlowQuery(logger, "DATABASE_CONNECTION", duration, 0)

	return &DB{DB: db, Driver: driver}, nil
}

// configurePool applies the pool settings. In-memory sqlite databases are
// per connection, so they are pinned to one.
func configurePool(db *sql.DB, driver, dataSourceName string) {
	if driver == DriverSQLite && strings.Contains(dataSourceName, ":memory:") {
		db.SetMaxOpenConns(1)
		return
	}
	db.SetMaxOpenConns(config.DBMaxOpenConns)
	db.SetMaxIdleConns(config.DBMaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(config.DBConnMaxLifetimeMinutes) * time.Minute)
	db.SetConnMaxIdleTime(time.Duration(config.DBConnMaxIdleMinutes) * time.Minute)
}
