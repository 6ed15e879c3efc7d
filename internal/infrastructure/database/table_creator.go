// Package database creates and seeds the development backend schema.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
	"gopkg.in/yaml.v3"
)

var tables = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		type TEXT NOT NULL,
		id TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (type, id)
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_documents_type_updated ON documents(type, updated_at)`,
}

// TableCreator handles the creation of the document schema.
type TableCreator struct{}

// NewTableCreator creates a new TableCreator.
func NewTableCreator() *TableCreator {
	return &TableCreator{}
}

// CreateSchema executes all necessary queries to build the tables and indexes.
func (tc *TableCreator) CreateSchema(ctx context.Context, db *sql.DB) error {
	for _, tableSQL := range tables {
		if _, err := db.ExecContext(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table for query [%s]: %w", tableSQL, err)
		}
	}

	for _, indexSQL := range indexes {
		if _, err := db.ExecContext(ctx, indexSQL); err != nil {
			return fmt.Errorf("failed to create index for query [%s]: %w", indexSQL, err)
		}
	}
	return nil
}

// Seed maps a document type to its documents.
type Seed map[string][]map[string]any

// LoadSeedFile reads a YAML or JSON seed file:
//
//	user:
//	  - {id: u1, name: Bob}
//	resource:
//	  - {id: r1, title: Hello, user: {id: u1}}
func LoadSeedFile(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return seed, nil
}

// SeedInitialContent inserts the seed documents. Existing documents are kept,
// so seeding is idempotent. Documents without an id get a ULID.
func (tc *TableCreator) SeedInitialContent(ctx context.Context, db *sql.DB, seed Seed) (int, error) {
	types := make([]string, 0, len(seed))
	for t := range seed {
		types = append(types, t)
	}
	sort.Strings(types)

	now := time.Now().UTC().Format(time.RFC3339Nano)
	inserted := 0
	for _, docType := range types {
		for _, doc := range seed[docType] {
			id, _ := doc["id"].(string)
			if id == "" {
				if n, ok := doc["id"]; ok && n != nil {
					id = fmt.Sprint(n)
				} else {
					id = security.GenerateULID()
				}
			}
			doc["id"] = id
			body, err := json.Marshal(doc)
			if err != nil {
				return inserted, fmt.Errorf("failed to encode seed document %s/%s: %w", docType, id, err)
			}
			res, err := db.ExecContext(ctx,
				`INSERT OR IGNORE INTO documents (type, id, body, updated_at) VALUES (?, ?, ?, ?)`,
				docType, id, string(body), now)
			if err != nil {
				return inserted, fmt.Errorf("failed to insert seed document %s/%s: %w", docType, id, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
	}
	return inserted, nil
}
