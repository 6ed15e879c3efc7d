// Package documents provides the JSON document repository of the
// development backend.
package documents

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/observability/logging"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/persistence/database"
	"github.com/AtRiskMedia/apistore-go/internal/infrastructure/security"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrExists is returned when creating a document whose id is taken.
var ErrExists = errors.New("document already exists")

// Document is one stored JSON object. Its "id" field is always a string.
type Document map[string]any

// ID returns the document id.
func (d Document) ID() string {
	id, _ := d["id"].(string)
	return id
}

type DocumentRepository struct {
	db     *sql.DB
	logger *logging.ChanneledLogger
}

func NewDocumentRepository(db *sql.DB, logger *logging.ChanneledLogger) *DocumentRepository {
	if logger == nil {
		logger = logging.Discard()
	}
	return &DocumentRepository{
		db:     db,
		logger: logger,
	}
}

// List returns every document of docType ordered by id.
func (r *DocumentRepository) List(ctx context.Context, docType string) ([]Document, error) {
	start := time.Now()
	query := `SELECT body FROM documents WHERE type = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, docType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s documents: %w", docType, err)
	}
	defer rows.Close()

	docs := make([]Document, 0)
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", docType, err)
		}
		doc, err := decode(body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s documents: %w", docType, err)
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start), int64(len(docs)))
	return docs, nil
}

// FindByID returns one document.
func (r *DocumentRepository) FindByID(ctx context.Context, docType, id string) (Document, error) {
	return r.find(ctx, r.db, docType, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *DocumentRepository) find(ctx context.Context, q queryer, docType, id string) (Document, error) {
	start := time.Now()
	query := `SELECT body FROM documents WHERE type = ? AND id = ?`
	var body string
	err := q.QueryRowContext(ctx, query, docType, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", docType, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", docType, id, err)
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start), 1)
	return decode(body)
}

// Create stores doc. A missing id is assigned a ULID; numeric ids are kept as
// their string form.
func (r *DocumentRepository) Create(ctx context.Context, docType string, doc Document) (Document, error) {
	doc = normalizeID(doc)
	if doc.ID() == "" {
		doc["id"] = security.GenerateULID()
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s document: %w", docType, err)
	}

	start := time.Now()
	query := `INSERT OR IGNORE INTO documents (type, id, body, updated_at) VALUES (?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, docType, doc.ID(), string(body), now())
	if err != nil {
		return nil, fmt.Errorf("failed to insert %s/%s: %w", docType, doc.ID(), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%s/%s: %w", docType, doc.ID(), ErrExists)
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start), 1)
	return doc, nil
}

// Update merges the top-level fields of patch into the stored document and
// returns the result. The id cannot be changed.
func (r *DocumentRepository) Update(ctx context.Context, docType, id string, patch Document) (Document, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin update of %s/%s: %w", docType, id, err)
	}
	defer tx.Rollback()

	doc, err := r.find(ctx, tx, docType, id)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s/%s: %w", docType, id, err)
	}

	start := time.Now()
	query := `UPDATE documents SET body = ?, updated_at = ? WHERE type = ? AND id = ?`
	if _, err := tx.ExecContext(ctx, query, string(body), now(), docType, id); err != nil {
		return nil, fmt.Errorf("failed to update %s/%s: %w", docType, id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit update of %s/%s: %w", docType, id, err)
	}
	database.CheckAndLogSlowQuery(r.logger, query, time.Since(start), 1)
	return doc, nil
}

// Delete removes one document.
func (r *DocumentRepository) Delete(ctx context.Context, docType, id string) error {
	n, err := r.DeleteMany(ctx, docType, []string{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", docType, id, ErrNotFound)
	}
	return nil
}

// DeleteMany removes the listed documents and reports how many existed.
func (r *DocumentRepository) DeleteMany(ctx context.Context, docType string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	start := time.Now()
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `DELETE FROM documents WHERE type = ? AND id IN (` + placeholders + `)`
	args := make([]any, 0, len(ids)+1)
	args = append(args, docType)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s documents: %w", docType, err)
	}
	n, _ := res.RowsAffected()
	name := query
	if len(ids) > 1 {
		name = "BULK_" + query
	}
	database.CheckAndLogSlowQuery(r.logger, name, time.Since(start), n)
	return n, nil
}

func decode(body string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return doc, nil
}

func normalizeID(doc Document) Document {
	if doc == nil {
		doc = Document{}
	}
	switch id := doc["id"].(type) {
	case nil, string:
	case float64:
		doc["id"] = strconv.FormatFloat(id, 'f', -1, 64)
	default:
		doc["id"] = fmt.Sprint(id)
	}
	return doc
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
