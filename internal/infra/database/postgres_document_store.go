// internal/infra/database/postgres_document_store.go
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"application_stats_bot/internal/domain/store"

	"github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (collection, id)
)`

// PostgresDocumentStore keeps documents as JSONB rows grouped by collection.
// Nested fields are addressed with dotted paths, e.g. "profile.email".
type PostgresDocumentStore struct {
	db *sql.DB
}

func NewPostgresDocumentStore(db *sql.DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

// EnsureSchema creates the documents table if it does not exist.
func (s *PostgresDocumentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("error creating documents table: %w", err)
	}
	return nil
}

func (s *PostgresDocumentStore) Count(ctx context.Context, collection string) (int64, error) {
	query := `SELECT COUNT(*) FROM documents WHERE collection = $1`
	var n int64
	if err := s.db.QueryRowContext(ctx, query, collection).Scan(&n); err != nil {
		return 0, fmt.Errorf("error counting %s: %w", collection, err)
	}
	return n, nil
}

func (s *PostgresDocumentStore) GetByID(ctx context.Context, collection, id string) (*store.Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 AND id = $2`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, collection, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error getting %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *PostgresDocumentStore) GetByField(ctx context.Context, collection, field, value string) (*store.Document, error) {
	query := `SELECT id, data FROM documents
               WHERE collection = $1 AND data #>> $2::text[] = $3
               ORDER BY id LIMIT 1`
	path := pq.Array(strings.Split(field, "."))
	doc, err := scanDocument(s.db.QueryRowContext(ctx, query, collection, path, value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error finding %s by %s: %w", collection, field, err)
	}
	return doc, nil
}

func (s *PostgresDocumentStore) List(ctx context.Context, collection string, limit int) ([]*store.Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1 ORDER BY id LIMIT $2`
	rows, err := s.db.QueryContext(ctx, query, collection, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []*store.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning %s document: %w", collection, err)
		}
		docs = append(docs, doc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s documents: %w", collection, err)
	}
	return docs, nil
}

func (s *PostgresDocumentStore) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT collection FROM documents ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("error listing collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("error scanning collection name: %w", err)
		}
		names = append(names, name)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collections: %w", err)
	}
	return names, nil
}

func (s *PostgresDocumentStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*store.Document, error) {
	var (
		id  string
		raw []byte
	)
	if err := row.Scan(&id, &raw); err != nil {
		return nil, err
	}
	doc := &store.Document{ID: id, Data: map[string]interface{}{}}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return nil, fmt.Errorf("error decoding document %s: %w", id, err)
	}
	return doc, nil
}
