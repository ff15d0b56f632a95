// internal/domain/store/store.go
package store

import (
	"context"
	"errors"
)

// Well-known collection names read by the stats report.
const (
	CollectionApplications      = "applications"
	CollectionApplicationDrafts = "application-drafts"
)

// ErrDocumentNotFound is returned by lookups that match nothing.
var ErrDocumentNotFound = errors.New("document not found")

// Document is a single stored document. ID is kept apart from Data so that
// callers can render or serialize the payload without the key.
type Document struct {
	ID   string
	Data map[string]interface{}
}

// Counter is the narrow read used by the stats report.
type Counter interface {
	Count(ctx context.Context, collection string) (int64, error)
}

// Store defines the read operations the bot performs against the document database.
// Implementations must be safe for concurrent use.
type Store interface {
	Counter
	GetByID(ctx context.Context, collection, id string) (*Document, error)
	GetByField(ctx context.Context, collection, field, value string) (*Document, error) // first match
	List(ctx context.Context, collection string, limit int) ([]*Document, error)
	ListCollections(ctx context.Context) ([]string, error)
	Close() error
}
