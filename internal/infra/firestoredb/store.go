package firestoredb

import (
	"context"
	"errors"
	"fmt"

	"application_stats_bot/internal/domain/store"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const countAlias = "all"

var errUnexpectedCount = errors.New("unexpected count aggregation result")

// Options selects the project and credentials of the Firestore client.
type Options struct {
	ProjectID       string
	CredentialsFile string
	APIKey          string
}

// Store is a store.Store backed by Cloud Firestore.
type Store struct {
	client *firestore.Client
}

// NewStore opens a Firestore client. A credentials file takes precedence over an API key.
// When FIRESTORE_EMULATOR_HOST is set the client library talks to the emulator instead.
func NewStore(ctx context.Context, opts Options) (*Store, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	case opts.APIKey != "":
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client, err := firestore.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// Count runs a server-side count aggregation so documents are never downloaded.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	res, err := s.client.Collection(collection).NewAggregationQuery().WithCount(countAlias).Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	n, err := countValue(res, countAlias)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", collection, err)
	}
	return n, nil
}

func countValue(res firestore.AggregationResult, alias string) (int64, error) {
	switch v := res[alias].(type) {
	case *firestorepb.Value:
		if _, ok := v.GetValueType().(*firestorepb.Value_IntegerValue); !ok {
			return 0, fmt.Errorf("%w: %v", errUnexpectedCount, v)
		}
		return v.GetIntegerValue(), nil
	case int64:
		return v, nil
	default:
		return 0, fmt.Errorf("%w: %T", errUnexpectedCount, v)
	}
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (*store.Document, error) {
	snap, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return toDocument(snap), nil
}

func (s *Store) GetByField(ctx context.Context, collection, field, value string) (*store.Document, error) {
	iter := s.client.Collection(collection).Where(field, "==", value).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return nil, store.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
	}
	return toDocument(snap), nil
}

func (s *Store) List(ctx context.Context, collection string, limit int) ([]*store.Document, error) {
	snaps, err := s.client.Collection(collection).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	docs := make([]*store.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, toDocument(snap))
	}
	return docs, nil
}

func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	iter := s.client.Collections(ctx)
	var names []string
	for {
		ref, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list collections: %w", err)
		}
		names = append(names, ref.ID)
	}
	return names, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func toDocument(snap *firestore.DocumentSnapshot) *store.Document {
	return &store.Document{ID: snap.Ref.ID, Data: snap.Data()}
}
