package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const historyCollection = "histories"

// Firestore implements Repository using Cloud Firestore
type Firestore struct {
	client     *firestore.Client
	collection string
}

var _ Repository = (*Firestore)(nil)

type FirestoreOption func(*firestoreConfig)

type firestoreConfig struct {
	collection      string
	credentialsFile string
}

// WithCollection overrides the collection name, mainly for tests
func WithCollection(name string) FirestoreOption {
	return func(c *firestoreConfig) {
		c.collection = name
	}
}

func WithFirestoreCredentialsFile(path string) FirestoreOption {
	return func(c *firestoreConfig) {
		c.credentialsFile = path
	}
}

// New creates a new Firestore repository
func New(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	cfg := firestoreConfig{collection: historyCollection}
	for _, opt := range opts {
		opt(&cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID), goerr.V("database_id", databaseID))
	}

	return &Firestore{
		client:     client,
		collection: cfg.collection,
	}, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutHistory(ctx context.Context, history *model.History) error {
	if history.ID == "" {
		return goerr.New("history ID is empty")
	}

	if _, err := r.client.Collection(r.collection).Doc(string(history.ID)).Set(ctx, history); err != nil {
		return goerr.Wrap(err, "failed to put history", goerr.V("history_id", history.ID))
	}
	return nil
}

func (r *Firestore) GetHistory(ctx context.Context, id model.HistoryID) (*model.History, error) {
	doc, err := r.client.Collection(r.collection).Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, goerr.Wrap(model.ErrResourceMissing, "history not found", goerr.V("history_id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to get history", goerr.V("history_id", id))
	}

	var history model.History
	if err := doc.DataTo(&history); err != nil {
		return nil, goerr.Wrap(err, "failed to decode history", goerr.V("history_id", id))
	}
	return &history, nil
}

func (r *Firestore) ListHistory(ctx context.Context, offset, limit int) ([]*model.History, error) {
	q := r.client.Collection(r.collection).OrderBy("UpdatedAt", firestore.Desc).Offset(offset)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	var histories []*model.History
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate histories")
		}

		var history model.History
		if err := doc.DataTo(&history); err != nil {
			return nil, goerr.Wrap(err, "failed to decode history", goerr.V("doc_id", doc.Ref.ID))
		}
		histories = append(histories, &history)
	}

	return histories, nil
}
