package artifact

import (
	"context"
	"io"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/adapter"
	"github.com/m-mizutani/kappa/pkg/model"
	"github.com/m-mizutani/kappa/pkg/utils/logging"
)

const (
	DefaultFeaturesKey = "model_features.json"
	DefaultModelKey    = "simple_model.json"
)

// Store loads the feature schema and the trained model once and hands out the
// same instances until Reset is called.
type Store struct {
	storage     adapter.Storage
	featuresKey string
	modelKey    string

	mu     sync.Mutex
	schema *Schema
	model  Model
}

type Option func(*Store)

func WithFeaturesKey(key string) Option {
	return func(s *Store) {
		s.featuresKey = key
	}
}

func WithModelKey(key string) Option {
	return func(s *Store) {
		s.modelKey = key
	}
}

func NewStore(storage adapter.Storage, opts ...Option) *Store {
	s := &Store{
		storage:     storage,
		featuresKey: DefaultFeaturesKey,
		modelKey:    DefaultModelKey,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the schema and model, reading storage only on the first
// successful call. Failures are not remembered.
func (s *Store) Load(ctx context.Context) (*Schema, Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schema != nil && s.model != nil {
		return s.schema, s.model, nil
	}

	logger := logging.Component(ctx, "artifact")

	data, err := s.read(ctx, s.featuresKey)
	if err != nil {
		return nil, nil, err
	}
	schema, err := ParseSchema(data)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to parse feature schema", goerr.V("key", s.featuresKey))
	}

	data, err = s.read(ctx, s.modelKey)
	if err != nil {
		return nil, nil, err
	}
	m, err := ParseXGBoost(data)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to parse model", goerr.V("key", s.modelKey))
	}

	if err := checkConsistency(schema, m); err != nil {
		return nil, nil, err
	}

	s.schema, s.model = schema, m
	logger.Info("artifacts loaded", "features", schema.Names(), "model", s.modelKey)
	return s.schema, s.model, nil
}

// Reset drops the loaded artifacts so the next Load reads storage again
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema, s.model = nil, nil
}

func (s *Store) read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open artifact", goerr.V("key", key))
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read artifact", goerr.V("key", key))
	}
	return data, nil
}

func checkConsistency(schema *Schema, m Model) error {
	if m.NumFeatures() != schema.Len() {
		return goerr.Wrap(model.ErrResourceCorrupt, "model and schema disagree on feature count",
			goerr.V("schema", schema.Len()), goerr.V("model", m.NumFeatures()))
	}

	embedded := m.FeatureNames()
	if len(embedded) == 0 {
		return nil
	}
	names := schema.Names()
	if len(embedded) != len(names) {
		return goerr.Wrap(model.ErrResourceCorrupt, "model feature names disagree with schema",
			goerr.V("schema", names), goerr.V("model", embedded))
	}
	for i := range names {
		if names[i] != embedded[i] {
			return goerr.Wrap(model.ErrResourceCorrupt, "model feature names disagree with schema",
				goerr.V("schema", names), goerr.V("model", embedded))
		}
	}
	return nil
}
