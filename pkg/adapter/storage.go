package adapter

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
	"google.golang.org/api/option"
)

// Storage is the interface for artifact and transcript storage
type Storage interface {
	// Put returns a writer to save an object to storage
	Put(ctx context.Context, key string) (io.WriteCloser, error)
	// Get opens an object. A missing object is reported as model.ErrResourceMissing
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	prefix     string
	client     *storage.Client
}

type StorageOption func(*storageConfig)

type storageConfig struct {
	prefix          string
	credentialsFile string
}

// WithPrefix places every key under the given object prefix
func WithPrefix(prefix string) StorageOption {
	return func(c *storageConfig) {
		c.prefix = prefix
	}
}

// WithCredentialsFile uses a service account key instead of ADC
func WithCredentialsFile(path string) StorageOption {
	return func(c *storageConfig) {
		c.credentialsFile = path
	}
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string, opts ...StorageOption) (Storage, error) {
	var cfg storageConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	var clientOpts []option.ClientOption
	if cfg.credentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.credentialsFile))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client", goerr.V("bucket", bucketName))
	}

	return &storageClient{
		bucketName: bucketName,
		prefix:     cfg.prefix,
		client:     client,
	}, nil
}

func (s *storageClient) object(key string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucketName).Object(s.prefix + key)
}

func (s *storageClient) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	return s.object(key).NewWriter(ctx), nil
}

func (s *storageClient) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := s.object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, goerr.Wrap(model.ErrResourceMissing, "object not found",
			goerr.V("bucket", s.bucketName), goerr.V("key", s.prefix+key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read from storage",
			goerr.V("bucket", s.bucketName), goerr.V("key", s.prefix+key))
	}

	return reader, nil
}
