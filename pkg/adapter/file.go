package adapter

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kappa/pkg/model"
)

// fileStorage implements Storage on a local directory. Keys are slash
// separated paths relative to the root.
type fileStorage struct {
	root string
}

// NewFileStorage creates a Storage rooted at dir
func NewFileStorage(dir string) Storage {
	return &fileStorage{root: dir}
}

func (s *fileStorage) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fileStorage) Put(ctx context.Context, key string) (io.WriteCloser, error) {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create directory", goerr.V("path", path))
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create file", goerr.V("path", path))
	}
	return f, nil
}

func (s *fileStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	path := s.path(key)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, goerr.Wrap(model.ErrResourceMissing, "file not found", goerr.V("path", path))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open file", goerr.V("path", path))
	}
	return f, nil
}
