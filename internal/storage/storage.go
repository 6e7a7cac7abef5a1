package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned when a key has no stored object.
var ErrNotFound = errors.New("object not found")

// Object is a stored document as read back from a store.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
}

// Store keeps uploaded documents under opaque keys.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

type Options struct {
	Backend   string
	LocalPath string
	MinIO     MinIOConfig
	Logger    *slog.Logger
}

// New opens the store selected by opts.Backend.
func New(ctx context.Context, opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	switch opts.Backend {
	case "", "local":
		return NewLocalStore(opts.LocalPath, opts.Logger)
	case "minio":
		s, err := NewMinIOStore(opts.MinIO, opts.Logger)
		if err != nil {
			return nil, err
		}
		if err := s.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", opts.Backend)
	}
}
