// Package storage stores uploaded files on the local filesystem or in an
// S3-compatible bucket (AWS S3, MinIO, Supabase Storage).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Winger29/FSDP-Assignment2/internal/config"
)

// ErrNotFound is returned when a key does not exist
var ErrNotFound = errors.New("storage object not found")

// Provider is implemented by every storage backend
type Provider interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New builds the provider selected by STORAGE_DRIVER
func New(ctx context.Context, cfg config.StorageConfig) (Provider, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.LocalPath)
	case "s3":
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
