// Package blob is the entry point for export object storage. Callers depend
// on the Store interface here; the concrete backends under internal/infra/blob
// are only reachable through Open and the constructors below.
package blob

import (
	"context"
	"fmt"

	"familytree/internal/blob/core"
	"familytree/internal/config"
	"familytree/internal/infra/blob/fs"
	"familytree/internal/infra/blob/memory"
	"familytree/internal/infra/blob/s3"
)

type (
	Driver           = core.Driver
	Store            = core.Store
	Info             = core.Info
	PutOptions       = core.PutOptions
	SignedURLOptions = core.SignedURLOptions
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound    = core.ErrNotFound
	ErrExists      = core.ErrExists
	ErrUnsupported = core.ErrUnsupported
)

// NewFilesystem returns a store rooted at a local directory.
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns a process-local store.
func NewMemory() Store { return memory.New() }

// NewS3 returns a store backed by an S3-compatible bucket.
func NewS3(ctx context.Context, cfg config.S3Config) (Store, error) {
	store, err := s3.New(ctx, s3.Config{
		Bucket:    cfg.Bucket,
		Region:    cfg.Region,
		Endpoint:  cfg.Endpoint,
		PathStyle: cfg.PathStyle,
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Open selects a backend from configuration. An empty driver means fs.
func Open(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch Driver(cfg.Driver) {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
	}
}
