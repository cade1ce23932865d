package blob

import (
	"archivecore/internal/blob/core"
	fsstore "archivecore/internal/infra/blob/fs"
	memstore "archivecore/internal/infra/blob/memory"
	s3store "archivecore/internal/infra/blob/s3"
	"context"
	"fmt"
)

// Config selects and configures a backend.
type Config struct {
	Driver core.Driver    `yaml:"driver"`
	FSRoot string         `yaml:"fs_root"`
	S3     s3store.Config `yaml:"s3"`
}

// Open builds a repository over the configured backend (default fs).
func Open(ctx context.Context, cfg Config) (*Repository, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewRepository(backend), nil
}

// OpenBackend builds the key/value backend for cfg.
func OpenBackend(ctx context.Context, cfg Config) (core.Store, error) {
	switch cfg.Driver {
	case "", core.DriverFilesystem:
		return fsstore.New(cfg.FSRoot)
	case core.DriverS3:
		return s3store.New(ctx, cfg.S3)
	case core.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
