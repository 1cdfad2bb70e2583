package core

import (
	"context"
	"fmt"

	"relinfer/internal/blob"
	"relinfer/internal/checkpoint"
	"relinfer/internal/config"
	"relinfer/internal/infra/persistence/memory"
	"relinfer/internal/infra/persistence/postgres"
	"relinfer/internal/infra/persistence/sqlite"
	"relinfer/pkg/runs"
)

// StorageDriver identifies a run store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects the run store named by cfg.Driver (default sqlite).
func OpenPersistentStore(cfg config.Storage) (runs.PersistentStore, error) {
	driver := StorageDriver(cfg.Driver)
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nil
	case StorageSQLite:
		s, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoragePostgres:
		ps, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenCheckpointStore builds a checkpoint store on the configured blob backend.
func OpenCheckpointStore(ctx context.Context, cfg config.Blob) (*checkpoint.Store, error) {
	b, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(cfg.Driver),
		FSRoot: cfg.FSRoot,
		S3: blob.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return checkpoint.New(b), nil
}
