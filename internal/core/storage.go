package core

import (
	"fmt"
	"io"
	"os"

	"archivecore/internal/infra/persistence/memory"
	"archivecore/internal/infra/persistence/postgres"
	"archivecore/internal/infra/persistence/sqlite"
	"archivecore/pkg/domain"
)

// StorageDriver identifies a concrete document store implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// DefaultSQLitePath is used when no sqlite path is configured.
const DefaultSQLitePath = "./archivecore.db"

// StorageConfig selects and parameterises the document store.
type StorageConfig struct {
	Driver      StorageDriver `yaml:"driver"`
	SQLitePath  string        `yaml:"sqlite_path"`
	PostgresDSN string        `yaml:"postgres_dsn"`
}

// StorageConfigFromEnv reads the storage settings from the environment.
//
//	ARCHIVECORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ARCHIVECORE_SQLITE_PATH: path to sqlite file (default ./archivecore.db)
//	ARCHIVECORE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageConfigFromEnv() StorageConfig {
	return StorageConfig{
		Driver:      StorageDriver(os.Getenv("ARCHIVECORE_STORAGE_DRIVER")),
		SQLitePath:  os.Getenv("ARCHIVECORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("ARCHIVECORE_POSTGRES_DSN"),
	}
}

// OpenAdapter opens the configured document store. The returned closer
// releases database handles and is a no-op for the memory driver.
func OpenAdapter(cfg StorageConfig) (domain.Adapter, io.Closer, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = StorageSQLite
	}
	switch driver {
	case StorageMemory:
		return memory.NewStore(), nopCloser{}, nil
	case StorageSQLite:
		path := cfg.SQLitePath
		if path == "" {
			path = DefaultSQLitePath
		}
		store, err := sqlite.NewStore(path)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	case StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("postgres driver requires a DSN")
		}
		store, err := postgres.NewStore(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
