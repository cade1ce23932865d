// Package config loads archivecore settings from a YAML file overlaid by
// ARCHIVECORE_* environment variables.
package config

import (
	"archivecore/internal/blob"
	blobcore "archivecore/internal/blob/core"
	"archivecore/internal/core"
	redisindex "archivecore/internal/index/redis"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// IndexDriver selects the secondary index backend.
type IndexDriver string

const (
	IndexNone   IndexDriver = "none"
	IndexMemory IndexDriver = "memory"
	IndexRedis  IndexDriver = "redis"
)

// IndexConfig configures the secondary index.
type IndexConfig struct {
	Driver IndexDriver        `yaml:"driver"`
	Redis  redisindex.Options `yaml:"redis"`
}

// JobsConfig configures the background job queue.
type JobsConfig struct {
	Workers    int           `yaml:"workers"`
	MaxRetries uint64        `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

// Config is the full runtime configuration.
type Config struct {
	Storage        core.StorageConfig `yaml:"storage"`
	Blob           blob.Config        `yaml:"blob"`
	Index          IndexConfig        `yaml:"index"`
	Jobs           JobsConfig         `yaml:"jobs"`
	LogLevel       string             `yaml:"log_level"`
	MetadataURL    string             `yaml:"metadata_url"`
	MinterShoulder string             `yaml:"minter_shoulder"`
	MetricsAddr    string             `yaml:"metrics_addr"`
	// TraceOutput receives persister spans as JSON lines: a file path
	// (appended to), "stderr", or empty to keep spans in memory only.
	TraceOutput string `yaml:"trace_output"`
}

// Default returns the configuration used when nothing else is supplied.
func Default() Config {
	return Config{
		Storage:        core.StorageConfig{Driver: core.StorageSQLite, SQLitePath: core.DefaultSQLitePath},
		Blob:           blob.Config{Driver: blobcore.DriverFilesystem, FSRoot: "./blobdata"},
		Index:          IndexConfig{Driver: IndexMemory, Redis: redisindex.DefaultOptions()},
		Jobs:           JobsConfig{Workers: 4, MaxRetries: 3, Backoff: 100 * time.Millisecond},
		LogLevel:       "INFO",
		MinterShoulder: "ark:/99999/fk4",
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overlays ARCHIVECORE_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var storage, blobDriver, index string
	str("ARCHIVECORE_STORAGE_DRIVER", &storage)
	if storage != "" {
		cfg.Storage.Driver = core.StorageDriver(storage)
	}
	str("ARCHIVECORE_SQLITE_PATH", &cfg.Storage.SQLitePath)
	str("ARCHIVECORE_POSTGRES_DSN", &cfg.Storage.PostgresDSN)

	str("ARCHIVECORE_BLOB_DRIVER", &blobDriver)
	if blobDriver != "" {
		cfg.Blob.Driver = blobcore.Driver(blobDriver)
	}
	str("ARCHIVECORE_BLOB_FS_ROOT", &cfg.Blob.FSRoot)
	str("ARCHIVECORE_BLOB_S3_BUCKET", &cfg.Blob.S3.Bucket)
	str("ARCHIVECORE_BLOB_S3_REGION", &cfg.Blob.S3.Region)
	str("ARCHIVECORE_BLOB_S3_ENDPOINT", &cfg.Blob.S3.Endpoint)
	str("ARCHIVECORE_BLOB_S3_ACCESS_KEY_ID", &cfg.Blob.S3.AccessKeyID)
	str("ARCHIVECORE_BLOB_S3_SECRET_ACCESS_KEY", &cfg.Blob.S3.SecretAccessKey)
	if v, ok := lookup("ARCHIVECORE_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ARCHIVECORE_BLOB_S3_PATH_STYLE: %w", err)
		}
		cfg.Blob.S3.PathStyle = b
	}

	str("ARCHIVECORE_INDEX_DRIVER", &index)
	if index != "" {
		cfg.Index.Driver = IndexDriver(index)
	}
	str("ARCHIVECORE_REDIS_ADDR", &cfg.Index.Redis.Address)
	str("ARCHIVECORE_REDIS_PASSWORD", &cfg.Index.Redis.Password)

	if v, ok := lookup("ARCHIVECORE_JOB_WORKERS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ARCHIVECORE_JOB_WORKERS: %w", err)
		}
		cfg.Jobs.Workers = n
	}
	str("ARCHIVECORE_LOG_LEVEL", &cfg.LogLevel)
	str("ARCHIVECORE_METADATA_URL", &cfg.MetadataURL)
	str("ARCHIVECORE_MINTER_SHOULDER", &cfg.MinterShoulder)
	str("ARCHIVECORE_METRICS_ADDR", &cfg.MetricsAddr)
	str("ARCHIVECORE_TRACE_OUTPUT", &cfg.TraceOutput)
	return nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case "", core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage: postgres requires postgres_dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage: unknown driver %q", c.Storage.Driver))
	}
	switch c.Blob.Driver {
	case "", blobcore.DriverFilesystem, blobcore.DriverMemory:
	case blobcore.DriverS3:
		if c.Blob.S3.Bucket == "" {
			errs = append(errs, errors.New("blob: s3 requires a bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("blob: unknown driver %q", c.Blob.Driver))
	}
	switch c.Index.Driver {
	case "", IndexNone, IndexMemory:
	case IndexRedis:
		if c.Index.Redis.Address == "" {
			errs = append(errs, errors.New("index: redis requires an address"))
		}
	default:
		errs = append(errs, fmt.Errorf("index: unknown driver %q", c.Index.Driver))
	}
	if c.Jobs.Workers < 0 {
		errs = append(errs, errors.New("jobs: workers must not be negative"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR (any case) to slog levels.
// Empty means INFO.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "INFO":
		return slog.LevelInfo, nil
	case "DEBUG":
		return slog.LevelDebug, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level: unknown level %q", s)
}
