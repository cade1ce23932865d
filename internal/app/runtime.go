// Package app assembles a configured persister with its storage, blob,
// index, event and job collaborators.
package app

import (
	"archivecore/internal/blob"
	"archivecore/internal/config"
	"archivecore/internal/core"
	"archivecore/internal/events"
	"archivecore/internal/graph"
	"archivecore/internal/index"
	redisindex "archivecore/internal/index/redis"
	"archivecore/internal/infra/persistence/memory"
	"archivecore/internal/jobs"
	"archivecore/internal/workers"
	"archivecore/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options tune Open beyond what Config carries.
type Options struct {
	Logger *slog.Logger
	// SnapshotPath persists the memory driver between runs as a JSON array of
	// records. Ignored for other drivers.
	SnapshotPath string
	// Collaborators replace the configured minter or fetcher when set.
	Minter  core.IdentifierMinter
	Fetcher core.MetadataFetcher
}

// Runtime is an opened archivecore instance.
type Runtime struct {
	Config    config.Config
	Logger    *slog.Logger
	Adapter   domain.Adapter
	Persister *core.Persister
	Queries   *graph.Registry
	Files     *blob.Repository
	Events    *events.Bus
	Jobs      *jobs.Queue
	Workers   *workers.Workers
	Registry  *prometheus.Registry
	// Stats and Tracer observe every persister save and delete next to the
	// Prometheus recorder.
	Stats  *core.ExpvarStats
	Tracer *core.JSONTraceTracer

	snapshot string
	closers  []io.Closer
	runDone  chan error
}

// Open builds every collaborator named by cfg.
func Open(ctx context.Context, cfg config.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Runtime{Config: cfg, Logger: logger, Registry: prometheus.NewRegistry()}
	rt.Registry.MustRegister(collectors.NewGoCollector())

	adapter, closer, err := core.OpenAdapter(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	rt.Adapter = adapter
	rt.closers = append(rt.closers, closer)
	if store, ok := adapter.(*memory.Store); ok && opts.SnapshotPath != "" {
		rt.snapshot = opts.SnapshotPath
		if err := loadSnapshot(store, opts.SnapshotPath); err != nil {
			_ = rt.closeAll()
			return nil, err
		}
	}

	files, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = rt.closeAll()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	rt.Files = files

	idx, err := rt.openIndex(ctx)
	if err != nil {
		_ = rt.closeAll()
		return nil, err
	}

	rt.Events = events.NewBus(events.WithLogger(logger), events.WithHistory(256))
	rt.closers = append(rt.closers, closerFunc(rt.Events.Close))
	rt.Jobs = jobs.NewQueue(
		jobs.WithWorkers(cfg.Jobs.Workers),
		jobs.WithRetry(cfg.Jobs.MaxRetries, cfg.Jobs.Backoff),
		jobs.WithLogger(logger),
	)

	minter := opts.Minter
	if minter == nil && cfg.MinterShoulder != "" {
		minter = core.NewLocalMinter(cfg.MinterShoulder)
	}
	fetcher := opts.Fetcher
	if fetcher == nil && cfg.MetadataURL != "" {
		fetcher = core.NewHTTPMetadataFetcher(cfg.MetadataURL)
	}

	traceOut, err := rt.openTraceOutput(cfg.TraceOutput)
	if err != nil {
		_ = rt.closeAll()
		return nil, err
	}
	rt.Stats = core.NewExpvarStats("archivecore_persister", nil)
	rt.Tracer = core.NewJSONTracer(traceOut)

	popts := []core.Option{
		core.WithLogger(logger),
		core.WithMetricsRecorder(core.MetricsRecorders{core.NewPrometheusMetricsRecorder(rt.Registry), rt.Stats}),
		core.WithTracer(rt.Tracer),
		core.WithAuditRecorder(core.LogAuditRecorder{Logger: logger.With("component", "audit")}),
		core.WithEventBus(rt.Events),
		core.WithJobQueue(rt.Jobs),
	}
	if idx != nil {
		popts = append(popts, core.WithIndex(idx))
	}
	if minter != nil {
		popts = append(popts, core.WithMinter(minter))
	}
	if fetcher != nil {
		popts = append(popts, core.WithMetadataFetcher(fetcher))
	}
	p, err := core.NewPersister(adapter, popts...)
	if err != nil {
		_ = rt.closeAll()
		return nil, err
	}
	rt.Persister = p
	rt.Queries = graph.NewDefaultRegistry(p.Engine())
	rt.Workers = workers.New(p, files, workers.WithLogger(logger))
	if err := rt.Workers.Register(rt.Jobs); err != nil {
		_ = rt.closeAll()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) openIndex(ctx context.Context) (domain.Index, error) {
	switch rt.Config.Index.Driver {
	case "", config.IndexMemory:
		return index.NewMemory(), nil
	case config.IndexNone:
		return nil, nil
	case config.IndexRedis:
		idx, err := redisindex.Open(ctx, rt.Config.Index.Redis)
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		rt.closers = append(rt.closers, idx)
		return idx, nil
	}
	return nil, fmt.Errorf("unknown index driver %s", rt.Config.Index.Driver)
}

func (rt *Runtime) openTraceOutput(target string) (io.Writer, error) {
	switch target {
	case "":
		return nil, nil
	case "stderr":
		return os.Stderr, nil
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- operator supplied trace path
	if err != nil {
		return nil, fmt.Errorf("open trace output: %w", err)
	}
	rt.closers = append(rt.closers, f)
	return f, nil
}

// Start runs the job workers in the background until Close.
func (rt *Runtime) Start(ctx context.Context) {
	if rt.runDone != nil {
		return
	}
	rt.runDone = make(chan error, 1)
	go func() { rt.runDone <- rt.Jobs.Run(ctx) }()
}

// MetricsHandler serves the runtime's Prometheus registry.
func (rt *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(rt.Registry, promhttp.HandlerOpts{})
}

// VarsHandler serves expvar, including the persister stats, as JSON.
func (rt *Runtime) VarsHandler() http.Handler {
	return expvar.Handler()
}

// Close drains queued jobs, writes the memory snapshot and releases every
// backend.
func (rt *Runtime) Close() error {
	var errs []error
	rt.Jobs.Stop()
	if rt.runDone != nil {
		errs = append(errs, <-rt.runDone)
		rt.runDone = nil
	}
	if store, ok := rt.Adapter.(*memory.Store); ok && rt.snapshot != "" {
		errs = append(errs, saveSnapshot(store, rt.snapshot))
	}
	errs = append(errs, rt.closeAll())
	return errors.Join(errs...)
}

func (rt *Runtime) closeAll() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		errs = append(errs, rt.closers[i].Close())
	}
	rt.closers = nil
	return errors.Join(errs...)
}

type closerFunc func()

func (f closerFunc) Close() error {
	f()
	return nil
}

func loadSnapshot(store *memory.Store, path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied snapshot path
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	store.ImportState(records)
	return nil
}

func saveSnapshot(store *memory.Store, path string) error {
	data, err := json.MarshalIndent(store.ExportState(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}
