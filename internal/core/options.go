package core

import (
	"time"

	"archivecore/pkg/domain"
)

// Option configures a Persister.
type Option func(*persisterOptions)

type persisterOptions struct {
	logger    Logger
	clock     Clock
	metrics   MetricsRecorder
	tracer    Tracer
	audit     AuditRecorder
	index     domain.Index
	jobs      domain.JobQueue
	events    domain.EventBus
	minter    IdentifierMinter
	fetcher   MetadataFetcher
	types     *domain.TypeRegistry
	catalog   Catalog
	pipelines map[domain.RecordType]Pipeline

	cascadeRetries uint64
	cascadeBackoff time.Duration
	dateThreshold  int
}

func defaultOptions() persisterOptions {
	return persisterOptions{
		logger:         noopLogger{},
		clock:          systemClock{},
		metrics:        noopMetricsRecorder{},
		tracer:         noopTracer{},
		audit:          noopAuditRecorder{},
		cascadeRetries: 5,
		cascadeBackoff: 5 * time.Millisecond,
		dateThreshold:  1924,
	}
}

// WithLogger sets the persister logger.
func WithLogger(l Logger) Option {
	return func(o *persisterOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides the clock used for timestamps.
func WithClock(c Clock) Option {
	return func(o *persisterOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(o *persisterOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(o *persisterOptions) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(a AuditRecorder) Option {
	return func(o *persisterOptions) {
		if a != nil {
			o.audit = a
		}
	}
}

// WithIndex sets the secondary index.
func WithIndex(idx domain.Index) Option {
	return func(o *persisterOptions) { o.index = idx }
}

// WithJobQueue sets the queue handlers enqueue background work on.
func WithJobQueue(q domain.JobQueue) Option {
	return func(o *persisterOptions) { o.jobs = q }
}

// WithEventBus sets the change notification bus.
func WithEventBus(b domain.EventBus) Option {
	return func(o *persisterOptions) { o.events = b }
}

// WithMinter sets the identifier minter.
func WithMinter(m IdentifierMinter) Option {
	return func(o *persisterOptions) { o.minter = m }
}

// WithMetadataFetcher sets the remote metadata source.
func WithMetadataFetcher(f MetadataFetcher) Option {
	return func(o *persisterOptions) { o.fetcher = f }
}

// WithTypeRegistry sets the record type registry (default: built-in types).
func WithTypeRegistry(r *domain.TypeRegistry) Option {
	return func(o *persisterOptions) { o.types = r }
}

// WithCatalog replaces the handler catalog (default: DefaultCatalog).
func WithCatalog(c Catalog) Option {
	return func(o *persisterOptions) { o.catalog = c }
}

// WithPipelines replaces the per-type pipelines (default: DefaultPipelines).
func WithPipelines(p map[domain.RecordType]Pipeline) Option {
	return func(o *persisterOptions) { o.pipelines = p }
}

// WithCascadeRetry bounds the conflict retries of cascaded saves.
func WithCascadeRetry(maxRetries uint64, backoff time.Duration) Option {
	return func(o *persisterOptions) {
		o.cascadeRetries = maxRetries
		if backoff > 0 {
			o.cascadeBackoff = backoff
		}
	}
}

// WithDateThreshold sets the year before which imported items become open.
func WithDateThreshold(year int) Option {
	return func(o *persisterOptions) {
		if year > 0 {
			o.dateThreshold = year
		}
	}
}
