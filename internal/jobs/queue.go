// Package jobs runs asynchronous work enqueued by persistence handlers.
package jobs

import (
	"archivecore/pkg/domain"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Job is one unit of enqueued work.
type Job struct {
	ID         string
	Name       string
	Args       map[string]string
	EnqueuedAt time.Time
}

// Handler performs a job. Returning an error schedules a retry.
type Handler func(ctx context.Context, args map[string]string) error

// ErrClosed is returned when enqueueing on a stopped queue.
var ErrClosed = errors.New("job queue closed")

// ErrQueueFull is returned when the buffer has no room for another job.
var ErrQueueFull = errors.New("job queue full")

// Queue is an in-process, at-least-once job queue served by a fixed worker pool.
type Queue struct {
	mu         sync.RWMutex
	handlers   map[string]Handler
	jobs       chan Job
	closed     bool
	workers    int
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
	now        func() time.Time

	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the worker pool size (default 4).
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithRetry sets how many times a failing job is retried and the base
// Fibonacci backoff between attempts.
func WithRetry(maxRetries uint64, backoff time.Duration) Option {
	return func(q *Queue) {
		q.maxRetries = maxRetries
		if backoff > 0 {
			q.backoff = backoff
		}
	}
}

// WithCapacity sets the buffered capacity of the queue (default 256).
func WithCapacity(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.jobs = make(chan Job, n)
		}
	}
}

// WithLogger sets the queue logger.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

var _ domain.JobQueue = (*Queue)(nil)

// NewQueue constructs a stopped queue; call Run to start the workers.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		handlers:   make(map[string]Handler),
		jobs:       make(chan Job, 256),
		workers:    4,
		maxRetries: 3,
		backoff:    100 * time.Millisecond,
		logger:     slog.Default(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With("component", "jobs")
	return q
}

// Register binds a handler to a job name.
func (q *Queue) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return fmt.Errorf("job registration requires a name and handler")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.handlers[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	q.handlers[name] = h
	return nil
}

// Names returns the registered job names in sorted order.
func (q *Queue) Names() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Enqueue implements domain.JobQueue. It never waits: a full buffer returns
// ErrQueueFull.
func (q *Queue) Enqueue(ctx context.Context, name string, args map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	job := Job{ID: uuid.NewString(), Name: name, Args: cloneArgs(args), EnqueuedAt: q.now()}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		q.dropped.Add(1)
		return fmt.Errorf("enqueue %s: %w", name, ErrQueueFull)
	}
}

// Run starts the workers and blocks until Stop drains the queue or ctx is
// cancelled.
func (q *Queue) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case job, ok := <-q.jobs:
					if !ok {
						return nil
					}
					q.process(gctx, job)
				}
			}
		})
	}
	return g.Wait()
}

// Stop refuses new jobs and lets the workers drain what is buffered.
func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.jobs)
}

// Processed returns the number of jobs that completed successfully.
func (q *Queue) Processed() int64 { return q.processed.Load() }

// Failed returns the number of jobs that exhausted their retries.
func (q *Queue) Failed() int64 { return q.failed.Load() }

// Dropped returns the number of jobs refused because the buffer was full.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

func (q *Queue) process(ctx context.Context, job Job) {
	q.mu.RLock()
	h, ok := q.handlers[job.Name]
	q.mu.RUnlock()
	if !ok {
		q.failed.Add(1)
		q.logger.Error("no handler registered for job", "job", job.Name, "job_id", job.ID)
		return
	}
	attempt := 0
	b := retry.WithMaxRetries(q.maxRetries, retry.NewFibonacci(q.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		if err := h(ctx, job.Args); err != nil {
			q.logger.Warn("job attempt failed", "job", job.Name, "job_id", job.ID, "attempt", attempt, "error", err)
			if errors.Is(err, ErrPermanent) {
				return err
			}
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		q.failed.Add(1)
		q.logger.Error("job failed", "job", job.Name, "job_id", job.ID, "attempts", attempt, "error", err)
		return
	}
	q.processed.Add(1)
	q.logger.Debug("job completed", "job", job.Name, "job_id", job.ID, "attempts", attempt)
}

// ErrPermanent marks a handler failure that must not be retried.
var ErrPermanent = errors.New("permanent job failure")

// Permanent wraps err so the queue does not retry it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func cloneArgs(args map[string]string) map[string]string {
	out := make(map[string]string, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}
