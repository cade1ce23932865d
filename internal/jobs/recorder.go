package jobs

import (
	"archivecore/pkg/domain"
	"context"
	"sync"
)

// Recorder is a JobQueue that only records what was enqueued.
type Recorder struct {
	mu   sync.Mutex
	jobs []Job
	err  error
}

var _ domain.JobQueue = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// FailWith makes subsequent Enqueue calls return err.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Enqueue implements domain.JobQueue.
func (r *Recorder) Enqueue(_ context.Context, name string, args map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, Job{Name: name, Args: cloneArgs(args)})
	return nil
}

// Jobs returns every recorded job.
func (r *Recorder) Jobs() []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Job(nil), r.jobs...)
}

// Named returns recorded jobs with the given name.
func (r *Recorder) Named(name string) []Job {
	var out []Job
	for _, j := range r.Jobs() {
		if j.Name == name {
			out = append(out, j)
		}
	}
	return out
}

// Reset clears the recorder.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.jobs = nil
	r.mu.Unlock()
}
