package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"archivecore/pkg/domain"
)

// splitOperation reverses the "<action>_<record type>" naming used by observe.
func splitOperation(op string) (AuditAction, domain.RecordType, bool) {
	action, typ, ok := strings.Cut(op, "_")
	if !ok || typ == "" {
		return "", "", false
	}
	switch AuditAction(action) {
	case AuditActionSave, AuditActionDelete:
		return AuditAction(action), domain.RecordType(typ), true
	}
	return "", "", false
}

// TypeStats counts the writes of one record type.
type TypeStats struct {
	Saves    int64     `json:"saves"`
	Deletes  int64     `json:"deletes"`
	Failures int64     `json:"failures"`
	TotalMS  float64   `json:"total_ms"`
	MaxMS    float64   `json:"max_ms"`
	LastAt   time.Time `json:"last_at"`
}

func (s *TypeStats) add(action AuditAction, success bool, ms float64, at time.Time) {
	switch {
	case !success:
		s.Failures++
	case action == AuditActionSave:
		s.Saves++
	default:
		s.Deletes++
	}
	s.TotalMS += ms
	if ms > s.MaxMS {
		s.MaxMS = ms
	}
	if at.After(s.LastAt) {
		s.LastAt = at
	}
}

// ExpvarSnapshot is the document published under the stats' expvar name.
type ExpvarSnapshot struct {
	Types  map[domain.RecordType]TypeStats `json:"types"`
	Totals TypeStats                       `json:"totals"`
}

var expvarMu sync.Mutex

// ExpvarStats is a MetricsRecorder that keeps per-record-type write counters
// and publishes them through expvar, next to the runtime's memstats at
// /debug/vars.
type ExpvarStats struct {
	name  string
	clock Clock

	mu    sync.Mutex
	types map[domain.RecordType]*TypeStats
}

// NewExpvarStats publishes stats under name. A name that is already taken
// gets a numeric suffix, so several persisters can live in one process.
func NewExpvarStats(name string, clock Clock) *ExpvarStats {
	if name == "" {
		name = "archivecore_persister"
	}
	if clock == nil {
		clock = systemClock{}
	}
	s := &ExpvarStats{clock: clock, types: make(map[domain.RecordType]*TypeStats)}
	expvarMu.Lock()
	defer expvarMu.Unlock()
	s.name = name
	for i := 2; expvar.Get(s.name) != nil; i++ {
		s.name = fmt.Sprintf("%s_%d", name, i)
	}
	expvar.Publish(s.name, expvar.Func(func() any { return s.Snapshot() }))
	return s
}

// Name is the expvar key the stats are published under.
func (s *ExpvarStats) Name() string { return s.name }

// Observe implements MetricsRecorder. Operations that do not name a save or
// delete of a record type are ignored.
func (s *ExpvarStats) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	action, typ, ok := splitOperation(operation)
	if !ok {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	at := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.types[typ]
	if !ok {
		st = &TypeStats{}
		s.types[typ] = st
	}
	st.add(action, success, ms, at)
}

// Snapshot copies the current counters and sums them into Totals.
func (s *ExpvarStats) Snapshot() ExpvarSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := ExpvarSnapshot{Types: make(map[domain.RecordType]TypeStats, len(s.types))}
	for typ, st := range s.types {
		out.Types[typ] = *st
		out.Totals.Saves += st.Saves
		out.Totals.Deletes += st.Deletes
		out.Totals.Failures += st.Failures
		out.Totals.TotalMS += st.TotalMS
		if st.MaxMS > out.Totals.MaxMS {
			out.Totals.MaxMS = st.MaxMS
		}
		if st.LastAt.After(out.Totals.LastAt) {
			out.Totals.LastAt = st.LastAt
		}
	}
	return out
}

// TraceRetention bounds how many spans a JSONTraceTracer keeps in memory.
const TraceRetention = 512

// JSONTraceEntry is one finished persister span.
type JSONTraceEntry struct {
	Seq        uint64            `json:"seq"`
	Operation  string            `json:"operation"`
	Action     AuditAction       `json:"action,omitempty"`
	RecordType domain.RecordType `json:"record_type,omitempty"`
	// Depth is the number of enclosing persister spans: cascaded saves and
	// deletes started by handlers have depth > 0.
	Depth      int       `json:"depth"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes each finished span as a JSON line and keeps the
// most recent TraceRetention spans for Entries.
type JSONTraceTracer struct {
	clock Clock

	mu      sync.Mutex
	seq     uint64
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer writes spans to w, which may be nil.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{clock: systemClock{}}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns the retained spans, oldest first.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

type traceDepthKey struct{}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	depth, _ := ctx.Value(traceDepthKey{}).(int)
	span := &jsonTraceSpan{tracer: t, operation: operation, depth: depth, started: t.clock.Now()}
	return context.WithValue(ctx, traceDepthKey{}, depth+1), span
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	depth     int
	started   time.Time
}

func (s *jsonTraceSpan) End(err error) {
	t := s.tracer
	ended := t.clock.Now()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Depth:      s.depth,
		Status:     string(AuditStatusSuccess),
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	entry.Action, entry.RecordType, _ = splitOperation(s.operation)
	if err != nil {
		entry.Status = string(AuditStatusError)
		entry.Error = err.Error()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	entry.Seq = t.seq
	t.entries = append(t.entries, entry)
	if over := len(t.entries) - TraceRetention; over > 0 {
		t.entries = append(t.entries[:0], t.entries[over:]...)
	}
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
}
