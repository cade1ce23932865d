// Package events implements the in-process change notification bus.
package events

import (
	"archivecore/pkg/domain"
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Bus fans published events out to subscribers. Slow subscribers never block
// publishers: when a subscriber's buffer is full the event is dropped for it.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscription
	bufferSize  int
	historySize int
	history     []domain.Event
	logger      *slog.Logger
	closed      bool
}

type subscription struct {
	ch    chan domain.Event
	types map[domain.EventType]bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber channel buffer (default 64).
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithHistory keeps the last n published events for inspection.
func WithHistory(n int) Option {
	return func(b *Bus) { b.historySize = n }
}

// WithLogger sets the logger used for dropped events.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

var _ domain.EventBus = (*Bus)(nil)

// NewBus creates an event bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string]*subscription),
		bufferSize:  64,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "eventbus")
	return b
}

// Subscribe returns a channel receiving events of the given types (all types
// when none are given) and a function that cancels the subscription.
func (b *Bus) Subscribe(types ...domain.EventType) (<-chan domain.Event, func()) {
	sub := &subscription{ch: make(chan domain.Event, b.bufferSize), types: make(map[domain.EventType]bool, len(types))}
	for _, t := range types {
		sub.types[t] = true
	}
	id := uuid.NewString()
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subscribers[id] = sub
	b.mu.Unlock()
	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(s.ch)
			}
		})
	}
}

// Publish implements domain.EventBus.
func (b *Bus) Publish(_ context.Context, event domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("event bus is closed")
	}
	if b.historySize > 0 {
		b.history = append(b.history, event)
		if over := len(b.history) - b.historySize; over > 0 {
			b.history = append([]domain.Event(nil), b.history[over:]...)
		}
	}
	for _, sub := range b.subscribers {
		if len(sub.types) > 0 && !sub.types[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Warn("dropping event for slow subscriber", "type", event.Type, "record_id", event.RecordID)
		}
	}
	return nil
}

// History returns the retained events, oldest first.
func (b *Bus) History() []domain.Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]domain.Event(nil), b.history...)
}

// HistoryOf returns retained events of type t.
func (b *Bus) HistoryOf(t domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range b.History() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Close stops the bus and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.ch)
		delete(b.subscribers, id)
	}
}
