// Package audit records append-only structured events for validation and
// integrity activity so operators can trace repairs over time.
package audit

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Logger is the audit sink consumed by parsing, validation and integrity steps.
type Logger interface {
	Log(ctx context.Context, event string, fields map[string]any)
}

// Event is a single audit record.
type Event struct {
	Name      string         `json:"event"`
	Fields    map[string]any `json:"context"`
	CreatedAt time.Time      `json:"created_at"`
}

type Config struct {
	Format string // "json" or "text"
	Level  slog.Level
}

// SlogLogger writes audit events through a log/slog handler.
type SlogLogger struct {
	logger *slog.Logger
}

func NewSlogLogger(w io.Writer, config Config) *SlogLogger {
	opts := &slog.HandlerOptions{Level: config.Level}

	var handler slog.Handler
	switch config.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}
	return &SlogLogger{logger: slog.New(handler).With(slog.String("channel", "audit"))}
}

func (l *SlogLogger) Log(ctx context.Context, event string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, key := range keys {
		attrs = append(attrs, slog.Any(key, fields[key]))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, event, slog.Attr{Key: "context", Value: slog.GroupValue(attrs...)})
}

// Recorder keeps the most recent events in memory. When the capacity is
// reached the oldest half is dropped.
type Recorder struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
	next     Logger
}

func NewRecorder(capacity int, next Logger) *Recorder {
	if capacity <= 0 {
		capacity = 200
	}
	return &Recorder{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		next:     next,
	}
}

func (r *Recorder) Log(ctx context.Context, event string, fields map[string]any) {
	cloned := make(map[string]any, len(fields))
	for key, value := range fields {
		cloned[key] = value
	}

	r.mu.Lock()
	if len(r.events) >= r.capacity {
		keep := r.events[len(r.events)/2:]
		r.events = append(make([]Event, 0, r.capacity), keep...)
	}
	r.events = append(r.events, Event{Name: event, Fields: cloned, CreatedAt: time.Now().UTC()})
	r.mu.Unlock()

	if r.next != nil {
		r.next.Log(ctx, event, fields)
	}
}

// Events returns a snapshot, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Event, 0)
	for _, event := range r.events {
		if event.Name == name {
			result = append(result, event)
		}
	}
	return result
}

type nopLogger struct{}

func (nopLogger) Log(context.Context, string, map[string]any) {}

// Nop discards every event.
func Nop() Logger {
	return nopLogger{}
}
