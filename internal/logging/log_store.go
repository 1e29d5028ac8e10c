package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry represents a single log entry
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// ring is shared by a Store and every handler derived from it
type ring struct {
	mu      sync.RWMutex
	entries []LogEntry
	maxSize int // Maximum number of logs to keep (0 = unlimited)
}

// Store keeps recent log records in memory and forwards them to another
// handler. It is a slog.Handler, so components log through a plain
// *slog.Logger and the latest entries can still be served over HTTP.
type Store struct {
	ring  *ring
	next  slog.Handler
	attrs []slog.Attr
	group string
}

// NewLogStore creates a log store holding up to maxSize entries and
// forwarding every record to next
func NewLogStore(maxSize int, next slog.Handler) *Store {
	return &Store{
		ring: &ring{maxSize: maxSize},
		next: next,
	}
}

// Enabled defers to the forwarding handler
func (s *Store) Enabled(ctx context.Context, level slog.Level) bool {
	return s.next.Enabled(ctx, level)
}

// Handle stores the record and passes it on
func (s *Store) Handle(ctx context.Context, r slog.Record) error {
	entry := LogEntry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Message:   r.Message,
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if n := len(s.attrs) + r.NumAttrs(); n > 0 {
		entry.Attrs = make(map[string]any, n)
		for _, a := range s.attrs {
			entry.Attrs[a.Key] = a.Value.Resolve().Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			key := a.Key
			if s.group != "" {
				key = s.group + "." + key
			}
			entry.Attrs[key] = a.Value.Resolve().Any()
			return true
		})
	}

	s.ring.add(entry)
	return s.next.Handle(ctx, r)
}

// WithAttrs returns a handler sharing the same entries
func (s *Store) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *s
	clone.attrs = make([]slog.Attr, 0, len(s.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, s.attrs...)
	for _, a := range attrs {
		if s.group != "" {
			a.Key = s.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	clone.next = s.next.WithAttrs(attrs)
	return &clone
}

// WithGroup returns a handler sharing the same entries
func (s *Store) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}
	clone := *s
	if s.group != "" {
		name = s.group + "." + name
	}
	clone.group = name
	clone.next = s.next.WithGroup(name)
	return &clone
}

func (r *ring) add(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry)

	// Trim if we exceed max size
	if r.maxSize > 0 && len(r.entries) > r.maxSize {
		r.entries = r.entries[len(r.entries)-r.maxSize:]
	}
}

// GetAll returns all log entries
func (s *Store) GetAll() []LogEntry {
	s.ring.mu.RLock()
	defer s.ring.mu.RUnlock()

	// Return a copy to prevent race conditions
	result := make([]LogEntry, len(s.ring.entries))
	copy(result, s.ring.entries)
	return result
}

// Clear clears all log entries
func (s *Store) Clear() {
	s.ring.mu.Lock()
	defer s.ring.mu.Unlock()
	s.ring.entries = nil
}

// ParseLevel maps a config string onto a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
