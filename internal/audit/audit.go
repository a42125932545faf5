// Package audit records queries issued with unrestricted scope.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nocassist/nocassist/internal/observability"
)

type Status string

const (
	StatusAllowed Status = "allowed"
	StatusDenied  Status = "denied"
	StatusError   Status = "error"
)

type Entry struct {
	Time         time.Time `json:"time"`
	Username     string    `json:"username"`
	Question     string    `json:"question"`
	CandidateSQL string    `json:"candidate_sql"`
	EnforcedSQL  string    `json:"enforced_sql,omitempty"`
	Status       Status    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	RowCount     int       `json:"row_count"`
	DurationMs   int64     `json:"duration_ms"`
}

type Recorder interface {
	Record(ctx context.Context, entry Entry)
}

// Log writes every entry as a structured log line and keeps the most recent
// entries in memory for the admin API.
type Log struct {
	logger   *slog.Logger
	capacity int

	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func NewLog(logger *slog.Logger, capacity int) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = 200
	}
	return &Log{logger: logger, capacity: capacity, entries: make([]Entry, capacity)}
}

func (l *Log) Record(ctx context.Context, entry Entry) {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	observability.IncrementAdminQuery(string(entry.Status))
	l.logger.InfoContext(ctx, "admin query audited",
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("username", entry.Username),
		slog.String("status", string(entry.Status)),
		slog.String("reason", entry.Reason),
		slog.String("candidate_sql", entry.CandidateSQL),
		slog.String("enforced_sql", entry.EnforcedSQL),
		slog.Int("row_count", entry.RowCount),
		slog.Int64("duration_ms", entry.DurationMs),
	)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[l.next] = entry
	l.next = (l.next + 1) % l.capacity
	if l.next == 0 {
		l.full = true
	}
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	size := l.next
	if l.full {
		size = l.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Entry, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.next - 1 - i + l.capacity) % l.capacity
		out = append(out, l.entries[idx])
	}
	return out
}
