package tools

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Change types recorded in a [ChangeRecord].
const (
	ChangeInsert  = "insert"
	ChangeAppend  = "append"
	ChangeReplace = "replace"
)

// ChangeRecord is the audit entry for one applied modification.
type ChangeRecord struct {
	ID          string
	Timestamp   time.Time
	FilePath    string
	Description string
	BackupPath  string
	ChangeType  string
}

// ChangeSink persists change records outside the process.
type ChangeSink interface {
	Save(ctx context.Context, rec ChangeRecord) error
}

// ChangeLog is the append-only in-memory audit trail of modifications,
// optionally mirrored to a [ChangeSink].
type ChangeLog struct {
	mu      sync.Mutex
	records []ChangeRecord
	sink    ChangeSink
	logger  *slog.Logger
}

// NewChangeLog creates an empty log. sink may be nil.
func NewChangeLog(sink ChangeSink, logger *slog.Logger) *ChangeLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeLog{sink: sink, logger: logger}
}

// Add assigns rec an ID if it has none and appends it. A sink failure is
// logged; the file has already been written, so the in-memory record is
// kept regardless.
func (l *ChangeLog) Add(ctx context.Context, rec ChangeRecord) ChangeRecord {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			id = uuid.New()
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.records = append(l.records, rec)
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Save(ctx, rec); err != nil {
			l.logger.Warn("failed to persist change record",
				"id", rec.ID, "file", rec.FilePath, "error", err)
		}
	}
	return rec
}

// Records returns a copy of the log, oldest first.
func (l *ChangeLog) Records() []ChangeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.records)
}

// Len returns the number of records.
func (l *ChangeLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
