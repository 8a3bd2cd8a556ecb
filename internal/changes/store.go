// Package changes persists the file modification audit trail so it
// survives the session that produced it.
package changes

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/codecraft/internal/tools"

	_ "github.com/mattn/go-sqlite3"
)

// Store is a SQLite-backed change history. It implements
// [tools.ChangeSink]. All methods are safe for concurrent use.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the history database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS changes (
			id          TEXT PRIMARY KEY,
			timestamp   TEXT NOT NULL,
			file_path   TEXT NOT NULL,
			description TEXT NOT NULL,
			backup_path TEXT NOT NULL,
			change_type TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_changes_file ON changes(file_path);
		CREATE INDEX IF NOT EXISTS idx_changes_timestamp ON changes(timestamp DESC);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records one change. Saving the same ID twice is a no-op.
func (s *Store) Save(ctx context.Context, rec tools.ChangeRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO changes (id, timestamp, file_path, description, backup_path, change_type)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, rec.ID, rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.FilePath, rec.Description, rec.BackupPath, rec.ChangeType)
	if err != nil {
		return fmt.Errorf("save change %s: %w", rec.ID, err)
	}
	return nil
}

// List returns the most recent changes, newest first. A limit of zero
// or less returns everything.
func (s *Store) List(ctx context.Context, limit int) ([]tools.ChangeRecord, error) {
	return s.query(ctx, `
		SELECT id, timestamp, file_path, description, backup_path, change_type
		FROM changes ORDER BY timestamp DESC, id DESC LIMIT ?
	`, sqlLimit(limit))
}

// ForFile returns the changes to one file, newest first.
func (s *Store) ForFile(ctx context.Context, filePath string, limit int) ([]tools.ChangeRecord, error) {
	return s.query(ctx, `
		SELECT id, timestamp, file_path, description, backup_path, change_type
		FROM changes WHERE file_path = ? ORDER BY timestamp DESC, id DESC LIMIT ?
	`, filePath, sqlLimit(limit))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]tools.ChangeRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer rows.Close()

	var out []tools.ChangeRecord
	for rows.Next() {
		var rec tools.ChangeRecord
		var ts string
		if err := rows.Scan(&rec.ID, &ts, &rec.FilePath, &rec.Description, &rec.BackupPath, &rec.ChangeType); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
