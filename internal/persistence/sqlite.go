package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/robotd/internal/logger"
	"github.com/rewired-gh/robotd/internal/models"
)

const (
	createSchema = `
CREATE TABLE IF NOT EXISTS history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    collected_at TEXT NOT NULL,
    data         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_collected_at ON history(collected_at);
CREATE TABLE IF NOT EXISTS current_state (
    id         INTEGER PRIMARY KEY CHECK (id = 1),
    updated_at TEXT NOT NULL,
    data       TEXT NOT NULL
);
`
	insertHistory = `INSERT INTO history (collected_at, data) VALUES (?, ?)`
	upsertCurrent = `INSERT INTO current_state (id, updated_at, data) VALUES (1, ?, ?) ` +
		`ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at, data = excluded.data`

	sqliteTimeout = 5 * time.Second
)

// SQLiteSink archives every committed record. Unlike the JSON documents it is
// never reset, so it accumulates history across restarts.
type SQLiteSink struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database file at path using the pure-Go
// modernc driver.
func OpenSQLite(path string, dirPerm os.FileMode) (*SQLiteSink, error) {
	if dirPerm == 0 {
		dirPerm = 0o755
	}
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	// single writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteSink(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("SQLite archive opened at %s", path)
	return s, nil
}

// NewSQLiteSink wraps an open database and applies the schema.
func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db, now: time.Now}
	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	if _, err := db.ExecContext(ctx, createSchema); err != nil {
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLiteSink) WriteCurrent(snapshot *models.Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: marshal current: %w", models.ErrPersistence, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	updated := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, upsertCurrent, updated, string(data)); err != nil {
		return fmt.Errorf("%w: upsert current: %w", models.ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteSink) AppendHistory(record models.HistoryRecord) error {
	data, err := json.Marshal(record.Data)
	if err != nil {
		return fmt.Errorf("%w: marshal history record: %w", models.ErrPersistence, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), sqliteTimeout)
	defer cancel()
	collected := record.CollectedAt.UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, insertHistory, collected, string(data)); err != nil {
		return fmt.Errorf("%w: insert history: %w", models.ErrPersistence, err)
	}
	return nil
}

// Close shuts down the database connection.
func (s *SQLiteSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ Sink = (*SQLiteSink)(nil)
