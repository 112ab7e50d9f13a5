// ABOUTME: SQLite implementation of the usage store using modernc.org/sqlite.
// ABOUTME: Provides invocation/session-event persistence with automatic schema creation.

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a usage store at the given path. The schema
// is created automatically; parent directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL keeps readers from blocking the per-request writers
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("usage store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			tool TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			is_error INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_invocations_session
			ON invocations(session_id);

		CREATE TABLE IF NOT EXISTS session_events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			event TEXT NOT NULL,
			transport TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_session_events_session
			ON session_events(session_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// RecordInvocation stores one tool call record.
func (s *SQLiteStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO invocations (id, session_id, tool, duration_ms, is_error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		inv.ID,
		inv.SessionID,
		inv.Tool,
		inv.Duration.Milliseconds(),
		boolToInt(inv.IsError),
		inv.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting invocation: %w", err)
	}

	s.logger.Debug("recorded invocation",
		"tool", inv.Tool,
		"session_id", inv.SessionID,
		"duration_ms", inv.Duration.Milliseconds(),
		"is_error", inv.IsError,
	)
	return nil
}

// RecordSessionEvent stores one session lifecycle record.
func (s *SQLiteStore) RecordSessionEvent(ctx context.Context, ev *SessionEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (id, session_id, event, transport, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID,
		ev.SessionID,
		ev.Event,
		ev.Transport,
		ev.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting session event: %w", err)
	}
	return nil
}

// GetStats aggregates recorded usage.
func (s *SQLiteStore) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_error), 0) FROM invocations`)
	if err := row.Scan(&stats.TotalInvocations, &stats.FailedInvocations); err != nil {
		return nil, fmt.Errorf("counting invocations: %w", err)
	}

	row = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_events WHERE event = 'created'`)
	if err := row.Scan(&stats.SessionsCreated); err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}

	return stats, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
