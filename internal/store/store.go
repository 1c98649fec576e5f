package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// Store is the SQLite-backed persistence layer for outcomes, reflections,
// the task pool, planning sessions and the audit log.
type Store struct {
	Path string
	DB   *sql.DB
	now  func() time.Time
}

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("ensure db dir: %w", err)
		}
		dsn = absPath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{Path: dsn, DB: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			direction TEXT,
			object TEXT,
			metric TEXT,
			clarifier TEXT,
			assembled_text TEXT,
			state_preference TEXT,
			daily_capacity_hours REAL
		);`,
		`CREATE TABLE IF NOT EXISTS reflections (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1
		);`,
		`CREATE TABLE IF NOT EXISTS task_embeddings (
			task_id TEXT PRIMARY KEY,
			task_text TEXT NOT NULL,
			document_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'extraction',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS task_vectors (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			metadata_json TEXT NOT NULL,
			embedding_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS structured_documents (
			document_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			actions_json TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS agent_sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			outcome_id TEXT NOT NULL,
			status TEXT NOT NULL,
			prioritized_plan TEXT,
			excluded_tasks TEXT,
			baseline_document_ids TEXT,
			execution_metadata TEXT,
			loop_metadata TEXT,
			reasoning_trace TEXT,
			created_at TEXT NOT NULL,
			completed_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_outcome ON agent_sessions(user_id, outcome_id, status, completed_at);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			ts TEXT NOT NULL,
			actor TEXT NOT NULL,
			type TEXT NOT NULL,
			payload_json TEXT NOT NULL
		);`,
	}
	for _, q := range queries {
		if _, err := s.DB.Exec(q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
