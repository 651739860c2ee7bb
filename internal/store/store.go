// Package store persists runs and schedules in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/webextract/internal/config"
	_ "modernc.org/sqlite"
)

// Sealer encrypts blobs at rest. *vault.Vault satisfies it.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(blob []byte) ([]byte, error)
}

type Store struct {
	db     *sql.DB
	sealer Sealer
}

type Option func(*Store)

// WithSealer encrypts the pipeline column of new runs.
func WithSealer(s Sealer) Option {
	return func(st *Store) { st.sealer = s }
}

func New(cfg config.StoreConfig, opts ...Option) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Concurrent readers alongside run writers
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			policy      TEXT NOT NULL,
			pipeline    BLOB,
			sealed      BOOLEAN DEFAULT FALSE,
			results     TEXT,
			created_at  DATETIME NOT NULL,
			started_at  DATETIME,
			ended_at    DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS schedules (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			pipeline     TEXT NOT NULL,
			schedule     TEXT NOT NULL,
			status       TEXT DEFAULT 'active',
			next_run_at  DATETIME,
			last_run_at  DATETIME,
			last_run_id  TEXT,
			last_status  TEXT,
			last_error   TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

// placeholders returns "?,?,..." and the matching args for an IN clause.
func placeholders(values []string) (string, []any) {
	query := ""
	args := make([]any, len(values))
	for i, v := range values {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = v
	}
	return query, args
}
