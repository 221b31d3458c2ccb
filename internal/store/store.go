package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS specs (
	slug             TEXT PRIMARY KEY,
	output_type      TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 0,
	is_dirty         INTEGER NOT NULL DEFAULT 0,
	config_json      TEXT NOT NULL,
	raw_source_json  TEXT,
	version          INTEGER NOT NULL DEFAULT 1,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_specs_active_type ON specs(output_type, is_active, is_dirty);

CREATE TABLE IF NOT EXISTS parameters (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	is_adjustable  INTEGER NOT NULL DEFAULT 0,
	high_label     TEXT,
	low_label      TEXT
);

CREATE TABLE IF NOT EXISTS score_events (
	seq           INTEGER PRIMARY KEY AUTOINCREMENT,
	caller_id     TEXT NOT NULL,
	parameter_id  TEXT NOT NULL,
	score         REAL NOT NULL,
	confidence    REAL NOT NULL,
	scored_at     TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_score_events_window ON score_events(caller_id, parameter_id, scored_at DESC);

CREATE TABLE IF NOT EXISTS attributes (
	id          TEXT PRIMARY KEY,
	caller_id   TEXT NOT NULL,
	key         TEXT NOT NULL,
	scope       TEXT NOT NULL,
	value       TEXT NOT NULL,
	confidence  REAL NOT NULL,
	updated_at  TEXT NOT NULL,
	UNIQUE (caller_id, key, scope)
);

CREATE TABLE IF NOT EXISTS targets (
	id            TEXT PRIMARY KEY,
	caller_id     TEXT NOT NULL,
	parameter_id  TEXT NOT NULL,
	target_value  REAL NOT NULL,
	confidence    REAL NOT NULL,
	source_spec   TEXT,
	rationale     TEXT,
	updated_at    TEXT NOT NULL,
	UNIQUE (caller_id, parameter_id)
);

CREATE TABLE IF NOT EXISTS pipeline_log (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	caller_id     TEXT NOT NULL,
	spec_slug     TEXT,
	output_type   TEXT,
	decision      TEXT NOT NULL,
	reason        TEXT,
	details_json  TEXT,
	created_at    TEXT NOT NULL
);
`
// #endregion schema

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// #region store-struct
// Store is the SQLite storage collaborator for specs, scores, profiles and targets.
type Store struct {
	db *sql.DB
}
// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}
// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
// #endregion close

// #region db-accessor
// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}
// #endregion db-accessor

// #region helpers
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
// #endregion helpers
