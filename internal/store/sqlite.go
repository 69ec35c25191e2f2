// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides probe, deployment, schedule, and metrics persistence with automatic schema creation

package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serializes writers, which is what makes the
	// conditional updates below race-free, and keeps :memory: databases
	// from splitting across pooled connections.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS probes (
			id                         TEXT PRIMARY KEY,
			slug                       TEXT NOT NULL UNIQUE,
			name                       TEXT NOT NULL,
			description                TEXT,
			owner_email                TEXT NOT NULL,
			owner_team                 TEXT,
			status                     TEXT NOT NULL,
			framework_bindings_json    TEXT NOT NULL DEFAULT '[]',
			tags_json                  TEXT NOT NULL DEFAULT '[]',
			alert_channels_json        TEXT NOT NULL DEFAULT '[]',
			evidence_schema_json       TEXT,
			environment_overlays_json  TEXT,
			sdk_version_min            TEXT NOT NULL,
			sdk_version_target         TEXT NOT NULL,
			heartbeat_interval_seconds INTEGER NOT NULL,
			metadata_json              TEXT,
			last_deployed_at           TEXT,
			archived_at                TEXT,
			created_at                 TEXT NOT NULL,
			updated_at                 TEXT NOT NULL,

			CHECK (status IN ('draft', 'active', 'deprecated'))
		);

		CREATE INDEX IF NOT EXISTS idx_probes_status ON probes(status);
		CREATE INDEX IF NOT EXISTS idx_probes_created ON probes(created_at DESC);

		CREATE TABLE IF NOT EXISTS deployments (
			id             TEXT PRIMARY KEY,
			probe_id       TEXT NOT NULL REFERENCES probes(id),
			version        TEXT NOT NULL,
			environment    TEXT NOT NULL,
			status         TEXT NOT NULL,
			canary_percent INTEGER,
			summary        TEXT,
			overlay_id     TEXT,
			manifest_json  TEXT,
			metadata_json  TEXT,
			self_test_json TEXT,
			started_at     TEXT,
			completed_at   TEXT,
			rolled_back_at TEXT,
			revision       INTEGER NOT NULL DEFAULT 0,
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL,

			CHECK (status IN ('pending', 'in_progress', 'completed', 'failed', 'rolled_back', 'cancelled')),
			CHECK (status != 'completed' OR completed_at IS NOT NULL)
		);

		CREATE INDEX IF NOT EXISTS idx_deployments_probe ON deployments(probe_id, created_at DESC);

		CREATE TABLE IF NOT EXISTS schedules (
			id            TEXT PRIMARY KEY,
			probe_id      TEXT NOT NULL REFERENCES probes(id),
			type          TEXT NOT NULL,
			expression    TEXT,
			priority      TEXT NOT NULL,
			status        TEXT NOT NULL,
			controls_json TEXT NOT NULL DEFAULT '[]',
			metadata_json TEXT,
			last_run_at   TEXT,
			next_run_at   TEXT,
			created_at    TEXT NOT NULL,
			updated_at    TEXT NOT NULL,

			CHECK (type IN ('cron', 'event', 'adhoc')),
			CHECK (priority IN ('low', 'normal', 'high', 'urgent')),
			CHECK (status IN ('active', 'paused', 'disabled'))
		);

		CREATE INDEX IF NOT EXISTS idx_schedules_probe ON schedules(probe_id, created_at);
		CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(status, next_run_at);

		CREATE TABLE IF NOT EXISTS probe_metrics (
			probe_id                   TEXT PRIMARY KEY REFERENCES probes(id),
			heartbeat_status           TEXT NOT NULL,
			heartbeat_interval_seconds INTEGER NOT NULL,
			last_heartbeat_at          TEXT,
			failure_count_24h          INTEGER NOT NULL DEFAULT 0,
			latency_p95_ms             INTEGER,
			last_error_code            TEXT,
			metadata_json              TEXT,
			updated_at                 TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS probe_events (
			event_id     TEXT PRIMARY KEY,
			probe_id     TEXT NOT NULL REFERENCES probes(id),
			type         TEXT NOT NULL,
			payload_json TEXT,
			created_at   TEXT NOT NULL,

			CHECK (type IN ('HEARTBEAT', 'FAILURE', 'DEPLOYMENT', 'RUN', 'STATUS'))
		);

		CREATE INDEX IF NOT EXISTS idx_probe_events_probe ON probe_events(probe_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "PRIMARY KEY constraint failed")
}

// isForeignKeyViolation reports an insert that referenced a missing probe.
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullTime formats an optional timestamp for a nullable column.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// encodeJSON marshals v, storing nil for empty maps.
func encodeJSON(v any) (any, error) {
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// encodeList marshals a string slice, storing "[]" for nil.
func encodeList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeMap(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeList(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// Ensure SQLiteStore implements Store interface
var _ Store = (*SQLiteStore)(nil)
