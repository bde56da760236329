// Package store is the Datastore collaborator: relational, transactional
// persistence for everything the core needs to survive a restart. It is a
// thin typed layer over database/sql backed by modernc.org/sqlite (pure Go,
// no CGO) in WAL mode with a single writer connection.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	sqlDB.SetMaxOpenConns(1) // SQLite is single-writer
	sqlDB.SetMaxIdleConns(1)

	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// OpenMemory opens an ephemeral in-process database, for tests.
func OpenMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", "file::memory:?cache=shared&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	d := &DB{db: sqlDB}
	if err := d.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database connectivity, used by the health supervisor's
// database probe.
func (d *DB) Ping() error { return d.db.Ping() }

// Tx runs fn inside a single transaction, committing on success and rolling
// back on any error or panic.
func (d *DB) Tx(fn func(*sql.Tx) error) (err error) {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			plan_type  TEXT NOT NULL DEFAULT 'free',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_user ON projects(user_id)`,
		`CREATE TABLE IF NOT EXISTS deployments (
			id               TEXT PRIMARY KEY,
			project_id       TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			status           TEXT NOT NULL,
			runtime_kind     TEXT NOT NULL,
			sandbox_handle   TEXT NOT NULL DEFAULT '',
			public_url       TEXT NOT NULL DEFAULT '',
			instances        INTEGER NOT NULL DEFAULT 1,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_user ON deployments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_project ON deployments(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_deployments_status ON deployments(status)`,
		`CREATE TABLE IF NOT EXISTS scaling_policies (
			id                   TEXT PRIMARY KEY,
			deployment_id        TEXT NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
			thresholds_json      TEXT NOT NULL,
			scale_up_threshold   REAL NOT NULL,
			scale_down_threshold REAL NOT NULL,
			cooldown_ms          INTEGER NOT NULL,
			min_instances        INTEGER NOT NULL,
			max_instances        INTEGER NOT NULL,
			enabled              BOOLEAN NOT NULL DEFAULT 1,
			last_cooldown_at     INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_policies_deployment ON scaling_policies(deployment_id)`,
		`CREATE TABLE IF NOT EXISTS scaling_events (
			id               TEXT PRIMARY KEY,
			deployment_id    TEXT NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
			policy_id        TEXT NOT NULL DEFAULT '',
			kind             TEXT NOT NULL,
			from_instances   INTEGER NOT NULL,
			to_instances     INTEGER NOT NULL,
			reason           TEXT NOT NULL,
			metrics_json     TEXT NOT NULL DEFAULT '{}',
			created_at       INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_deployment ON scaling_events(deployment_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS resource_usage (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id TEXT NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
			timestamp     INTEGER NOT NULL,
			cpu_percent   REAL NOT NULL,
			mem_percent   REAL NOT NULL,
			network_io    REAL NOT NULL,
			disk_io       REAL NOT NULL,
			cost_per_hour REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_deployment ON resource_usage(deployment_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS optimization_recommendations (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			deployment_id TEXT NOT NULL REFERENCES deployments(id) ON DELETE CASCADE,
			kind          TEXT NOT NULL,
			description   TEXT NOT NULL,
			savings_pct   REAL NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recs_deployment ON optimization_recommendations(deployment_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS environment_configs (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS environment_variables (
			id            TEXT PRIMARY KEY,
			env_config_id TEXT NOT NULL REFERENCES environment_configs(id) ON DELETE CASCADE,
			key           TEXT NOT NULL,
			value         TEXT NOT NULL,
			updated_at    INTEGER NOT NULL,
			UNIQUE(env_config_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS config_audit_logs (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			env_config_id TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			action        TEXT NOT NULL,
			key           TEXT NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
