package db

import (
	"context"
	"fmt"
)

// Schema version is tracked in user_version so additive migrations can be
// applied in order on startup.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS executions (
		id            TEXT PRIMARY KEY,
		workflow_name TEXT NOT NULL,
		workflow_path TEXT NOT NULL DEFAULT '',
		status        TEXT NOT NULL,
		trigger_type  TEXT NOT NULL DEFAULT 'manual',
		inputs        TEXT NOT NULL DEFAULT '{}',
		started_at    TIMESTAMP NOT NULL,
		finished_at   TIMESTAMP,
		duration_ms   INTEGER,
		error         TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_executions_workflow ON executions(workflow_name, started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);

	CREATE TABLE IF NOT EXISTS node_executions (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
		node_id      TEXT NOT NULL,
		node_type    TEXT NOT NULL,
		status       TEXT NOT NULL,
		started_at   TIMESTAMP,
		finished_at  TIMESTAMP,
		duration_ms  INTEGER,
		stdout       TEXT NOT NULL DEFAULT '',
		stderr       TEXT NOT NULL DEFAULT '',
		output       TEXT NOT NULL DEFAULT '',
		error        TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_node_executions_execution ON node_executions(execution_id);

	CREATE TABLE IF NOT EXISTS schedules (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		workflow_name  TEXT NOT NULL UNIQUE,
		workflow_path  TEXT NOT NULL,
		enabled        INTEGER NOT NULL DEFAULT 1,
		trigger_config TEXT NOT NULL DEFAULT '{}',
		next_run       TIMESTAMP,
		last_run       TIMESTAMP,
		last_status    TEXT,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	);`,
}

func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for i := version; i < len(migrations); i++ {
		if _, err := db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("failed to bump schema version: %w", err)
		}
		db.log.Info("applied migration", "version", i+1)
	}
	return nil
}
