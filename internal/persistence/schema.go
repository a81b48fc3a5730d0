package persistence

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		description TEXT NOT NULL,
		tags TEXT,
		failure_condition TEXT,
		resources TEXT,
		timeout_ms INTEGER NOT NULL DEFAULT 0,
		supersedes TEXT,
		priority INTEGER NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		submitted_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (run_id, id),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_dependencies (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (run_id, task_id, depends_on_id),
		FOREIGN KEY (run_id, task_id) REFERENCES tasks(run_id, id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		from_status TEXT NOT NULL,
		to_status TEXT NOT NULL,
		priority INTEGER NOT NULL,
		detail TEXT,
		at DATETIME NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_transitions_run_task
		ON transitions(run_id, task_id, id);

	CREATE TABLE IF NOT EXISTS cycles (
		run_id TEXT NOT NULL,
		cycle INTEGER NOT NULL,
		promoted INTEGER NOT NULL,
		dispatched TEXT,
		executed INTEGER NOT NULL,
		errored INTEGER NOT NULL,
		rerouted INTEGER NOT NULL,
		cancelled INTEGER NOT NULL,
		skipped TEXT,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, cycle),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
