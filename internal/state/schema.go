package state

// Schema is applied on every open. All statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS iterations (
	iteration_id INTEGER PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	observations_processed INTEGER NOT NULL DEFAULT 0,
	decision_json TEXT NOT NULL DEFAULT '{}',
	outcome TEXT NOT NULL DEFAULT 'success',
	duration_ms INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_iterations_ts ON iterations(timestamp);

CREATE TABLE IF NOT EXISTS tasks (
	task_id TEXT PRIMARY KEY,
	idempotency_key TEXT UNIQUE,
	backend TEXT NOT NULL,
	command TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'pending',
	checkpoint_json TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	recovery TEXT NOT NULL DEFAULT 'restart_from_scratch',
	created_at DATETIME NOT NULL,
	deadline DATETIME,
	output TEXT,
	error_text TEXT,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

CREATE TABLE IF NOT EXISTS iteration_archive (
	day TEXT PRIMARY KEY,
	iterations INTEGER NOT NULL DEFAULT 0,
	successes INTEGER NOT NULL DEFAULT 0,
	degraded INTEGER NOT NULL DEFAULT 0,
	failures INTEGER NOT NULL DEFAULT 0,
	total_duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
