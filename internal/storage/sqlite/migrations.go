package sqlite

const schema = `
-- Diagnostics runs
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    trigger TEXT NOT NULL DEFAULT 'cli',
    status TEXT NOT NULL DEFAULT 'running',
    error_kind TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    integration_test_mode BOOLEAN NOT NULL DEFAULT 0,
    plan TEXT NOT NULL DEFAULT '',
    devices TEXT NOT NULL DEFAULT '[]',
    progress TEXT NOT NULL DEFAULT '[]',
    started_at TIMESTAMP NOT NULL,
    finished_at TIMESTAMP
);

-- Per probe outcomes
CREATE TABLE IF NOT EXISTS probe_results (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    status TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    payload TEXT NOT NULL DEFAULT '',
    detail TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE,
    UNIQUE (run_id, name)
);

-- Application settings
CREATE TABLE IF NOT EXISTS settings (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Indexes for performance
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_probe_results_run_id ON probe_results(run_id);

-- Triggers for updated_at
CREATE TRIGGER IF NOT EXISTS update_settings_timestamp AFTER UPDATE ON settings
BEGIN
    UPDATE settings SET updated_at = CURRENT_TIMESTAMP WHERE key = NEW.key;
END;
`

const defaultData = `
-- Insert default settings
INSERT OR IGNORE INTO settings (key, value) VALUES
    ('retention_days', '30');
`

// runMigrations executes the database schema and default data
func runMigrations(db *DB) error {
	// Execute schema
	if _, err := db.db.Exec(schema); err != nil {
		return err
	}

	// Insert default data
	if _, err := db.db.Exec(defaultData); err != nil {
		return err
	}

	return nil
}
