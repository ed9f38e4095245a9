package usagedb

import (
	"fmt"
)

// Migration is one usage database schema step.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

func getMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_usage_log",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_log (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					request_id TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					model TEXT NOT NULL DEFAULT '',
					tier TEXT NOT NULL DEFAULT '',
					profile TEXT NOT NULL DEFAULT '',
					method TEXT NOT NULL DEFAULT '',
					attempts INTEGER NOT NULL DEFAULT 0,
					status INTEGER NOT NULL DEFAULT 0,
					input_tokens INTEGER NOT NULL DEFAULT 0,
					output_tokens INTEGER NOT NULL DEFAULT 0,
					cost_estimate REAL NOT NULL DEFAULT 0,
					baseline_cost REAL NOT NULL DEFAULT 0,
					savings REAL NOT NULL DEFAULT 0,
					latency_ms INTEGER NOT NULL DEFAULT 0,
					dedup_state TEXT NOT NULL DEFAULT 'miss'
				);

				CREATE INDEX IF NOT EXISTS idx_usage_log_created_at ON usage_log(created_at);
				CREATE INDEX IF NOT EXISTS idx_usage_log_model ON usage_log(model);
			`,
		},
	}
}

// runMigrations applies pending schema migrations in order, tracked in a
// schema_migrations table.
func (d *DB) runMigrations() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := d.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("failed to read migration version: %w", err)
	}

	for _, m := range getMigrations() {
		if m.Version <= current {
			continue
		}

		tx, err := d.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return nil
}
