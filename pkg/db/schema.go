package db

import "fmt"

// migrations are applied in order; each statement must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trades (
		id          TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		direction   TEXT NOT NULL,
		entry_price REAL NOT NULL,
		exit_price  REAL NOT NULL,
		qty         REAL NOT NULL,
		leverage    REAL NOT NULL,
		pnl         REAL NOT NULL,
		exit_reason TEXT NOT NULL,
		entry_time  TIMESTAMP NOT NULL,
		exit_time   TIMESTAMP NOT NULL,
		created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,
	`CREATE TABLE IF NOT EXISTS decisions (
		id         TEXT PRIMARY KEY,
		symbol     TEXT NOT NULL,
		direction  TEXT NOT NULL,
		trigger    TEXT NOT NULL,
		rsi        REAL,
		flow_short REAL,
		flow_agg   REAL,
		actionable INTEGER NOT NULL,
		bar_time   TIMESTAMP NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_bar_time ON decisions(bar_time)`,
	`CREATE TABLE IF NOT EXISTS reconcile_log (
		id          TEXT PRIMARY KEY,
		symbol      TEXT NOT NULL,
		field       TEXT NOT NULL,
		expected    REAL NOT NULL,
		actual      REAL NOT NULL,
		old_percent REAL NOT NULL,
		new_percent REAL NOT NULL,
		created_at  TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

// ApplyMigrations creates or upgrades the schema.
func ApplyMigrations(d *Database) error {
	for i, stmt := range migrations {
		if _, err := d.DB.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}
