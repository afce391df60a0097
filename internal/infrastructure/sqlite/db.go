package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS wills (
	will_id INTEGER PRIMARY KEY CHECK (will_id = 1),
	statement_text TEXT NOT NULL,
	executor_identity TEXT NOT NULL,
	poll_interval_seconds INTEGER NOT NULL,
	fixed_payout_amount INTEGER,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS will_beneficiaries (
	position INTEGER PRIMARY KEY,
	account_id TEXT NOT NULL,
	split_weight TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS monitored_accounts (
	position INTEGER NOT NULL,
	platform TEXT NOT NULL,
	identifier TEXT NOT NULL,
	grace_window_days TEXT NOT NULL,
	last_known_activity_at TEXT,
	PRIMARY KEY (platform, identifier)
);
CREATE TABLE IF NOT EXISTS executions (
	execution_id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	total_amount INTEGER NOT NULL,
	reason TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT
);
CREATE TABLE IF NOT EXISTS execution_payouts (
	payout_id TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL REFERENCES executions(execution_id) ON DELETE CASCADE,
	seq INTEGER NOT NULL,
	account_id TEXT NOT NULL,
	amount INTEGER NOT NULL,
	status TEXT NOT NULL,
	last_error TEXT,
	attempted_at TEXT,
	finished_at TEXT,
	UNIQUE (execution_id, seq)
);`

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" yields a private in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init sqlite schema: %w", err)
	}
	return db, nil
}

// timeLayout is fixed width so TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
