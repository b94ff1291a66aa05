package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteQueries = queries{
	schema: `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS schedule_configs (
  id TEXT PRIMARY KEY,
  task_name TEXT NOT NULL UNIQUE,
  cron_expression TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
`,
	find: `SELECT id,task_name,cron_expression,updated_at FROM schedule_configs WHERE task_name=?`,
	upsert: `
INSERT INTO schedule_configs (id,task_name,cron_expression,updated_at)
VALUES (?,?,?,?)
ON CONFLICT(task_name) DO UPDATE SET cron_expression=excluded.cron_expression, updated_at=excluded.updated_at
RETURNING id,task_name,cron_expression,updated_at`,
	list: `SELECT id,task_name,cron_expression,updated_at FROM schedule_configs ORDER BY task_name`,
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (Store, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := ensureSchema(ctx, db, sqliteQueries); err != nil {
		_ = db.Close()
		return nil, unavailable("open sqlite", err)
	}
	return newSQLStore(db, sqliteQueries), nil
}

// newSQLStore wraps an already open database. The schema must exist.
func newSQLStore(db *sql.DB, q queries) Store { return &sqlStore{db: db, q: q} }
