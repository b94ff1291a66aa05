package store

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
)

var postgresQueries = queries{
	schema: `
CREATE TABLE IF NOT EXISTS schedule_configs (
  id TEXT PRIMARY KEY,
  task_name TEXT NOT NULL UNIQUE,
  cron_expression TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
);
`,
	find: `SELECT id, task_name, cron_expression, updated_at FROM schedule_configs WHERE task_name = $1`,
	upsert: `
INSERT INTO schedule_configs (id, task_name, cron_expression, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (task_name) DO UPDATE SET cron_expression = EXCLUDED.cron_expression, updated_at = EXCLUDED.updated_at
RETURNING id, task_name, cron_expression, updated_at`,
	list: `SELECT id, task_name, cron_expression, updated_at FROM schedule_configs ORDER BY task_name`,
}

// OpenPostgres connects with lib/pq and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int) (Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, unavailable("open postgres", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, unavailable("ping postgres", err)
	}
	if err := ensureSchema(ctx, db, postgresQueries); err != nil {
		_ = db.Close()
		return nil, unavailable("open postgres", err)
	}
	return newSQLStore(db, postgresQueries), nil
}
