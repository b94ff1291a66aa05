package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"reportflow/internal/domain"
)

// queries holds the dialect specific statements of a SQL backend.
type queries struct {
	schema string
	find   string
	upsert string
	list   string
}

// sqlStore backs both SQLite and PostgreSQL; only placeholders and the
// schema differ.
type sqlStore struct {
	db *sql.DB
	q  queries
}

// ensureSchema creates the schedule_configs table if it doesn't exist.
func ensureSchema(ctx context.Context, db *sql.DB, q queries) error {
	for _, stmt := range strings.Split(q.schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *sqlStore) Find(ctx context.Context, taskName string) (domain.ScheduleConfig, error) {
	var r row
	err := s.db.QueryRowContext(ctx, s.q.find, taskName).Scan(&r.ID, &r.TaskName, &r.CronExpression, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleConfig{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduleConfig{}, unavailable("find schedule "+taskName, err)
	}
	return r.toConfig(), nil
}

// Upsert inserts the row for taskName or overwrites its cron expression.
// The id of an existing row is preserved.
func (s *sqlStore) Upsert(ctx context.Context, taskName, cronExpression string) (domain.ScheduleConfig, error) {
	now := scanTime(time.Now().UTC())
	var r row
	err := s.db.QueryRowContext(ctx, s.q.upsert, newID(), taskName, cronExpression, now).
		Scan(&r.ID, &r.TaskName, &r.CronExpression, &r.UpdatedAt)
	if err != nil {
		return domain.ScheduleConfig{}, unavailable("upsert schedule "+taskName, err)
	}
	return r.toConfig(), nil
}

func (s *sqlStore) List(ctx context.Context) ([]domain.ScheduleConfig, error) {
	rows, err := s.db.QueryContext(ctx, s.q.list)
	if err != nil {
		return nil, unavailable("list schedules", err)
	}
	defer rows.Close()

	var out []domain.ScheduleConfig
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.ID, &r.TaskName, &r.CronExpression, &r.UpdatedAt); err != nil {
			return nil, unavailable("list schedules", err)
		}
		out = append(out, r.toConfig())
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list schedules", err)
	}
	return out, nil
}

func (s *sqlStore) Close() error { return s.db.Close() }
