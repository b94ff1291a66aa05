// Package store persists the single active cron expression per task name.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reportflow/internal/domain"
)

var (
	ErrNotFound = errors.New("schedule config not found")
	// ErrUnavailable wraps every infrastructure failure of a backend.
	ErrUnavailable = errors.New("schedule store unavailable")
)

// Store is the config persistence port. Upsert must only be given an
// expression that has already been validated.
type Store interface {
	Find(ctx context.Context, taskName string) (domain.ScheduleConfig, error)
	Upsert(ctx context.Context, taskName, cronExpression string) (domain.ScheduleConfig, error)
	List(ctx context.Context) ([]domain.ScheduleConfig, error)
	Close() error
}

func newID() string { return "sch_" + uuid.NewString() }

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// row is the persisted shape of a ScheduleConfig.
type row struct {
	ID             string
	TaskName       string
	CronExpression string
	UpdatedAt      scanTime
}

func (r row) toConfig() domain.ScheduleConfig {
	return domain.ScheduleConfig{
		ID:             r.ID,
		TaskName:       r.TaskName,
		CronExpression: r.CronExpression,
		UpdatedAt:      time.Time(r.UpdatedAt),
	}
}

func fromConfig(c domain.ScheduleConfig) row {
	return row{ID: c.ID, TaskName: c.TaskName, CronExpression: c.CronExpression, UpdatedAt: scanTime(c.UpdatedAt)}
}

// scanTime accepts the timestamp encodings the supported drivers hand back:
// time.Time from lib/pq, text from SQLite TEXT columns.
type scanTime time.Time

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"}

func (t *scanTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = scanTime{}
		return nil
	case time.Time:
		*t = scanTime(v.UTC())
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *scanTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			*t = scanTime(ts.UTC())
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}

func (t scanTime) Value() (driver.Value, error) {
	return time.Time(t).UTC().Format(time.RFC3339Nano), nil
}
