package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"reportflow/internal/config"
	"reportflow/internal/domain"
)

// Open initializes the configured backend. Every operation is bounded by
// cfg.OpTimeout when it is positive.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "sqlite", "sqlite3":
		s, err = OpenSQLite(ctx, cfg.Path)
	case "postgres":
		s, err = OpenPostgres(ctx, cfg.DSN, cfg.MaxOpenConns)
	case "redis":
		s, err = OpenRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(s, cfg.OpTimeout), nil
}

// WithTimeout bounds each call on s by d. A non-positive d returns s.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		return s
	}
	return timeoutStore{s: s, d: d}
}

type timeoutStore struct {
	s Store
	d time.Duration
}

func (t timeoutStore) Find(ctx context.Context, taskName string) (domain.ScheduleConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.Find(ctx, taskName)
}

func (t timeoutStore) Upsert(ctx context.Context, taskName, cronExpression string) (domain.ScheduleConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.Upsert(ctx, taskName, cronExpression)
}

func (t timeoutStore) List(ctx context.Context) ([]domain.ScheduleConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	return t.s.List(ctx)
}

func (t timeoutStore) Close() error { return t.s.Close() }
