package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"reportflow/internal/domain"
)

// redisStore keeps one hash per task under prefix+taskName and a set of
// task names under prefix+"_index" for List.
type redisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to addr and verifies the connection.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, unavailable("ping redis", err)
	}
	return NewRedisStore(client, prefix), nil
}

func NewRedisStore(client *redis.Client, prefix string) Store {
	return &redisStore{client: client, prefix: prefix}
}

func (s *redisStore) key(taskName string) string { return s.prefix + taskName }
func (s *redisStore) indexKey() string          { return s.prefix + "_index" }

func (s *redisStore) Find(ctx context.Context, taskName string) (domain.ScheduleConfig, error) {
	fields, err := s.client.HGetAll(ctx, s.key(taskName)).Result()
	if err != nil {
		return domain.ScheduleConfig{}, unavailable("find schedule "+taskName, err)
	}
	if len(fields) == 0 {
		return domain.ScheduleConfig{}, ErrNotFound
	}
	return hashToConfig(fields)
}

// Upsert keeps the id of an existing hash (HSETNX) and overwrites the rest
// in one MULTI/EXEC.
func (s *redisStore) Upsert(ctx context.Context, taskName, cronExpression string) (domain.ScheduleConfig, error) {
	r := fromConfig(domain.ScheduleConfig{TaskName: taskName, CronExpression: cronExpression, UpdatedAt: time.Now().UTC()})
	updatedAt, _ := r.UpdatedAt.Value()

	var all *redis.MapStringStringCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		key := s.key(taskName)
		pipe.HSetNX(ctx, key, "id", newID())
		pipe.HSet(ctx, key, "task_name", r.TaskName, "cron_expression", r.CronExpression, "updated_at", updatedAt)
		pipe.SAdd(ctx, s.indexKey(), taskName)
		all = pipe.HGetAll(ctx, key)
		return nil
	})
	if err != nil {
		return domain.ScheduleConfig{}, unavailable("upsert schedule "+taskName, err)
	}
	return hashToConfig(all.Val())
}

func (s *redisStore) List(ctx context.Context) ([]domain.ScheduleConfig, error) {
	names, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, unavailable("list schedules", err)
	}
	sort.Strings(names)
	out := make([]domain.ScheduleConfig, 0, len(names))
	for _, name := range names {
		cfg, err := s.Find(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func (s *redisStore) Close() error { return s.client.Close() }

func hashToConfig(fields map[string]string) (domain.ScheduleConfig, error) {
	r := row{ID: fields["id"], TaskName: fields["task_name"], CronExpression: fields["cron_expression"]}
	if ts := fields["updated_at"]; ts != "" {
		if err := r.UpdatedAt.Scan(ts); err != nil {
			return domain.ScheduleConfig{}, unavailable("decode schedule "+r.TaskName, err)
		}
	}
	return r.toConfig(), nil
}
