package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"reportflow/internal/domain"
	"reportflow/internal/metrics"
	"reportflow/internal/store"
)

// Service applies operator reschedule requests: validate, persist, swap.
// Each task name has a fixed action registered once at startup; only its
// timing changes afterwards.
type Service struct {
	store       store.Store
	registry    *Registry
	validator   *Validator
	defaultCron string
	metrics     metrics.Sink

	mu      sync.Mutex
	actions map[string]Action
	locks   map[string]*sync.Mutex
}

func NewService(st store.Store, reg *Registry, v *Validator, defaultCron string, sink metrics.Sink) *Service {
	return &Service{
		store:       st,
		registry:    reg,
		validator:   v,
		defaultCron: defaultCron,
		metrics:     metrics.OrNoop(sink),
		actions:     map[string]Action{},
		locks:       map[string]*sync.Mutex{},
	}
}

func (s *Service) Validator() *Validator { return s.validator }

// Register binds action to taskName. It is an error to bind a name twice.
func (s *Service) Register(taskName string, action Action) error {
	if taskName == "" || action == nil {
		return errors.New("register: task name and action are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[taskName]; ok {
		return fmt.Errorf("register: task %q already registered", taskName)
	}
	s.actions[taskName] = action
	s.locks[taskName] = &sync.Mutex{}
	return nil
}

// Tasks returns the registered task names, sorted.
func (s *Service) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Service) task(taskName string) (Action, *sync.Mutex, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[taskName]
	return a, s.locks[taskName], ok
}

// Restore schedules every registered task from its stored expression, or
// from the default expression when no row exists. The default is not
// persisted.
func (s *Service) Restore(ctx context.Context) error {
	if err := s.validator.Validate(s.defaultCron); err != nil {
		return fmt.Errorf("default cron: %w", err)
	}
	for _, name := range s.Tasks() {
		action, lock, _ := s.task(name)
		lock.Lock()
		expr, source, err := s.initialExpression(ctx, name)
		if err != nil {
			lock.Unlock()
			return err
		}
		sched, _ := s.validator.Parse(expr)
		h, err := s.registry.Schedule(name, expr, sched, action)
		lock.Unlock()
		if err != nil {
			return fmt.Errorf("restore %s: %w", name, err)
		}
		log.Info().Str("task", name).Str("cron", expr).Str("source", source).Time("next", h.Next).Msg("schedule restored")
	}
	return nil
}

func (s *Service) initialExpression(ctx context.Context, taskName string) (expr, source string, err error) {
	cfg, err := s.store.Find(ctx, taskName)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return s.defaultCron, "default", nil
	case err != nil:
		return "", "", fmt.Errorf("restore %s: %w: %w", taskName, ErrStorageUnavailable, err)
	}
	if verr := s.validator.Validate(cfg.CronExpression); verr != nil {
		log.Warn().Err(verr).Str("task", taskName).Msg("stored cron expression no longer valid, using default")
		return s.defaultCron, "default", nil
	}
	return cfg.CronExpression, "store", nil
}

// UpdateSchedule replaces the cadence of taskName with expr and returns the
// persisted config. An invalid expression or unknown task leaves the store
// and the registry untouched. Persist and swap run under a per-task lock so
// concurrent callers are applied one after another and the stored row
// always matches the live handle.
func (s *Service) UpdateSchedule(ctx context.Context, taskName, expr string) (domain.ScheduleConfig, error) {
	start := time.Now()
	logger := log.With().Str("task", taskName).Str("cron", expr).Logger()
	logger.Info().Msg("update schedule requested")

	sched, err := s.validator.Parse(expr)
	if err != nil {
		s.metrics.RescheduleCompleted(metrics.ResultInvalid)
		logger.Warn().Err(err).Msg("update schedule rejected")
		return domain.ScheduleConfig{}, err
	}
	action, lock, ok := s.task(taskName)
	if !ok {
		s.metrics.RescheduleCompleted(metrics.ResultUnknownTask)
		logger.Warn().Msg("update schedule rejected: unknown task")
		return domain.ScheduleConfig{}, fmt.Errorf("%w: %q", ErrUnknownTask, taskName)
	}

	lock.Lock()
	defer lock.Unlock()

	cfg, err := s.store.Upsert(ctx, taskName, expr)
	if err != nil {
		s.metrics.RescheduleCompleted(metrics.ResultStorageError)
		logger.Error().Err(err).Msg("update schedule: persist failed")
		return domain.ScheduleConfig{}, fmt.Errorf("persist schedule: %w: %w", ErrStorageUnavailable, err)
	}

	next := nextAtOrAfter(sched, time.Now().In(s.validator.Location()))

	h, err := s.registry.Schedule(taskName, expr, sched, action)
	if err != nil {
		s.metrics.RescheduleCompleted(metrics.ResultStorageError)
		logger.Error().Err(err).Msg("update schedule: swap failed")
		return domain.ScheduleConfig{}, fmt.Errorf("swap schedule: %w: %w", ErrStorageUnavailable, err)
	}

	s.metrics.RescheduleCompleted(metrics.ResultOK)
	logger.Info().Str("id", cfg.ID).Str("handle", h.ID).Time("next", next).Dur("took", time.Since(start)).Msg("update schedule applied")
	return cfg, nil
}

// Status describes the schedule of one task.
type Status struct {
	TaskName       string                 `json:"task_name"`
	CronExpression string                 `json:"cron_expression"`
	Stored         bool                   `json:"stored"`
	Config         *domain.ScheduleConfig `json:"config,omitempty"`
	Handle         *HandleInfo            `json:"handle,omitempty"`
	Running        bool                   `json:"running"`
}

func (s *Service) Status(ctx context.Context, taskName string) (Status, error) {
	if _, _, ok := s.task(taskName); !ok {
		return Status{}, fmt.Errorf("%w: %q", ErrUnknownTask, taskName)
	}
	st := Status{TaskName: taskName, CronExpression: s.defaultCron, Running: s.registry.Running(taskName)}
	cfg, err := s.store.Find(ctx, taskName)
	switch {
	case err == nil:
		st.Stored = true
		st.Config = &cfg
		st.CronExpression = cfg.CronExpression
	case !errors.Is(err, store.ErrNotFound):
		return Status{}, fmt.Errorf("status %s: %w: %w", taskName, ErrStorageUnavailable, err)
	}
	if h, ok := s.registry.Handle(taskName); ok {
		st.Handle = &h
		st.CronExpression = h.CronExpression
	}
	return st, nil
}

// List returns every persisted schedule row.
func (s *Service) List(ctx context.Context) ([]domain.ScheduleConfig, error) {
	cfgs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w: %w", ErrStorageUnavailable, err)
	}
	return cfgs, nil
}

// RunNow fires the action of taskName immediately, independent of its cadence.
func (s *Service) RunNow(ctx context.Context, taskName string) error {
	action, _, ok := s.task(taskName)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, taskName)
	}
	return s.registry.RunNow(ctx, taskName, action)
}
