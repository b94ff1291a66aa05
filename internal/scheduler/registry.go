package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"reportflow/internal/metrics"
	"reportflow/internal/worker"
)

// Action is the job body bound to a task name. It must not call back into
// the registry for its own task while holding locks of its own.
type Action func(ctx context.Context)

// HandleInfo is a read-only view of a live handle.
type HandleInfo struct {
	ID             string    `json:"id"`
	TaskName       string    `json:"task_name"`
	CronExpression string    `json:"cron_expression"`
	CreatedAt      time.Time `json:"created_at"`
	Next           time.Time `json:"next_fire_time"`
}

// handle is one cancellable sequence of future fires. Once cancelled it is
// never resurrected; a new handle is created instead.
type handle struct {
	id        string
	taskName  string
	expr      string
	sched     cron.Schedule
	entryID   cron.EntryID
	createdAt time.Time
	cancelled atomic.Bool
}

// slot holds the state of one task name. mu serializes swaps; running
// prevents overlapping executions of the same task across handles.
type slot struct {
	mu      sync.Mutex
	current *handle
	running atomic.Bool
}

type RegistryOptions struct {
	Location   *time.Location
	Pool       *worker.Pool
	RunTimeout time.Duration
	Metrics    metrics.Sink
}

// Registry maps task names to their single live handle on top of one
// shared cron runner. Job bodies run on a bounded worker pool.
type Registry struct {
	cron       *cron.Cron
	pool       *worker.Pool
	runTimeout time.Duration
	metrics    metrics.Sink

	baseCtx    context.Context
	cancelBase context.CancelFunc

	mu      sync.Mutex
	slots   map[string]*slot
	stopped bool
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Pool == nil {
		opts.Pool = worker.NewPool(4)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cronLogger{l: log.Logger}),
		),
		pool:       opts.Pool,
		runTimeout: opts.RunTimeout,
		metrics:    metrics.OrNoop(opts.Metrics),
		baseCtx:    ctx,
		cancelBase: cancel,
		slots:      map[string]*slot{},
	}
}

func (r *Registry) Start() { r.cron.Start() }

func (r *Registry) slot(taskName string) (*slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, ErrRegistryStopped
	}
	sl, ok := r.slots[taskName]
	if !ok {
		sl = &slot{}
		r.slots[taskName] = sl
	}
	return sl, nil
}

func (r *Registry) lookup(taskName string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots[taskName]
}

// Schedule makes sched the only live schedule for taskName and returns the
// new handle. The previous handle, if any, is flagged cancelled before the
// per-name lock is released, so it can never fire again; its cron entry is
// removed after the lock is released. An execution already running under
// the old handle is left to finish.
func (r *Registry) Schedule(taskName, expr string, sched cron.Schedule, action Action) (HandleInfo, error) {
	if taskName == "" {
		return HandleInfo{}, errors.New("schedule: empty task name")
	}
	if sched == nil || action == nil {
		return HandleInfo{}, errors.New("schedule: nil schedule or action")
	}
	sl, err := r.slot(taskName)
	if err != nil {
		return HandleInfo{}, err
	}

	h := &handle{
		id:        "hdl_" + uuid.NewString(),
		taskName:  taskName,
		expr:      expr,
		sched:     sched,
		createdAt: time.Now(),
	}

	sl.mu.Lock()
	old := sl.current
	if old != nil {
		old.cancelled.Store(true)
	}
	h.entryID = r.cron.Schedule(sched, &taskJob{r: r, sl: sl, h: h, action: action})
	sl.current = h
	sl.mu.Unlock()

	if old != nil {
		r.cron.Remove(old.entryID)
		log.Debug().Str("task", taskName).Str("handle", old.id).Msg("superseded handle cancelled")
	}
	return r.info(h), nil
}

// Cancel stops future fires of taskName. It reports whether a handle was
// live; cancelling an unscheduled task is a no-op.
func (r *Registry) Cancel(taskName string) bool {
	sl := r.lookup(taskName)
	if sl == nil {
		return false
	}
	sl.mu.Lock()
	old := sl.current
	sl.current = nil
	if old != nil {
		old.cancelled.Store(true)
	}
	sl.mu.Unlock()

	if old == nil {
		return false
	}
	r.cron.Remove(old.entryID)
	return true
}

// Handle returns the live handle of taskName.
func (r *Registry) Handle(taskName string) (HandleInfo, bool) {
	sl := r.lookup(taskName)
	if sl == nil {
		return HandleInfo{}, false
	}
	sl.mu.Lock()
	h := sl.current
	sl.mu.Unlock()
	if h == nil {
		return HandleInfo{}, false
	}
	return r.info(h), true
}

// Live counts the cron entries of taskName that can still fire.
func (r *Registry) Live(taskName string) int {
	n := 0
	for _, e := range r.cron.Entries() {
		if j, ok := e.Job.(*taskJob); ok && j.h.taskName == taskName && !j.h.cancelled.Load() {
			n++
		}
	}
	return n
}

// Running reports whether an execution of taskName is in progress.
func (r *Registry) Running(taskName string) bool {
	sl := r.lookup(taskName)
	return sl != nil && sl.running.Load()
}

// Stop cancels every handle, then waits for running executions until ctx
// ends. Executions still running at that point have their context cancelled.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	names := make([]string, 0, len(r.slots))
	for name := range r.slots {
		names = append(names, name)
	}
	r.mu.Unlock()

	for _, name := range names {
		r.Cancel(name)
	}
	<-r.cron.Stop().Done()

	err := r.pool.Close(ctx)
	r.cancelBase()
	if err != nil {
		log.Warn().Err(err).Msg("registry stop: running jobs did not finish in time")
	}
	return err
}

func (r *Registry) info(h *handle) HandleInfo {
	next := r.cron.Entry(h.entryID).Next
	if next.IsZero() {
		next = h.sched.Next(time.Now())
	}
	return HandleInfo{
		ID:             h.id,
		TaskName:       h.taskName,
		CronExpression: h.expr,
		CreatedAt:      h.createdAt,
		Next:           next,
	}
}

// taskJob is what the cron runner fires for a handle.
type taskJob struct {
	r      *Registry
	sl     *slot
	h      *handle
	action Action
}

func (j *taskJob) Run() {
	task := j.h.taskName
	if j.h.cancelled.Load() {
		j.r.metrics.JobSkipped(task, metrics.SkipCancelled)
		return
	}
	if !j.sl.running.CompareAndSwap(false, true) {
		j.r.metrics.JobSkipped(task, metrics.SkipOverlap)
		log.Warn().Str("task", task).Msg("previous run still in progress, skipping fire")
		return
	}
	err := j.r.pool.Go(j.r.baseCtx, task, func() {
		defer j.sl.running.Store(false)
		j.r.execute(task, j.h.id, j.action)
	})
	if err != nil {
		j.sl.running.Store(false)
		j.r.metrics.JobSkipped(task, metrics.SkipStopped)
		log.Warn().Err(err).Str("task", task).Msg("fire dropped")
	}
}

// RunNow executes the bound action of taskName once, outside its cadence,
// with the same overlap guard as a scheduled fire. It blocks until the run
// finishes.
func (r *Registry) RunNow(ctx context.Context, taskName string, action Action) error {
	sl, err := r.slot(taskName)
	if err != nil {
		return err
	}
	if !sl.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	done := make(chan struct{})
	err = r.pool.Go(ctx, taskName, func() {
		defer close(done)
		defer sl.running.Store(false)
		r.execute(taskName, "manual", action)
	})
	if err != nil {
		sl.running.Store(false)
		return err
	}
	<-done
	return nil
}

func (r *Registry) execute(task, handleID string, action Action) {
	ctx := r.baseCtx
	if r.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.runTimeout)
		defer cancel()
	}
	start := time.Now()
	r.metrics.JobStarted(task)
	log.Info().Str("task", task).Str("handle", handleID).Msg("job started")
	defer func() {
		d := time.Since(start)
		r.metrics.JobCompleted(task, d)
		log.Info().Str("task", task).Str("handle", handleID).Dur("took", d).Msg("job finished")
	}()
	action(ctx)
}
