package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reportflow/internal/worker"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(RegistryOptions{Pool: worker.NewPool(2)})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Stop(ctx)
	})
	return r
}

func mustParse(t *testing.T, expr string) cron.Schedule {
	t.Helper()
	sched, err := NewValidator(time.UTC).Parse(expr)
	require.NoError(t, err)
	return sched
}

// jobFor returns the cron job currently registered for the live handle of taskName.
func jobFor(t *testing.T, r *Registry, taskName string) *taskJob {
	t.Helper()
	for _, e := range r.cron.Entries() {
		if j, ok := e.Job.(*taskJob); ok && j.h.taskName == taskName && !j.h.cancelled.Load() {
			return j
		}
	}
	t.Fatalf("no live job for %s", taskName)
	return nil
}

func TestRegistry_ScheduleReplacesHandle(t *testing.T) {
	r := newTestRegistry(t)
	noop := func(context.Context) {}

	first, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), noop)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Live("notify"))

	second, err := r.Schedule("notify", "0 */5 * * * *", mustParse(t, "0 */5 * * * *"), noop)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, r.Live("notify"))
	assert.Len(t, r.cron.Entries(), 1, "superseded entry is removed")

	h, ok := r.Handle("notify")
	require.True(t, ok)
	assert.Equal(t, second.ID, h.ID)
	assert.Equal(t, "0 */5 * * * *", h.CronExpression)
	assert.False(t, h.Next.IsZero())
}

func TestRegistry_TasksAreIndependent(t *testing.T) {
	r := newTestRegistry(t)
	noop := func(context.Context) {}
	_, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), noop)
	require.NoError(t, err)
	_, err = r.Schedule("digest", "0 0 8 * * *", mustParse(t, "0 0 8 * * *"), noop)
	require.NoError(t, err)

	assert.True(t, r.Cancel("digest"))
	assert.Equal(t, 1, r.Live("notify"))
	assert.Equal(t, 0, r.Live("digest"))
}

func TestRegistry_CancelIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	assert.False(t, r.Cancel("notify"), "never scheduled")

	_, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), func(context.Context) {})
	require.NoError(t, err)
	assert.True(t, r.Cancel("notify"))
	assert.False(t, r.Cancel("notify"))
	_, ok := r.Handle("notify")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Live("notify"))
}

func TestRegistry_ScheduleRejectsBadInput(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Schedule("", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), func(context.Context) {})
	assert.Error(t, err)
	_, err = r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), nil)
	assert.Error(t, err)
}

func TestRegistry_SupersededHandleNeverFires(t *testing.T) {
	r := newTestRegistry(t)
	var oldRuns, newRuns atomic.Int32

	_, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), func(context.Context) { oldRuns.Add(1) })
	require.NoError(t, err)
	stale := jobFor(t, r, "notify")

	_, err = r.Schedule("notify", "0 */5 * * * *", mustParse(t, "0 */5 * * * *"), func(context.Context) { newRuns.Add(1) })
	require.NoError(t, err)

	// A fire that was already dispatched by the runner for the old entry.
	stale.Run()
	jobFor(t, r, "notify").Run()

	require.Eventually(t, func() bool { return newRuns.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), oldRuns.Load())
}

func TestRegistry_RescheduleDoesNotInterruptRunningFire(t *testing.T) {
	r := newTestRegistry(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var ctxErr atomic.Value
	var finished atomic.Bool

	action := func(ctx context.Context) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		finished.Store(true)
	}
	_, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), action)
	require.NoError(t, err)
	jobFor(t, r, "notify").Run()
	<-started

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := r.Schedule("notify", "0 */5 * * * *", mustParse(t, "0 */5 * * * *"), func(context.Context) {})
		assert.NoError(t, err)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reschedule blocked on a running execution")
	}

	assert.True(t, r.Running("notify"))
	close(release)
	require.Eventually(t, finished.Load, time.Second, 5*time.Millisecond)
	assert.Nil(t, ctxErr.Load())
	require.Eventually(t, func() bool { return !r.Running("notify") }, time.Second, 5*time.Millisecond)
}

func TestRegistry_OverlappingFireSkipped(t *testing.T) {
	r := newTestRegistry(t)
	release := make(chan struct{})
	var runs atomic.Int32
	_, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), func(context.Context) {
		runs.Add(1)
		<-release
	})
	require.NoError(t, err)

	job := jobFor(t, r, "notify")
	job.Run()
	require.Eventually(t, func() bool { return r.Running("notify") }, time.Second, 5*time.Millisecond)
	job.Run()
	close(release)

	require.Eventually(t, func() bool { return !r.Running("notify") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
}

func TestRegistry_FiresOnCadence(t *testing.T) {
	r := newTestRegistry(t)
	var runs atomic.Int32
	_, err := r.Schedule("tick", "* * * * * *", mustParse(t, "* * * * * *"), func(context.Context) { runs.Add(1) })
	require.NoError(t, err)
	r.Start()
	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestRegistry_RunNow(t *testing.T) {
	r := newTestRegistry(t)
	var runs atomic.Int32
	action := func(context.Context) { runs.Add(1) }
	require.NoError(t, r.RunNow(context.Background(), "notify", action))
	assert.Equal(t, int32(1), runs.Load())

	block := make(chan struct{})
	go func() {
		_ = r.RunNow(context.Background(), "notify", func(context.Context) { <-block })
	}()
	require.Eventually(t, func() bool { return r.Running("notify") }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, r.RunNow(context.Background(), "notify", action), ErrAlreadyRunning)
	close(block)
}

func TestRegistry_StopWaitsAndRejects(t *testing.T) {
	r := NewRegistry(RegistryOptions{Pool: worker.NewPool(1)})
	release := make(chan struct{})
	var finished atomic.Bool
	_, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), func(context.Context) {
		<-release
		finished.Store(true)
	})
	require.NoError(t, err)
	jobFor(t, r, "notify").Run()
	require.Eventually(t, func() bool { return r.Running("notify") }, time.Second, 5*time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, r.Stop(context.Background()))
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.True(t, finished.Load(), "stop waits for the running execution")
	assert.Equal(t, 0, r.Live("notify"))
	_, err = r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), func(context.Context) {})
	assert.ErrorIs(t, err, ErrRegistryStopped)
}

func TestRegistry_StopTimeoutCancelsRunningContext(t *testing.T) {
	r := NewRegistry(RegistryOptions{Pool: worker.NewPool(1)})
	cancelled := make(chan struct{})
	_, err := r.Schedule("notify", "0 0 * * * ?", mustParse(t, "0 0 * * * ?"), func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	require.NoError(t, err)
	jobFor(t, r, "notify").Run()
	require.Eventually(t, func() bool { return r.Running("notify") }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Stop(ctx), context.DeadlineExceeded)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("running job context was not cancelled")
	}
}
