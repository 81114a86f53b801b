package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"asyncsqlite/pkg/asyncsqlite"
)

func waitForAtLeast(t *testing.T, counter *int64, expected int64, timeout time.Duration) {
	t.Helper()

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(counter) >= expected
	}, timeout, 10*time.Millisecond, "значение счётчика не достигло ожидаемого уровня")
}

func countingJob(counter *int64) JobFunc {
	return func(ctx context.Context) error {
		atomic.AddInt64(counter, 1)
		return nil
	}
}

func statusOf(t *testing.T, s *Scheduler, id JobID) JobStatus {
	t.Helper()

	for _, st := range s.Jobs() {
		if st.ID == id {
			return st
		}
	}
	t.Fatalf("job %d not found", id)
	return JobStatus{}
}

func TestScheduler_New(t *testing.T) {
	s := New(Config{Logger: slog.Default()})

	assert.NotNil(t, s)
	assert.NotNil(t, s.cron)
	assert.NotNil(t, s.logger)
	assert.True(t, s.IsRunning())
	assert.Empty(t, s.Jobs())
}

func TestScheduler_NewWithoutLogger(t *testing.T) {
	s := New(Config{})

	assert.NotNil(t, s)
	assert.NotNil(t, s.logger)
}

func TestScheduler_AddRunsOnSchedule(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var counter int64
	_, err := s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: countingJob(&counter)})
	require.NoError(t, err)

	s.Start()

	waitForAtLeast(t, &counter, 1, 3*time.Second)
}

func TestScheduler_AddInvalid(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	_, err := s.Add(Job{Name: "bad", Schedule: "invalid schedule", Run: countingJob(new(int64))})
	assert.Error(t, err, "некорректное расписание должно быть отклонено")

	_, err = s.Add(Job{Name: "nil", Schedule: "@hourly"})
	assert.Error(t, err, "задача без функции должна быть отклонена")

	assert.Empty(t, s.Jobs())
}

func TestScheduler_AddDefaultName(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	id, err := s.Add(Job{Schedule: "@hourly", Run: countingJob(new(int64))})
	require.NoError(t, err)

	assert.Equal(t, "unnamed", statusOf(t, s, id).Name)
}

func TestScheduler_Trigger(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var counter int64
	id, err := s.Add(Job{Name: "manual", Schedule: "@hourly", Run: countingJob(&counter)})
	require.NoError(t, err)

	require.NoError(t, s.Trigger(id))
	require.NoError(t, s.Trigger(id))

	assert.Equal(t, int64(2), atomic.LoadInt64(&counter), "Trigger должен выполнять задачу синхронно")

	st := statusOf(t, s, id)
	assert.Equal(t, uint64(2), st.Runs)
	assert.Zero(t, st.Failures)
	assert.False(t, st.LastRun.IsZero())
	assert.Empty(t, st.LastError)
}

func TestScheduler_TriggerUnknown(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	assert.Error(t, s.Trigger(JobID(42)))
}

func TestScheduler_JobWithError(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	boom := errors.New("boom")
	id, err := s.Add(Job{Name: "failing", Schedule: "@hourly", Run: func(ctx context.Context) error {
		return boom
	}})
	require.NoError(t, err)

	assert.ErrorIs(t, s.Trigger(id), boom)

	st := statusOf(t, s, id)
	assert.Equal(t, uint64(1), st.Runs)
	assert.Equal(t, uint64(1), st.Failures)
	assert.Equal(t, "boom", st.LastError)
	assert.True(t, s.IsRunning(), "ошибка задачи не должна останавливать планировщик")
}

func TestScheduler_JobWithPanic(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	id, err := s.Add(Job{Name: "panicking", Schedule: "@hourly", Run: func(ctx context.Context) error {
		panic("test panic")
	}})
	require.NoError(t, err)

	err = s.Trigger(id)
	require.Error(t, err, "паника должна превратиться в ошибку")
	assert.Contains(t, err.Error(), "test panic")
	assert.Equal(t, uint64(1), statusOf(t, s, id).Failures)
}

func TestScheduler_JobWithTimeout(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	id, err := s.Add(Job{
		Name:     "slow",
		Schedule: "@hourly",
		Timeout:  50 * time.Millisecond,
		Run: func(ctx context.Context) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				return nil
			}
		},
	})
	require.NoError(t, err)

	start := time.Now()
	err = s.Trigger(id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second, "таймаут должен прервать задачу")
}

func TestScheduler_SkipIfRunning(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	started := make(chan struct{})
	release := make(chan struct{})
	var counter int64

	id, err := s.Add(Job{
		Name:     "exclusive",
		Schedule: "@hourly",
		Run: func(ctx context.Context) error {
			atomic.AddInt64(&counter, 1)
			close(started)
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Trigger(id) }()
	<-started

	assert.NoError(t, s.Trigger(id), "пропущенный запуск не является ошибкой")
	close(release)
	require.NoError(t, <-done)

	st := statusOf(t, s, id)
	assert.Equal(t, int64(1), atomic.LoadInt64(&counter), "параллельный запуск должен быть пропущен")
	assert.Equal(t, uint64(1), st.Runs)
	assert.Equal(t, uint64(1), st.Skipped)
}

func TestScheduler_DelayIfRunning(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var running, maxRunning, counter int64
	id, err := s.Add(Job{
		Name:     "delayed",
		Schedule: "@hourly",
		Overlap:  DelayIfRunning,
		Run: func(ctx context.Context) error {
			n := atomic.AddInt64(&running, 1)
			for {
				m := atomic.LoadInt64(&maxRunning)
				if n <= m || atomic.CompareAndSwapInt64(&maxRunning, m, n) {
					break
				}
			}
			time.Sleep(30 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			atomic.AddInt64(&counter, 1)
			return nil
		},
	})
	require.NoError(t, err)

	errs := make(chan error, 3)
	for range 3 {
		go func() { errs <- s.Trigger(id) }()
	}
	for range 3 {
		require.NoError(t, <-errs)
	}

	assert.Equal(t, int64(3), atomic.LoadInt64(&counter), "все запуски должны выполниться")
	assert.Equal(t, int64(1), atomic.LoadInt64(&maxRunning), "запуски должны выполняться по очереди")
}

func TestScheduler_AllowOverlap(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var running int64
	both := make(chan struct{})
	id, err := s.Add(Job{
		Name:     "parallel",
		Schedule: "@hourly",
		Overlap:  AllowOverlap,
		Run: func(ctx context.Context) error {
			if atomic.AddInt64(&running, 1) == 2 {
				close(both)
			}
			select {
			case <-both:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("second run never started")
			}
		},
	})
	require.NoError(t, err)

	errs := make(chan error, 2)
	for range 2 {
		go func() { errs <- s.Trigger(id) }()
	}
	for range 2 {
		assert.NoError(t, <-errs)
	}
}

func TestScheduler_Remove(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	id, err := s.Add(Job{Name: "temp", Schedule: "@hourly", Run: countingJob(new(int64))})
	require.NoError(t, err)

	assert.True(t, s.Remove(id))
	assert.False(t, s.Remove(id), "повторное удаление должно вернуть false")
	assert.Empty(t, s.Jobs())
	assert.Error(t, s.Trigger(id))
}

func TestScheduler_JobsSortedWithNext(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	first, err := s.Add(Job{Name: "first", Schedule: "@hourly", Run: countingJob(new(int64))})
	require.NoError(t, err)
	second, err := s.Add(Job{Name: "second", Schedule: "0 0 3 * * *", Run: countingJob(new(int64))})
	require.NoError(t, err)

	s.Start()

	require.Eventually(t, func() bool {
		jobs := s.Jobs()
		return len(jobs) == 2 && !jobs[0].Next.IsZero() && !jobs[1].Next.IsZero()
	}, time.Second, 10*time.Millisecond, "после запуска у задач должно быть время следующего выполнения")

	jobs := s.Jobs()
	assert.Equal(t, first, jobs[0].ID)
	assert.Equal(t, second, jobs[1].ID)
	assert.Equal(t, "0 0 3 * * *", jobs[1].Schedule)
	assert.True(t, jobs[0].Next.After(time.Now()))
}

func TestScheduler_Stop(t *testing.T) {
	s := New(Config{})

	var counter int64
	_, err := s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: countingJob(&counter)})
	require.NoError(t, err)

	s.Start()
	waitForAtLeast(t, &counter, 1, 3*time.Second)

	s.Stop()
	assert.False(t, s.IsRunning())

	baseline := atomic.LoadInt64(&counter)
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, baseline, atomic.LoadInt64(&counter), "после остановки задачи не должны выполняться")
}

func TestScheduler_MultipleStopCalls(t *testing.T) {
	s := New(Config{})
	s.Start()

	s.Stop()
	s.Stop()
	assert.NoError(t, s.StopContext(context.Background()))

	assert.False(t, s.IsRunning())
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := New(Config{})

	assert.NotPanics(t, s.Stop)
	assert.False(t, s.IsRunning())
}

func TestScheduler_MultipleStartCalls(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	var counter int64
	_, err := s.Add(Job{Name: "tick", Schedule: "@every 1s", Run: countingJob(&counter)})
	require.NoError(t, err)

	s.Start()
	s.Start()

	waitForAtLeast(t, &counter, 1, 3*time.Second)
	assert.True(t, s.IsRunning())
}

func TestScheduler_NewWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewWithContext(ctx, Config{})
	s.Start()

	assert.True(t, s.IsRunning())
	cancel()

	require.Eventually(t, func() bool {
		return !s.IsRunning()
	}, time.Second, 10*time.Millisecond, "отмена родительского контекста должна остановить планировщик")
}

func TestScheduler_JobReceivesCancelledContextOnStop(t *testing.T) {
	s := New(Config{})

	started := make(chan struct{})
	var cancelled atomic.Bool
	_, err := s.Add(Job{
		Name:     "long",
		Schedule: "@every 1s",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			cancelled.Store(true)
			return ctx.Err()
		},
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("задача не запустилась")
	}

	require.NoError(t, s.StopContext(context.Background()))
	assert.True(t, cancelled.Load(), "задача должна получить отменённый контекст")
}

func TestScheduler_StopContextTimeout(t *testing.T) {
	s := New(Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := s.Add(Job{
		Name:     "stubborn",
		Schedule: "@every 1s",
		Run: func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		},
	})
	require.NoError(t, err)

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("задача не запустилась")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = s.StopContext(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "StopContext должен вернуть ошибку дедлайна")
	assert.False(t, s.IsRunning())

	close(release)
}

func TestScheduler_JobHooks(t *testing.T) {
	var started, finished int64
	var lastErr atomic.Value

	s := New(Config{JobHooks: JobHooks{
		OnJobStart: func(jobName string) {
			assert.Equal(t, "hooked", jobName)
			atomic.AddInt64(&started, 1)
		},
		OnJobFinish: func(jobName string, duration time.Duration, err error) {
			atomic.AddInt64(&finished, 1)
			if err != nil {
				lastErr.Store(err.Error())
			}
		},
	}})
	defer s.Stop()

	id, err := s.Add(Job{Name: "hooked", Schedule: "@hourly", Run: func(ctx context.Context) error {
		return errors.New("hook error")
	}})
	require.NoError(t, err)

	_ = s.Trigger(id)

	assert.Equal(t, int64(1), atomic.LoadInt64(&started))
	assert.Equal(t, int64(1), atomic.LoadInt64(&finished))
	assert.Equal(t, "hook error", lastErr.Load())
}

func TestOverlapPolicy_String(t *testing.T) {
	assert.Equal(t, "skip", SkipIfRunning.String())
	assert.Equal(t, "delay", DelayIfRunning.String())
	assert.Equal(t, "allow", AllowOverlap.String())
	assert.Equal(t, "OverlapPolicy(9)", OverlapPolicy(9).String())
}

func TestRegisterMaintenance(t *testing.T) {
	pool := asyncsqlite.NewTestPool(t, 2)
	asyncsqlite.MustExec(t, pool.Client(0), "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
	asyncsqlite.MustExec(t, pool.Client(1), "INSERT INTO items (name) VALUES ('a'), ('b')")

	s := New(Config{})
	defer s.Stop()

	ids, err := RegisterMaintenance(s, pool, MaintenanceConfig{
		CheckpointSchedule: "@every 5m",
		OptimizeSchedule:   "0 0 3 * * *",
		Timeout:            time.Second,
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	for _, id := range ids {
		require.NoError(t, s.Trigger(id), "задача обслуживания должна выполниться без ошибок")
	}

	jobs := s.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "wal_checkpoint", jobs[0].Name)
	assert.Equal(t, "optimize", jobs[1].Name)
	for _, st := range jobs {
		assert.Equal(t, uint64(1), st.Runs)
		assert.Zero(t, st.Failures)
	}

	assert.Equal(t, 2, asyncsqlite.CountRows(t, pool, "items"), "данные должны сохраниться после checkpoint")
}

func TestRegisterMaintenance_EmptySchedulesDisableJobs(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	ids, err := RegisterMaintenance(s, fakeTarget{}, MaintenanceConfig{OptimizeSchedule: "@daily"})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.Equal(t, "optimize", s.Jobs()[0].Name)
}

func TestRegisterMaintenance_InvalidScheduleRollsBack(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	_, err := RegisterMaintenance(s, fakeTarget{}, MaintenanceConfig{
		CheckpointSchedule: "@every 5m",
		OptimizeSchedule:   "not a schedule",
	})
	require.Error(t, err)
	assert.Empty(t, s.Jobs(), "уже добавленные задачи должны быть удалены")
}

func TestMaintenanceJob_PropagatesTargetError(t *testing.T) {
	s := New(Config{})
	defer s.Stop()

	boom := errors.New("closed")
	id, err := s.Add(OptimizeJob(fakeTarget{err: boom}, "@daily"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Trigger(id), boom)
}

type fakeTarget struct{ err error }

func (f fakeTarget) ConnForEach(ctx context.Context, fn func(*asyncsqlite.Conn) error) error {
	return f.err
}
