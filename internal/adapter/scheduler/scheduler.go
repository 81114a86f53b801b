package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// JobID представляет идентификатор задачи.
type JobID = cron.EntryID

// OverlapPolicy определяет политику обработки перекрывающихся выполнений задач.
type OverlapPolicy int

const (
	// SkipIfRunning пропускает выполнение, если задача уже запущена (по умолчанию).
	// Обслуживание БД не должно выполняться параллельно само с собой.
	SkipIfRunning OverlapPolicy = iota
	// DelayIfRunning ждет завершения предыдущего выполнения.
	DelayIfRunning
	// AllowOverlap разрешает параллельное выполнение задач.
	AllowOverlap
)

func (p OverlapPolicy) String() string {
	switch p {
	case SkipIfRunning:
		return "skip"
	case DelayIfRunning:
		return "delay"
	case AllowOverlap:
		return "allow"
	default:
		return fmt.Sprintf("OverlapPolicy(%d)", int(p))
	}
}

// Job описывает задачу по cron-расписанию.
type Job struct {
	// Name - имя задачи для логирования и статистики.
	Name string
	// Schedule - cron-выражение с секундами или дескриптор ("@every 5m", "@hourly").
	Schedule string
	// Timeout - максимальное время выполнения задачи (необязательно).
	Timeout time.Duration
	// Overlap - политика обработки перекрывающихся выполнений.
	Overlap OverlapPolicy
	// Run - сама задача.
	Run JobFunc
}

// JobStatus - состояние задачи для мониторинга.
type JobStatus struct {
	ID           JobID         `json:"id"`
	Name         string        `json:"name"`
	Schedule     string        `json:"schedule"`
	Runs         uint64        `json:"runs"`
	Failures     uint64        `json:"failures"`
	Skipped      uint64        `json:"skipped"`
	LastRun      time.Time     `json:"last_run,omitzero"`
	LastDuration time.Duration `json:"last_duration"`
	LastError    string        `json:"last_error,omitempty"`
	Next         time.Time     `json:"next,omitzero"`
}

// jobState хранит задачу и её статистику.
type jobState struct {
	job     Job
	running sync.Mutex // для контроля перекрытий

	mu       sync.Mutex
	runs     uint64
	failures uint64
	skipped  uint64
	lastRun  time.Time
	lastDur  time.Duration
	lastErr  error
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	// cron пишет в Info каждое пробуждение, для нас это отладочный уровень
	l.logger.LogAttrs(context.Background(), slog.LevelDebug, msg, kvAttrs(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	attrs := append([]slog.Attr{slog.Any("error", err)}, kvAttrs(keysAndValues)...)
	l.logger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

func kvAttrs(keysAndValues []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		attrs = append(attrs, slog.Any(key, keysAndValues[i+1]))
	}
	return attrs
}

// JobHooks содержит необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart  func(jobName string)
	OnJobFinish func(jobName string, duration time.Duration, err error)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

// Scheduler управляет периодическими задачами обслуживания.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	hooks  JobHooks
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[JobID]*jobState

	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает новый экземпляр планировщика с background контекстом.
func New(cfg Config) *Scheduler {
	return NewWithContext(context.Background(), cfg)
}

// NewWithContext создает новый экземпляр планировщика с указанным родительским контекстом.
// Отмена родительского контекста останавливает планировщик.
func NewWithContext(parentCtx context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parentCtx)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cronLogger{logger: logger.With("component", "cron")}),
		),
		logger: logger,
		hooks:  cfg.JobHooks,
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[JobID]*jobState),
	}
}

// Add добавляет задачу по cron-расписанию.
// Примеры расписаний:
//   - "0 30 * * * *" - каждые 30 минут
//   - "@hourly" - каждый час
//   - "@every 5m" - каждые 5 минут
func (s *Scheduler) Add(job Job) (JobID, error) {
	if job.Run == nil {
		return 0, errors.New("scheduler: job function is nil")
	}
	if job.Name == "" {
		job.Name = "unnamed"
	}

	state := &jobState{job: job}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(job.Schedule, func() { s.runJob(state) })
	if err != nil {
		s.logger.Error("failed to add cron job", "schedule", job.Schedule, "name", job.Name, "error", err)
		return 0, fmt.Errorf("scheduler: add %s: %w", job.Name, err)
	}
	s.jobs[id] = state

	s.logger.Info("cron job added", "schedule", job.Schedule, "name", job.Name, "overlap_policy", job.Overlap.String(), "id", id)
	return id, nil
}

// Remove удаляет задачу по ID.
func (s *Scheduler) Remove(id JobID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.jobs, id)

	s.logger.Info("cron job removed", "id", id, "name", state.job.Name)
	return true
}

// Trigger выполняет задачу немедленно в текущей горутине, вне расписания.
// Политика перекрытий соблюдается.
func (s *Scheduler) Trigger(id JobID) error {
	s.mu.Lock()
	state, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: job %d not found", id)
	}
	return s.runJob(state)
}

// Jobs возвращает состояние всех задач, упорядоченное по ID.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for id, state := range s.jobs {
		state.mu.Lock()
		st := JobStatus{
			ID:           id,
			Name:         state.job.Name,
			Schedule:     state.job.Schedule,
			Runs:         state.runs,
			Failures:     state.failures,
			Skipped:      state.skipped,
			LastRun:      state.lastRun,
			LastDuration: state.lastDur,
			Next:         s.cron.Entry(id).Next,
		}
		if state.lastErr != nil {
			st.LastError = state.lastErr.Error()
		}
		state.mu.Unlock()
		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()

		// Запускаем горутину для отслеживания контекста
		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждет завершения выполняющихся задач.
func (s *Scheduler) Stop() {
	if !s.IsRunning() {
		return // Уже остановлен
	}
	s.logger.Info("stopping scheduler")
	s.cancel()
	s.stopOnce.Do(s.stop)
}

// StopContext останавливает планировщик с учетом контекста дедлайна.
// Если контекст истекает раньше, возвращается ctx.Err(),
// а выполняющиеся задачи завершаются в фоне.
func (s *Scheduler) StopContext(ctx context.Context) error {
	if !s.IsRunning() {
		return nil // Уже остановлен
	}

	s.logger.Info("stopping scheduler with deadline")
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, jobs are still running")
		return ctx.Err()
	}
}

// stop выполняет фактическую остановку.
func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning возвращает true, пока планировщик не остановлен.
func (s *Scheduler) IsRunning() bool {
	return s.ctx.Err() == nil
}

// runJob выполняет задачу с учетом её опций.
func (s *Scheduler) runJob(state *jobState) (err error) {
	job := state.job

	switch job.Overlap {
	case SkipIfRunning:
		if !state.running.TryLock() {
			state.mu.Lock()
			state.skipped++
			state.mu.Unlock()
			s.logger.Debug("skipping job execution, already running", "name", job.Name)
			return nil
		}
		defer state.running.Unlock()
	case DelayIfRunning:
		state.running.Lock()
		defer state.running.Unlock()
	}

	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(job.Name)
	}

	ctx := s.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(s.ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", "name", job.Name, "panic", r)
		}

		duration := time.Since(start)
		state.mu.Lock()
		state.runs++
		state.lastRun = start
		state.lastDur = duration
		state.lastErr = err
		if err != nil {
			state.failures++
		}
		state.mu.Unlock()

		if s.hooks.OnJobFinish != nil {
			s.hooks.OnJobFinish(job.Name, duration, err)
		}

		if err != nil {
			s.logger.Error("job failed", "name", job.Name, "error", err, "duration", duration)
		} else {
			s.logger.Debug("job completed successfully", "name", job.Name, "duration", duration)
		}
	}()

	return job.Run(ctx)
}
