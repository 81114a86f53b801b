package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"asyncsqlite/pkg/asyncsqlite"
)

// Target - набор соединений, на каждом из которых выполняется обслуживание.
// Реализуется *asyncsqlite.Pool.
type Target interface {
	ConnForEach(ctx context.Context, fn func(*asyncsqlite.Conn) error) error
}

// MaintenanceConfig задаёт расписания задач обслуживания.
// Пустое расписание отключает задачу.
type MaintenanceConfig struct {
	CheckpointSchedule string
	OptimizeSchedule   string
	Timeout            time.Duration
}

// CheckpointJob переносит WAL в основной файл и обрезает журнал.
// Выполняется на каждом соединении пула, так как у каждого свой вид на WAL.
func CheckpointJob(target Target, schedule string, logger *slog.Logger) Job {
	return Job{
		Name:     "wal_checkpoint",
		Schedule: schedule,
		Overlap:  SkipIfRunning,
		Run: func(ctx context.Context) error {
			return target.ConnForEach(ctx, func(c *asyncsqlite.Conn) error {
				var busy, logFrames, checkpointed int
				if err := c.QueryRow("PRAGMA wal_checkpoint(TRUNCATE)").Scan(&busy, &logFrames, &checkpointed); err != nil {
					return fmt.Errorf("wal checkpoint: %w", err)
				}
				if busy != 0 {
					logger.Warn("wal checkpoint blocked by readers",
						slog.Int("worker", c.Worker()),
						slog.Int("log_frames", logFrames),
						slog.Int("checkpointed", checkpointed),
					)
				}
				return nil
			})
		},
	}
}

// OptimizeJob обновляет статистику планировщика запросов SQLite.
func OptimizeJob(target Target, schedule string) Job {
	return Job{
		Name:     "optimize",
		Schedule: schedule,
		Overlap:  SkipIfRunning,
		Run: func(ctx context.Context) error {
			return target.ConnForEach(ctx, func(c *asyncsqlite.Conn) error {
				_, err := c.Exec("PRAGMA optimize")
				return err
			})
		},
	}
}

// RegisterMaintenance добавляет задачи обслуживания с непустым расписанием.
func RegisterMaintenance(s *Scheduler, target Target, cfg MaintenanceConfig) ([]JobID, error) {
	var jobs []Job
	if cfg.CheckpointSchedule != "" {
		jobs = append(jobs, CheckpointJob(target, cfg.CheckpointSchedule, s.logger))
	}
	if cfg.OptimizeSchedule != "" {
		jobs = append(jobs, OptimizeJob(target, cfg.OptimizeSchedule))
	}

	ids := make([]JobID, 0, len(jobs))
	for _, job := range jobs {
		job.Timeout = cfg.Timeout
		id, err := s.Add(job)
		if err != nil {
			for _, added := range ids {
				s.Remove(added)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
