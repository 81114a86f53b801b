// Package scheduler runs periodic database maintenance on a cron schedule.
//
// Features:
//   - Cron-style scheduling using github.com/robfig/cron/v3 (with seconds)
//   - Job overlap control policies (Skip/Delay/Allow)
//   - Per-job timeouts, names and run statistics
//   - Manual Trigger outside the schedule
//   - Parent context support for lifecycle management
//   - Graceful shutdown with optional deadline (StopContext)
//   - Panic recovery and structured logging with slog
//   - Optional hooks for observability
//
// Basic usage:
//
//	s := scheduler.New(scheduler.Config{Logger: logger})
//
//	id, err := s.Add(scheduler.Job{
//		Name:     "vacuum",
//		Schedule: "0 0 4 * * *",
//		Timeout:  time.Minute,
//		Run: func(ctx context.Context) error {
//			return pool.ConnForEach(ctx, func(c *asyncsqlite.Conn) error {
//				_, err := c.Exec("VACUUM")
//				return err
//			})
//		},
//	})
//
//	s.Start()
//	defer s.Stop()
//
//	_ = s.Trigger(id) // run now
//
// Database maintenance (WAL checkpoint and PRAGMA optimize on every pool member):
//
//	_, err := scheduler.RegisterMaintenance(s, pool, scheduler.MaintenanceConfig{
//		CheckpointSchedule: "@every 5m",
//		OptimizeSchedule:   "0 0 3 * * *",
//	})
//
// Overlap policies:
//   - SkipIfRunning: Skip execution if previous run is still active (default)
//   - DelayIfRunning: Wait for previous run to finish before starting
//   - AllowOverlap: Jobs can run concurrently
//
// Cron schedule examples:
//   - "@hourly" - every hour
//   - "@every 5m" - every 5 minutes
//   - "0 30 * * * *" - every hour at minute 30
//   - "0 0 3 * * *" - every day at 3:00 AM
package scheduler
