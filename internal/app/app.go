package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"asyncsqlite/internal/adapter/httpapi"
	"asyncsqlite/internal/adapter/scheduler"
	"asyncsqlite/internal/config"
	"asyncsqlite/internal/platform/logger"
	"asyncsqlite/pkg/asyncsqlite"
)

const shutdownTimeout = 5 * time.Second

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "asyncsqlited",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run starts the application and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	defer logger.Close(a.log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.run(ctx)
}

func (a *App) run(ctx context.Context) (err error) {
	a.log.Info("starting", slog.String("db", a.cfg.DB.Path), slog.Int("connections", a.cfg.DB.NumConns))

	if a.cfg.DB.Path != asyncsqlite.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DB.Path), 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}

	pool, err := a.poolBuilder().Open(ctx)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := pool.Close(closeCtx); cerr != nil {
			a.log.Error("close database", slog.Any("err", cerr))
			err = errors.Join(err, cerr)
			return
		}
		a.log.Info("database closed")
	}()

	sched := scheduler.New(scheduler.Config{Logger: a.log.With("component", "scheduler")})
	if _, err := scheduler.RegisterMaintenance(sched, pool, scheduler.MaintenanceConfig{
		CheckpointSchedule: a.cfg.Maintenance.CheckpointSchedule,
		OptimizeSchedule:   a.cfg.Maintenance.OptimizeSchedule,
		Timeout:            time.Minute,
	}); err != nil {
		return fmt.Errorf("register maintenance: %w", err)
	}
	sched.Start()

	srv := httpapi.NewServer(a.cfg.HTTP.Addr, httpapi.New(pool,
		httpapi.WithJobs(sched),
		httpapi.WithLogger(a.log.With("component", "http")),
	))
	srv.Start()

	<-ctx.Done()
	a.log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("http shutdown", slog.Any("err", err))
	}
	if err := sched.StopContext(shutdownCtx); err != nil {
		a.log.Warn("scheduler stop", slog.Any("err", err))
	}
	return nil
}

func (a *App) poolBuilder() *asyncsqlite.PoolBuilder {
	db := a.cfg.DB
	b := asyncsqlite.NewPoolBuilder().
		Path(db.Path).
		NumConns(db.NumConns).
		QueueSize(db.QueueSize).
		BusyTimeout(db.BusyTimeout).
		ForeignKeys(db.ForeignKeys).
		Logger(a.log.With("component", "db"))

	if db.JournalMode != "" {
		b.JournalMode(asyncsqlite.JournalMode(db.JournalMode))
	}
	if db.Synchronous != "" {
		b.Synchronous(asyncsqlite.Synchronous(db.Synchronous))
	}
	if db.TxLockMode != "" {
		b.TxLockMode(asyncsqlite.TxLockMode(db.TxLockMode))
	}
	if db.Migrations != "" {
		b.Migrations(db.Migrations)
	}
	return b
}
