package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds application configuration values.
type Config struct {
	Env string `validate:"required,oneof=dev prod"`
	DB  struct {
		Path        string `validate:"required"`
		JournalMode string `validate:"omitempty,oneof=DELETE TRUNCATE PERSIST MEMORY WAL OFF"`
		Synchronous string `validate:"omitempty,oneof=OFF NORMAL FULL EXTRA"`
		TxLockMode  string `validate:"omitempty,oneof=DEFERRED IMMEDIATE EXCLUSIVE"`
		BusyTimeout time.Duration
		ForeignKeys bool
		NumConns    int `validate:"gte=1"`
		QueueSize   int `validate:"gte=1"`
		Migrations  string
	}
	Maintenance struct {
		CheckpointSchedule string
		OptimizeSchedule   string
	}
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	var err error
	c.Env = getenv("ENV", "prod")

	c.DB.Path = getenv("DB_PATH", "data/asyncsqlite.db")
	c.DB.JournalMode = strings.ToUpper(getenv("DB_JOURNAL_MODE", "WAL"))
	c.DB.Synchronous = strings.ToUpper(getenv("DB_SYNCHRONOUS", "NORMAL"))
	c.DB.TxLockMode = strings.ToUpper(getenv("DB_TX_LOCK_MODE", "IMMEDIATE"))
	c.DB.ForeignKeys = getenv("DB_FOREIGN_KEYS", "true") == "true"
	c.DB.Migrations = os.Getenv("DB_MIGRATIONS")
	if c.DB.BusyTimeout, err = time.ParseDuration(getenv("DB_BUSY_TIMEOUT", "5s")); err != nil {
		return Config{}, fmt.Errorf("DB_BUSY_TIMEOUT: %w", err)
	}
	if c.DB.NumConns, err = strconv.Atoi(getenv("DB_NUM_CONNS", strconv.Itoa(runtime.NumCPU()))); err != nil {
		return Config{}, fmt.Errorf("DB_NUM_CONNS: %w", err)
	}
	if c.DB.QueueSize, err = strconv.Atoi(getenv("DB_QUEUE_SIZE", "100")); err != nil {
		return Config{}, fmt.Errorf("DB_QUEUE_SIZE: %w", err)
	}

	// Empty schedule disables the job
	c.Maintenance.CheckpointSchedule = os.Getenv("MAINTENANCE_CHECKPOINT_SCHEDULE")
	c.Maintenance.OptimizeSchedule = os.Getenv("MAINTENANCE_OPTIMIZE_SCHEDULE")
	if _, ok := os.LookupEnv("MAINTENANCE_CHECKPOINT_SCHEDULE"); !ok {
		c.Maintenance.CheckpointSchedule = "@every 5m"
	}
	if _, ok := os.LookupEnv("MAINTENANCE_OPTIMIZE_SCHEDULE"); !ok {
		c.Maintenance.OptimizeSchedule = "0 0 3 * * *"
	}

	c.HTTP.Addr = getenv("HTTP_ADDR", ":8080")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/asyncsqlited.log")

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
