package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options defines parameters for logger creation.
type Options struct {
	Env          string
	ConsoleLevel string // Level for console output (default: info)
	FileLevel    string // Level for file output (default: debug)
	File         string
	App          string
	// Console receives human-readable output (default: os.Stdout)
	Console io.Writer
	// Redact lists extra attribute keys to mask in addition to the defaults
	Redact []string
}

// defaultRedactKeys are masked in every handler.
var defaultRedactKeys = []string{"password", "secret", "token", "api_key"}

// consoleDropKeys are too noisy for the console and only go to the file.
var consoleDropKeys = map[string]struct{}{"stack": {}}

var closers sync.Map

// New creates configured slog.Logger instance.
// Console output is colored by tint, the file (if set) is rotated by lumberjack and written as JSON.
func New(o Options) *slog.Logger {
	consoleLvl := levelFromString(o.ConsoleLevel, slog.LevelInfo)
	fileLvl := levelFromString(o.FileLevel, slog.LevelDebug)

	console := o.Console
	if console == nil {
		console = os.Stdout
	}

	timeFormat := time.RFC3339
	if o.Env == "dev" {
		timeFormat = time.Kitchen
	}

	redact := append(append([]string{}, defaultRedactKeys...), o.Redact...)

	var consoleHandler slog.Handler = tint.NewHandler(console, &tint.Options{
		Level:      consoleLvl,
		TimeFormat: timeFormat,
		NoColor:    o.Env != "dev",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if _, drop := consoleDropKeys[a.Key]; drop {
				return slog.Attr{}
			}
			return a
		},
	})
	handlers := []slog.Handler{NewRedactingHandler(consoleHandler, redact)}

	var closer func() error
	if o.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    5,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		closer = fileWriter.Close
		fileHandler := slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{Level: fileLvl})
		handlers = append(handlers, NewRedactingHandler(fileHandler, redact))
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = NewMultiHandler(handlers...)
	}

	l := slog.New(h).With(
		slog.String("app", o.App),
		slog.String("env", o.Env),
	)

	if closer != nil {
		closers.Store(l, closer)
	}

	return l
}

// Close closes the log file of a logger returned by New.
// Should be called when shutting down the application.
func Close(logger *slog.Logger) error {
	if c, ok := closers.LoadAndDelete(logger); ok {
		return c.(func() error)()
	}
	return nil
}

func levelFromString(s string, def slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}
