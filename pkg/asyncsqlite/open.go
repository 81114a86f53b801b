package asyncsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер

	"asyncsqlite/pkg/retry"
)

// driverName - имя драйвера modernc.org/sqlite в database/sql.
const driverName = "sqlite"

// pragmaRetry - повторы PRAGMA при SQLITE_BUSY во время открытия.
// Смена journal_mode на WAL требует эксклюзивной блокировки файла,
// а соседние соединения пула могут в этот момент её удерживать.
var pragmaRetry = retry.Config{
	MaxAttempts:    5,
	InitialDelay:   10 * time.Millisecond,
	MaxDelay:       500 * time.Millisecond,
	Multiplier:     2.0,
	JitterStrategy: retry.JitterEqual,
}

// openWorker открывает соединение, применяет настройки и запускает воркер.
func openWorker(ctx context.Context, opts Options, id int) (*worker, error) {
	if opts.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.OpenTimeout)
		defer cancel()
	}

	db, err := sql.Open(driverName, buildDSN(opts))
	if err != nil {
		return nil, openError(id, "open", err)
	}

	// Соединение ровно одно и живёт столько же, сколько воркер
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)

	raw, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, openError(id, "connect", err)
	}

	conn := newConn(raw, opts, id)
	if err := configure(ctx, conn, opts); err != nil {
		_ = conn.close()
		_ = db.Close()
		return nil, openError(id, "configure", err)
	}

	w := newWorker(id, db, conn, opts)
	w.start()
	return w, nil
}

// configure применяет PRAGMA, проверяет режим журнала и вызывает OnConnect.
func configure(ctx context.Context, conn *Conn, opts Options) error {
	for _, stmt := range pragmaStatements(opts) {
		if err := execRetry(ctx, conn, stmt); err != nil {
			return fmt.Errorf("failed to apply %q: %w", stmt, err)
		}
	}

	if opts.JournalMode != "" {
		if err := setJournalMode(ctx, conn, opts.JournalMode); err != nil {
			return err
		}
	}

	if opts.OnConnect != nil {
		if err := runHook(conn, opts.OnConnect); err != nil {
			return fmt.Errorf("on connect: %w", err)
		}
	}

	return nil
}

func execRetry(ctx context.Context, conn *Conn, stmt string) error {
	return retry.DoWithRetryable(ctx, pragmaRetry, func(ctx context.Context) error {
		_, err := conn.conn.ExecContext(ctx, stmt)
		return err
	}, IsBusy)
}

// setJournalMode устанавливает режим журнала и сверяет ответ движка.
// SQLite не возвращает ошибку, если режим недоступен (например, WAL для
// in-memory БД), а молча оставляет прежний.
func setJournalMode(ctx context.Context, conn *Conn, mode JournalMode) error {
	var got string
	err := retry.DoWithRetryable(ctx, pragmaRetry, func(ctx context.Context) error {
		return conn.conn.QueryRowContext(ctx, "PRAGMA journal_mode = "+string(mode)).Scan(&got)
	}, IsBusy)
	if err != nil {
		return fmt.Errorf("failed to set journal mode %s: %w", mode, err)
	}
	if !strings.EqualFold(got, string(mode)) {
		return fmt.Errorf("journal mode %s not applied, engine reports %q", mode, got)
	}
	return nil
}

// runHook вызывает OnConnect, превращая панику в ошибку.
func runHook(conn *Conn, hook func(*Conn) error) (err error) {
	defer func() {
		conn.reset()
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook(conn)
}

func openError(id int, op string, err error) *Error {
	return &Error{Kind: KindOpen, Op: op, Worker: id, Err: err}
}

// openWorkers открывает n воркеров последовательно. Если очередной не открылся,
// уже открытые закрываются.
func openWorkers(ctx context.Context, opts Options, n int) ([]*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.logger()

	if opts.Migrations != "" {
		if err := ApplyMigrations(opts.Path, opts.Migrations); err != nil {
			return nil, openError(-1, "migrate", err)
		}
		logger.Debug("migrations applied", slog.String("source", opts.Migrations))
	}

	clients := make([]*Client, 0, n)
	for i := range n {
		w, err := openWorker(ctx, opts, i)
		if err != nil {
			if closeErr := closeClients(context.Background(), clients); closeErr != nil {
				logger.Error("failed to close opened connections", slog.Any("error", closeErr))
			}
			return nil, err
		}
		clients = append(clients, newClient(w))
	}

	logger.Info("connections opened",
		slog.Int("count", n),
		slog.String("path", displayPath(opts)),
		slog.String("journal_mode", string(opts.JournalMode)),
	)
	return clients, nil
}

func displayPath(opts Options) string {
	if opts.InMemory() {
		return MemoryPath
	}
	return opts.Path
}
