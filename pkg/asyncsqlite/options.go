package asyncsqlite

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MemoryPath - специальный путь для in-memory базы данных.
// Каждое соединение получает собственную независимую базу.
const MemoryPath = ":memory:"

// JournalMode определяет режим журнала SQLite.
type JournalMode string

const (
	// JournalModeDelete - журнал удаляется после каждой транзакции (по умолчанию SQLite)
	JournalModeDelete JournalMode = "DELETE"
	// JournalModeTruncate - журнал обрезается до нулевой длины
	JournalModeTruncate JournalMode = "TRUNCATE"
	// JournalModePersist - заголовок журнала затирается, файл остаётся
	JournalModePersist JournalMode = "PERSIST"
	// JournalModeMemory - журнал хранится в памяти
	JournalModeMemory JournalMode = "MEMORY"
	// JournalModeWAL - write-ahead log, читатели не блокируют писателя
	JournalModeWAL JournalMode = "WAL"
	// JournalModeOff - журнал отключён
	JournalModeOff JournalMode = "OFF"
)

// String возвращает режим в том виде, в котором его сообщает PRAGMA journal_mode.
func (m JournalMode) String() string {
	return strings.ToLower(string(m))
}

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWrite - режим чтения и записи (по умолчанию)
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - режим только для чтения
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate - режим чтения/записи с созданием файла если не существует
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// Synchronous определяет уровень PRAGMA synchronous.
type Synchronous string

const (
	SynchronousOff    Synchronous = "OFF"
	SynchronousNormal Synchronous = "NORMAL"
	SynchronousFull   Synchronous = "FULL"
	SynchronousExtra  Synchronous = "EXTRA"
)

// TxLockMode определяет режим блокировки транзакций SQLite
type TxLockMode string

const (
	// TxLockDeferred - откладывает блокировку до первого чтения/записи (по умолчанию SQLite)
	TxLockDeferred TxLockMode = "DEFERRED"
	// TxLockImmediate - немедленно захватывает RESERVED блокировку для избежания SQLITE_BUSY при записи
	TxLockImmediate TxLockMode = "IMMEDIATE"
	// TxLockExclusive - немедленно захватывает EXCLUSIVE блокировку
	TxLockExclusive TxLockMode = "EXCLUSIVE"
)

// Pragma - дополнительная настройка соединения, применяемая при открытии.
type Pragma struct {
	Name  string `validate:"required,excludesall=;= "`
	Value string `validate:"excludesall=;"`
}

// Options содержит настройки соединения и воркера.
// После открытия клиента или пула настройки не меняются.
type Options struct {
	// Path - путь к файлу БД; пустая строка или MemoryPath означает in-memory БД
	Path string
	// JournalMode - режим журнала; пустое значение оставляет режим движка
	JournalMode JournalMode `validate:"omitempty,oneof=DELETE TRUNCATE PERSIST MEMORY WAL OFF"`
	// AccessMode - режим доступа к базе данных
	AccessMode AccessMode `validate:"omitempty,oneof=rw ro rwc"`
	// Synchronous - уровень синхронизации; пустое значение оставляет значение движка
	Synchronous Synchronous `validate:"omitempty,oneof=OFF NORMAL FULL EXTRA"`
	// BusyTimeout - таймаут ожидания при SQLITE_BUSY
	BusyTimeout time.Duration `validate:"gte=0"`
	// ForeignKeys - включить ли проверку внешних ключей
	ForeignKeys bool
	// TxLockMode - режим блокировки для Conn.WithinTx
	TxLockMode TxLockMode `validate:"omitempty,oneof=DEFERRED IMMEDIATE EXCLUSIVE"`
	// Pragmas - дополнительные PRAGMA, применяются по порядку после стандартных
	Pragmas []Pragma `validate:"dive"`
	// QueueSize - размер буфера входящей очереди воркера
	QueueSize int `validate:"gte=1"`
	// OpenTimeout - ограничение на открытие соединения и применение настроек
	OpenTimeout time.Duration `validate:"gte=0"`
	// Migrations - источник миграций golang-migrate (например, "file://migrations")
	Migrations string `validate:"omitempty,url"`
	// OnConnect вызывается один раз для каждого нового соединения после PRAGMA
	OnConnect func(conn *Conn) error
	// Logger получает сообщения о жизненном цикле воркеров; nil - без логов
	Logger *slog.Logger
}

// DefaultOptions возвращает настройки по умолчанию, оптимизированные для embedded использования.
func DefaultOptions() Options {
	return Options{
		Path:        MemoryPath,
		AccessMode:  AccessModeReadWrite, // По умолчанию чтение и запись
		BusyTimeout: 5 * time.Second,     // 5 секунд ожидания при блокировке
		TxLockMode:  TxLockDeferred,      // Стандартный режим для совместимости
		QueueSize:   100,                 // Размер буфера очереди
		OpenTimeout: 30 * time.Second,
	}
}

// DefaultNumConns возвращает размер пула по умолчанию - по числу доступных CPU.
func DefaultNumConns() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

var validate = validator.New()

// Validate проверяет настройки до открытия первого соединения.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return newError(KindOpen, "validate", err)
	}
	if o.InMemory() {
		if o.AccessMode == AccessModeReadOnly {
			return newError(KindOpen, "validate", fmt.Errorf("read-only access mode requires a database file"))
		}
		if o.Migrations != "" {
			return newError(KindOpen, "validate", fmt.Errorf("migrations require a database file"))
		}
	}
	return nil
}

// InMemory сообщает, описывают ли настройки in-memory базу данных.
func (o Options) InMemory() bool {
	return o.Path == "" || o.Path == MemoryPath
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// buildDSN строит DSN строку для modernc драйвера.
// Режим доступа передаётся через URI, поэтому для него путь оформляется как "file:".
// Остальные настройки применяются через PRAGMA после открытия.
func buildDSN(opts Options) string {
	if opts.InMemory() {
		return MemoryPath
	}

	params := []string{}

	// Добавляем режим доступа только если он отличается от умолчания
	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite {
		params = append(params, "mode="+string(opts.AccessMode))
	}

	if opts.TxLockMode != "" && opts.TxLockMode != TxLockDeferred {
		params = append(params, "_txlock="+strings.ToLower(string(opts.TxLockMode)))
	}

	if len(params) == 0 {
		return opts.Path
	}
	return "file:" + opts.Path + "?" + strings.Join(params, "&")
}

// pragmaStatements возвращает PRAGMA настройки в порядке применения.
// journal_mode применяется отдельно, так как его результат проверяется.
func pragmaStatements(opts Options) []string {
	pragmas := make([]string, 0, 4+len(opts.Pragmas))

	// busy_timeout первым, чтобы остальные PRAGMA ждали блокировку
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}

	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}

	if opts.Synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous = "+string(opts.Synchronous))
	}

	for _, p := range opts.Pragmas {
		if p.Value == "" {
			pragmas = append(pragmas, "PRAGMA "+p.Name)
			continue
		}
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA %s = %s", p.Name, p.Value))
	}

	return pragmas
}
