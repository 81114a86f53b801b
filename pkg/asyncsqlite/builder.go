package asyncsqlite

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ClientBuilder настраивает и открывает Client.
// Настройки проверяются при Open, до открытия соединения.
type ClientBuilder struct {
	opts Options
}

// NewClientBuilder возвращает builder с настройками по умолчанию (in-memory БД).
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{opts: DefaultOptions()}
}

// WithOptions заменяет все настройки целиком.
func (b *ClientBuilder) WithOptions(opts Options) *ClientBuilder {
	b.opts = opts
	return b
}

// Path задаёт путь к файлу БД.
func (b *ClientBuilder) Path(path string) *ClientBuilder {
	b.opts.Path = path
	return b
}

// InMemory переключает на in-memory БД.
func (b *ClientBuilder) InMemory() *ClientBuilder {
	b.opts.Path = MemoryPath
	return b
}

func (b *ClientBuilder) JournalMode(mode JournalMode) *ClientBuilder {
	b.opts.JournalMode = mode
	return b
}

func (b *ClientBuilder) AccessMode(mode AccessMode) *ClientBuilder {
	b.opts.AccessMode = mode
	return b
}

func (b *ClientBuilder) Synchronous(level Synchronous) *ClientBuilder {
	b.opts.Synchronous = level
	return b
}

func (b *ClientBuilder) BusyTimeout(d time.Duration) *ClientBuilder {
	b.opts.BusyTimeout = d
	return b
}

func (b *ClientBuilder) ForeignKeys(on bool) *ClientBuilder {
	b.opts.ForeignKeys = on
	return b
}

func (b *ClientBuilder) TxLockMode(mode TxLockMode) *ClientBuilder {
	b.opts.TxLockMode = mode
	return b
}

// Pragma добавляет PRAGMA, применяемую к каждому новому соединению.
func (b *ClientBuilder) Pragma(name, value string) *ClientBuilder {
	b.opts.Pragmas = append(b.opts.Pragmas, Pragma{Name: name, Value: value})
	return b
}

// OnConnect задаёт функцию, вызываемую один раз для каждого нового соединения.
func (b *ClientBuilder) OnConnect(fn func(*Conn) error) *ClientBuilder {
	b.opts.OnConnect = fn
	return b
}

func (b *ClientBuilder) QueueSize(n int) *ClientBuilder {
	b.opts.QueueSize = n
	return b
}

// Migrations задаёт источник миграций, применяемых перед открытием.
func (b *ClientBuilder) Migrations(sourceURL string) *ClientBuilder {
	b.opts.Migrations = sourceURL
	return b
}

func (b *ClientBuilder) Logger(logger *slog.Logger) *ClientBuilder {
	b.opts.Logger = logger
	return b
}

// Options возвращает копию текущих настроек.
func (b *ClientBuilder) Options() Options {
	return b.opts
}

// Open открывает соединение и запускает воркер.
func (b *ClientBuilder) Open(ctx context.Context) (*Client, error) {
	clients, err := openWorkers(ctx, b.opts, 1)
	if err != nil {
		return nil, err
	}
	return clients[0], nil
}

// OpenBlocking - Open без контекста.
func (b *ClientBuilder) OpenBlocking() (*Client, error) {
	return b.Open(context.Background())
}

// PoolBuilder настраивает и открывает Pool.
// Все соединения пула открываются с одинаковыми настройками.
type PoolBuilder struct {
	client   ClientBuilder
	numConns int
}

// NewPoolBuilder возвращает builder с настройками по умолчанию
// и числом соединений по числу CPU.
func NewPoolBuilder() *PoolBuilder {
	return &PoolBuilder{
		client:   ClientBuilder{opts: DefaultOptions()},
		numConns: DefaultNumConns(),
	}
}

// NumConns задаёт число соединений в пуле.
func (b *PoolBuilder) NumConns(n int) *PoolBuilder {
	b.numConns = n
	return b
}

func (b *PoolBuilder) WithOptions(opts Options) *PoolBuilder {
	b.client.WithOptions(opts)
	return b
}

func (b *PoolBuilder) Path(path string) *PoolBuilder {
	b.client.Path(path)
	return b
}

func (b *PoolBuilder) InMemory() *PoolBuilder {
	b.client.InMemory()
	return b
}

func (b *PoolBuilder) JournalMode(mode JournalMode) *PoolBuilder {
	b.client.JournalMode(mode)
	return b
}

func (b *PoolBuilder) AccessMode(mode AccessMode) *PoolBuilder {
	b.client.AccessMode(mode)
	return b
}

func (b *PoolBuilder) Synchronous(level Synchronous) *PoolBuilder {
	b.client.Synchronous(level)
	return b
}

func (b *PoolBuilder) BusyTimeout(d time.Duration) *PoolBuilder {
	b.client.BusyTimeout(d)
	return b
}

func (b *PoolBuilder) ForeignKeys(on bool) *PoolBuilder {
	b.client.ForeignKeys(on)
	return b
}

func (b *PoolBuilder) TxLockMode(mode TxLockMode) *PoolBuilder {
	b.client.TxLockMode(mode)
	return b
}

func (b *PoolBuilder) Pragma(name, value string) *PoolBuilder {
	b.client.Pragma(name, value)
	return b
}

// OnConnect задаёт функцию, вызываемую один раз для каждого соединения пула.
func (b *PoolBuilder) OnConnect(fn func(*Conn) error) *PoolBuilder {
	b.client.OnConnect(fn)
	return b
}

func (b *PoolBuilder) QueueSize(n int) *PoolBuilder {
	b.client.QueueSize(n)
	return b
}

func (b *PoolBuilder) Migrations(sourceURL string) *PoolBuilder {
	b.client.Migrations(sourceURL)
	return b
}

func (b *PoolBuilder) Logger(logger *slog.Logger) *PoolBuilder {
	b.client.Logger(logger)
	return b
}

func (b *PoolBuilder) Options() Options {
	return b.client.Options()
}

// Open открывает все соединения пула последовательно.
// Если какое-то соединение не открылось, уже открытые закрываются.
func (b *PoolBuilder) Open(ctx context.Context) (*Pool, error) {
	if b.numConns < 1 {
		return nil, newError(KindOpen, "validate", fmt.Errorf("number of connections must be at least 1, got %d", b.numConns))
	}

	clients, err := openWorkers(ctx, b.client.opts, b.numConns)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		c.pooled = true
	}
	return &Pool{clients: clients}, nil
}

// OpenBlocking - Open без контекста.
func (b *PoolBuilder) OpenBlocking() (*Pool, error) {
	return b.Open(context.Background())
}
