package asyncsqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// State - состояние воркера.
type State int32

const (
	// StateRunning - воркер принимает и выполняет операции
	StateRunning State = iota
	// StateClosing - очередь закрыта, воркер дорабатывает принятые операции
	StateClosing
	// StateClosed - соединение освобождено
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats - счётчики воркера.
type Stats struct {
	Worker     int    `json:"worker"`
	State      string `json:"state"`
	Submitted  uint64 `json:"submitted"`
	Completed  uint64 `json:"completed"`
	Failed     uint64 `json:"failed"`
	Aborted    uint64 `json:"aborted"`
	QueueDepth int    `json:"queue_depth"`
	Busy       bool   `json:"busy"`
	Lost       bool   `json:"lost"`
}

// task - операция в очереди воркера.
type task struct {
	fn   func(*Conn) error
	resp chan error
}

// worker владеет одним соединением и выполняет операции строго по очереди.
type worker struct {
	id     int
	db     *sql.DB
	conn   *Conn
	logger *slog.Logger

	// mu защищает inbox от отправки после закрытия:
	// отправители держат RLock, закрытие берёт Lock.
	// closing закрывается до взятия Lock, чтобы отправители,
	// ждущие места в очереди, освободили RLock.
	mu          sync.RWMutex
	closed      bool
	inbox       chan task
	closing     chan struct{}
	closingOnce sync.Once

	state atomic.Int32
	done  chan struct{}
	lost  chan struct{}

	releaseOnce sync.Once
	releaseErr  error

	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	aborted   atomic.Uint64
	busy      atomic.Bool
	isLost    atomic.Bool
}

func newWorker(id int, db *sql.DB, conn *Conn, opts Options) *worker {
	return &worker{
		id:      id,
		db:      db,
		conn:    conn,
		logger:  opts.logger().With(slog.Int("worker", id)),
		inbox:   make(chan task, opts.QueueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		lost:    make(chan struct{}),
	}
}

func (w *worker) start() {
	go w.run()
	w.logger.Debug("worker started")
}

// run - цикл воркера. Закрытие inbox - сигнал завершения:
// принятые операции выполняются, затем соединение освобождается.
func (w *worker) run() {
	finished := false
	defer func() {
		if finished {
			return
		}
		// Сюда попадаем при runtime.Goexit внутри операции
		// или при панике, вышедшей за пределы exec.
		w.markLost(recover())
	}()

	for t := range w.inbox {
		t.resp <- w.exec(t.fn)
	}

	finished = true
	w.release()
	w.state.Store(int32(StateClosed))
	close(w.done)
	w.logger.Debug("worker stopped", slog.Uint64("completed", w.completed.Load()))
}

// exec выполняет одну операцию и превращает панику в ошибку KindAborted.
func (w *worker) exec(fn func(*Conn) error) (err error) {
	w.busy.Store(true)
	start := time.Now()

	defer func() {
		r := recover()
		w.conn.reset()
		w.busy.Store(false)
		w.completed.Add(1)

		if r == nil {
			if err != nil {
				w.failed.Add(1)
			}
			return
		}

		stack := debug.Stack()
		w.conn.rollback()
		w.aborted.Add(1)
		w.logger.Error("operation panicked",
			slog.Any("panic", r),
			slog.Duration("duration", time.Since(start)),
			slog.String("stack", string(stack)),
		)
		err = &Error{Kind: KindAborted, Op: "conn", Worker: w.id, Panic: r, Stack: stack}
	}()

	return engineError("conn", w.id, fn(w.conn))
}

// markLost вызывается, когда горутина воркера завершается аварийно.
func (w *worker) markLost(r any) {
	w.isLost.Store(true)
	close(w.lost)
	if r != nil {
		w.logger.Error("worker lost", slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
	} else {
		w.logger.Error("worker lost")
	}
	w.release()
	w.state.Store(int32(StateClosed))
	close(w.done)
}

// release освобождает соединение ровно один раз.
func (w *worker) release() {
	w.releaseOnce.Do(func() {
		w.releaseErr = errors.Join(w.conn.close(), w.db.Close())
		if w.releaseErr != nil {
			w.logger.Error("failed to release connection", slog.Any("error", w.releaseErr))
		}
	})
}

// submit ставит операцию в очередь. Блокируется, пока очередь заполнена.
// Уже отменённый ctx не ставит операцию в очередь.
func (w *worker) submit(ctx context.Context, fn func(*Conn) error) (chan error, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return nil, newWorkerError(KindClosed, "submit", w.id)
	}

	t := task{fn: fn, resp: make(chan error, 1)}
	select {
	case w.inbox <- t:
		w.submitted.Add(1)
		return t.resp, nil
	case <-w.closing:
		return nil, newWorkerError(KindClosed, "submit", w.id)
	case <-w.lost:
		return nil, newWorkerError(KindWorkerLost, "submit", w.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// shutdown закрывает очередь. Возвращает false, если она уже была закрыта.
func (w *worker) shutdown() bool {
	w.closingOnce.Do(func() { close(w.closing) })

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.closed = true
	w.state.CompareAndSwap(int32(StateRunning), int32(StateClosing))
	close(w.inbox)
	return true
}

// wait ждёт освобождения соединения.
func (w *worker) wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.releaseErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *worker) stats() Stats {
	return Stats{
		Worker:     w.id,
		State:      State(w.state.Load()).String(),
		Submitted:  w.submitted.Load(),
		Completed:  w.completed.Load(),
		Failed:     w.failed.Load(),
		Aborted:    w.aborted.Load(),
		QueueDepth: len(w.inbox),
		Busy:       w.busy.Load(),
		Lost:       w.isLost.Load(),
	}
}

func newWorkerError(kind Kind, op string, worker int) *Error {
	return &Error{Kind: kind, Op: op, Worker: worker}
}
