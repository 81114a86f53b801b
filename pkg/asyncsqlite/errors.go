package asyncsqlite

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Sentinel errors matched by (*Error).Is through the error kind.
var (
	// ErrEngine indicates that the database engine rejected an operation.
	// Only driver errors (*sqlite.Error) carry this kind; errors an operation
	// creates itself are returned unchanged.
	ErrEngine = errors.New("engine error")

	// ErrClosed indicates that the client or pool has been closed
	ErrClosed = errors.New("connection closed")

	// ErrWorkerLost indicates that the worker goroutine exited before replying
	ErrWorkerLost = errors.New("worker lost")

	// ErrAborted indicates that an operation panicked or exited abnormally
	ErrAborted = errors.New("operation aborted")

	// ErrOpen indicates that a connection could not be opened or configured
	ErrOpen = errors.New("open failed")
)

// ErrPoolMember is returned by Close on a client obtained from Pool.Client.
var ErrPoolMember = errors.New("pool member must be closed through its pool")

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindEngine represents errors reported by the database engine
	KindEngine
	// KindClosed represents calls made after shutdown started
	KindClosed
	// KindWorkerLost represents a worker that stopped without replying
	KindWorkerLost
	// KindAborted represents an operation that panicked
	KindAborted
	// KindOpen represents failures while opening or configuring a connection
	KindOpen
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindEngine:
		return "Engine"
	case KindClosed:
		return "Closed"
	case KindWorkerLost:
		return "WorkerLost"
	case KindAborted:
		return "Aborted"
	case KindOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// kindToSentinel maps error kinds to their corresponding sentinel errors.
var kindToSentinel = map[Kind]error{
	KindEngine:     ErrEngine,
	KindClosed:     ErrClosed,
	KindWorkerLost: ErrWorkerLost,
	KindAborted:    ErrAborted,
	KindOpen:       ErrOpen,
}

// kindPriorities defines the deterministic order for error classification.
// Structural failures are reported before per-operation ones.
var kindPriorities = []Kind{
	KindWorkerLost,
	KindClosed,
	KindOpen,
	KindAborted,
	KindEngine,
}

// Error is the single error type returned by clients and pools.
// Engine errors keep the driver error reachable through Unwrap,
// aborted operations keep the recovered value and the goroutine stack.
type Error struct {
	Kind   Kind
	Op     string
	Worker int
	Err    error
	Panic  any
	Stack  []byte
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Worker: -1, Err: err}
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if sentinel := kindToSentinel[e.Kind]; sentinel != nil {
		msg = sentinel.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Worker >= 0 {
		msg = fmt.Sprintf("worker %d: %s", e.Worker, msg)
	}
	switch {
	case e.Err != nil:
		msg += ": " + e.Err.Error()
	case e.Panic != nil:
		msg += fmt.Sprintf(": panic: %v", e.Panic)
	}
	return msg
}

// Unwrap returns the underlying cause, usually the driver error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the error kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindToSentinel[e.Kind]
	return ok && sentinel == target
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// For errors created with errors.Join, the first matching kind in priority order is returned.
// Returns KindUnknown for unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, kind := range kindPriorities {
		if errors.Is(err, kindToSentinel[kind]) {
			return kind
		}
	}

	return KindUnknown
}

// IsClosed reports whether err was caused by a call on a closed client or pool.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

// IsWorkerLost reports whether err was caused by a worker that stopped abnormally.
func IsWorkerLost(err error) bool {
	return errors.Is(err, ErrWorkerLost)
}

// IsAborted reports whether err was caused by a panicking operation.
func IsAborted(err error) bool {
	return errors.Is(err, ErrAborted)
}

// IsEngine reports whether err was reported by the database engine.
func IsEngine(err error) bool {
	return errors.Is(err, ErrEngine)
}

// ResultCode returns the primary SQLite result code carried by err, or 0 when
// err does not wrap a driver error.
func ResultCode(err error) int {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code() & 0xff
	}
	return 0
}

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func IsBusy(err error) bool {
	switch ResultCode(err) {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsConstraint reports whether err is a constraint violation.
func IsConstraint(err error) bool {
	return ResultCode(err) == sqlite3.SQLITE_CONSTRAINT
}

// engineError wraps a driver error returned by an operation. Errors that
// already carry a kind and application errors are passed through unchanged.
func engineError(op string, worker int, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	return &Error{Kind: KindEngine, Op: op, Worker: worker, Err: err}
}
