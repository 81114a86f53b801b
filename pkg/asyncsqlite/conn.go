package asyncsqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier объединяет методы выполнения запросов, общие для БД, транзакции и Conn.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// Убедимся на этапе компиляции, что типы реализуют интерфейс
var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Conn)(nil)
	_ Querier = (*Conn)(nil)
)

// Conn - соединение, которое получает операция.
// Действует только во время выполнения операции и только в горутине воркера:
// сохранять его или передавать в другие горутины нельзя.
//
// Курсоры (*sql.Rows, *sql.Row) и подготовленные выражения, открытые операцией,
// закрываются воркером после её завершения.
type Conn struct {
	conn       *sql.Conn
	ctx        context.Context
	txLockMode TxLockMode
	worker     int

	rows  []*sql.Rows
	row   []*sql.Row
	stmts []*sql.Stmt

	txDepth   int
	savepoint int
}

func newConn(conn *sql.Conn, opts Options, worker int) *Conn {
	mode := opts.TxLockMode
	if mode == "" {
		mode = TxLockDeferred
	}
	return &Conn{
		conn:       conn,
		ctx:        context.Background(),
		txLockMode: mode,
		worker:     worker,
	}
}

// Context возвращает контекст операции. Он не зависит от контекста вызывающего:
// отмена ожидания не прерывает уже начатую операцию.
func (c *Conn) Context() context.Context {
	return c.ctx
}

// Worker возвращает номер воркера, выполняющего операцию.
func (c *Conn) Worker() int {
	return c.worker
}

// InTx сообщает, выполняется ли операция внутри WithinTx.
func (c *Conn) InTx() bool {
	return c.txDepth > 0
}

func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.conn.ExecContext(ctx, query, args...)
}

func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	c.rows = append(c.rows, rows)
	return rows, nil
}

func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	row := c.conn.QueryRowContext(ctx, query, args...)
	c.row = append(c.row, row)
	return row
}

func (c *Conn) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	stmt, err := c.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	c.stmts = append(c.stmts, stmt)
	return stmt, nil
}

// Exec выполняет запрос в контексте операции.
func (c *Conn) Exec(query string, args ...any) (sql.Result, error) {
	return c.ExecContext(c.ctx, query, args...)
}

// Query выполняет запрос в контексте операции.
func (c *Conn) Query(query string, args ...any) (*sql.Rows, error) {
	return c.QueryContext(c.ctx, query, args...)
}

// QueryRow выполняет запрос, возвращающий не больше одной строки.
func (c *Conn) QueryRow(query string, args ...any) *sql.Row {
	return c.QueryRowContext(c.ctx, query, args...)
}

// ExecScript выполняет несколько выражений, разделённых точкой с запятой.
func (c *Conn) ExecScript(script string) error {
	_, err := c.conn.ExecContext(c.ctx, script)
	return err
}

// Pragma читает значение PRAGMA.
func (c *Conn) Pragma(name string) (string, error) {
	var value sql.NullString
	if err := c.conn.QueryRowContext(c.ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value.String, nil
}

// SetPragma устанавливает значение PRAGMA.
func (c *Conn) SetPragma(name, value string) error {
	if _, err := c.conn.ExecContext(c.ctx, fmt.Sprintf("PRAGMA %s = %s", name, value)); err != nil {
		return fmt.Errorf("set pragma %s: %w", name, err)
	}
	return nil
}

// Raw даёт доступ к соединению драйвера modernc.org/sqlite.
func (c *Conn) Raw(fn func(driverConn any) error) error {
	return c.conn.Raw(fn)
}

// WithinTx выполняет fn внутри транзакции с режимом блокировки из настроек.
// Если fn возвращает ошибку или паникует, транзакция откатывается.
// Вложенные транзакции не поддерживаются, для них есть WithinSavepoint.
func (c *Conn) WithinTx(fn func(*Conn) error) (err error) {
	if c.txDepth > 0 {
		return fmt.Errorf("nested transactions are not supported by SQLite")
	}

	if _, err := c.conn.ExecContext(c.ctx, "BEGIN "+string(c.txLockMode)); err != nil {
		return err
	}
	c.txDepth++

	defer func() {
		c.txDepth--
		if r := recover(); r != nil {
			_, _ = c.conn.ExecContext(c.ctx, "ROLLBACK")
			panic(r)
		}
	}()

	if err := fn(c); err != nil {
		_, _ = c.conn.ExecContext(c.ctx, "ROLLBACK")
		return err
	}

	_, err = c.conn.ExecContext(c.ctx, "COMMIT")
	return err
}

// WithinSavepoint выполняет fn внутри savepoint.
// При ошибке откатывается к savepoint, при успехе - освобождает его.
// Работает как внутри WithinTx, так и без транзакции.
func (c *Conn) WithinSavepoint(fn func(*Conn) error) error {
	c.savepoint++
	name := fmt.Sprintf("sp_%d", c.savepoint)
	defer func() { c.savepoint-- }()

	if _, err := c.conn.ExecContext(c.ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	rollback := func() error {
		if _, err := c.conn.ExecContext(c.ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
			return err
		}
		_, _ = c.conn.ExecContext(c.ctx, "RELEASE SAVEPOINT "+name)
		return nil
	}

	panicked := true
	defer func() {
		if panicked {
			_ = rollback()
		}
	}()

	if err := fn(c); err != nil {
		panicked = false
		if rollbackErr := rollback(); rollbackErr != nil {
			return fmt.Errorf("failed to rollback to savepoint %s: %v (original error: %w)", name, rollbackErr, err)
		}
		return err
	}
	panicked = false

	if _, err := c.conn.ExecContext(c.ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}

	return nil
}

// reset закрывает всё, что операция оставила открытым.
// Незакрытый курсор удерживает соединение, и Close на нём зависнет.
func (c *Conn) reset() {
	for _, rows := range c.rows {
		_ = rows.Close()
	}
	for _, row := range c.row {
		// Scan без аргументов закрывает курсор строки
		_ = row.Scan()
	}
	for _, stmt := range c.stmts {
		_ = stmt.Close()
	}
	c.rows = c.rows[:0]
	c.row = c.row[:0]
	c.stmts = c.stmts[:0]
	c.txDepth = 0
	c.savepoint = 0
}

// rollback откатывает транзакцию, которую прерванная операция могла оставить открытой.
func (c *Conn) rollback() {
	_, _ = c.conn.ExecContext(c.ctx, "ROLLBACK")
}

func (c *Conn) close() error {
	c.reset()
	return c.conn.Close()
}
