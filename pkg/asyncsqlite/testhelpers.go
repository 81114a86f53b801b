package asyncsqlite

import (
	"context"
	"path/filepath"
	"testing"
)

// NewTestClient открывает in-memory клиента для тестов.
// Клиент автоматически закрывается после завершения теста.
func NewTestClient(t testing.TB, configure ...func(*ClientBuilder)) *Client {
	t.Helper()

	b := NewClientBuilder()
	for _, fn := range configure {
		fn(b)
	}

	client, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("Failed to open test client: %v", err)
	}

	t.Cleanup(func() {
		_ = client.CloseBlocking()
	})

	return client
}

// NewTestPool открывает пул из n соединений к файловой БД во временной директории.
// Пул автоматически закрывается после завершения теста.
func NewTestPool(t testing.TB, n int, configure ...func(*PoolBuilder)) *Pool {
	t.Helper()

	b := NewPoolBuilder().
		NumConns(n).
		Path(TestDBPath(t)).
		JournalMode(JournalModeWAL)
	for _, fn := range configure {
		fn(b)
	}

	pool, err := b.Open(context.Background())
	if err != nil {
		t.Fatalf("Failed to open test pool: %v", err)
	}

	t.Cleanup(func() {
		_ = pool.CloseBlocking()
	})

	return pool
}

// TestDBPath возвращает путь к файлу БД во временной директории теста.
func TestDBPath(t testing.TB) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

// MustExec выполняет выражение на r и падает при ошибке.
func MustExec(t testing.TB, r Runner, query string, args ...any) {
	t.Helper()

	err := r.ConnBlocking(func(c *Conn) error {
		_, err := c.Exec(query, args...)
		return err
	})
	if err != nil {
		t.Fatalf("Failed to execute query: %v", err)
	}
}

// CountRows возвращает количество строк в таблице.
func CountRows(t testing.TB, r Runner, tableName string) int {
	t.Helper()

	count, err := QueryBlocking(r, func(c *Conn) (int, error) {
		var n int
		err := c.QueryRow("SELECT COUNT(*) FROM " + tableName).Scan(&n)
		return n, err
	})
	if err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	return count
}
