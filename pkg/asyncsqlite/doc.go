// Package asyncsqlite предоставляет асинхронный интерфейс к блокирующему
// соединению SQLite (драйвер modernc.org/sqlite).
//
// Каждое соединение принадлежит отдельной фоновой горутине (воркеру).
// Вызывающий код передаёт операцию - функцию над *Conn - и ждёт результата,
// не блокируя другие горутины на время работы движка.
//
// Основные возможности:
// - Не больше одной операции одновременно на соединение
// - Операции одного соединения выполняются в порядке поступления
// - Паника в операции превращается в ошибку ErrAborted, воркер продолжает работу
// - Закрытие дорабатывает принятые операции и освобождает соединение ровно один раз
// - Пул соединений с распределением по кругу
// - Миграции golang-migrate при открытии
// - Тестовые хелперы
//
// # Быстрый старт
//
//	ctx := context.Background()
//	client, err := asyncsqlite.NewClientBuilder().
//		Path("app.db").
//		JournalMode(asyncsqlite.JournalModeWAL).
//		Open(ctx)
//	if err != nil {
//		return err
//	}
//	defer client.Close(ctx)
//
//	err = client.Conn(ctx, func(c *asyncsqlite.Conn) error {
//		_, err := c.Exec("INSERT INTO users (name) VALUES (?)", "John")
//		return err
//	})
//
// # Значения из операций
//
//	name, err := asyncsqlite.Query(ctx, client, func(c *asyncsqlite.Conn) (string, error) {
//		var name string
//		err := c.QueryRow("SELECT name FROM users WHERE id = ?", 1).Scan(&name)
//		return name, err
//	})
//
// # Пул
//
// Пул открывает несколько соединений с одинаковыми настройками.
// Для in-memory БД каждое соединение получает собственную базу.
//
//	pool, err := asyncsqlite.NewPoolBuilder().
//		Path("app.db").
//		JournalMode(asyncsqlite.JournalModeWAL).
//		NumConns(4).
//		Open(ctx)
//
//	// Выполнить операцию на каждом соединении
//	err = pool.ConnForEach(ctx, func(c *asyncsqlite.Conn) error {
//		_, err := c.Exec("PRAGMA optimize")
//		return err
//	})
//
// # Транзакции
//
//	err = client.Conn(ctx, func(c *asyncsqlite.Conn) error {
//		return c.WithinTx(func(c *asyncsqlite.Conn) error {
//			if _, err := c.Exec("UPDATE accounts SET balance = balance - 10 WHERE id = 1"); err != nil {
//				return err
//			}
//			return c.WithinSavepoint(func(c *asyncsqlite.Conn) error {
//				_, err := c.Exec("UPDATE accounts SET balance = balance + 10 WHERE id = 2")
//				return err
//			})
//		})
//	})
//
// # Ошибки
//
// Все ошибки имеют тип *Error и классифицируются через errors.Is:
//
//	switch {
//	case errors.Is(err, asyncsqlite.ErrClosed):
//		// клиент закрыт
//	case errors.Is(err, asyncsqlite.ErrAborted):
//		// операция запаниковала
//	case asyncsqlite.IsConstraint(err):
//		// нарушено ограничение
//	}
//
// Ошибка драйвера доступна через errors.As(err, new(*sqlite.Error)).
package asyncsqlite
