package asyncsqlite

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Pool распределяет операции по нескольким клиентам по кругу.
// Порядок выполняется только в пределах одного соединения:
// две операции, отправленные подряд, могут попасть на разные соединения.
type Pool struct {
	clients []*Client
	next    atomic.Uint64
	closed  atomic.Bool
}

// Size возвращает число соединений в пуле.
func (p *Pool) Size() int {
	return len(p.clients)
}

// pick возвращает следующего клиента по кругу.
// Пул без соединений (нулевое значение Pool) считается закрытым.
func (p *Pool) pick() (*Client, error) {
	if len(p.clients) == 0 {
		return nil, newError(KindClosed, "pool", nil)
	}
	n := p.next.Add(1) - 1
	return p.clients[n%uint64(len(p.clients))], nil
}

// Conn выполняет fn на следующем по кругу соединении.
func (p *Pool) Conn(ctx context.Context, fn func(*Conn) error) error {
	c, err := p.pick()
	if err != nil {
		return err
	}
	return c.Conn(ctx, fn)
}

// ConnBlocking - Conn без контекста.
func (p *Pool) ConnBlocking(fn func(*Conn) error) error {
	return p.Conn(context.Background(), fn)
}

// Submit ставит fn в очередь следующего по кругу соединения.
func (p *Pool) Submit(fn func(*Conn) error) (*Pending, error) {
	c, err := p.pick()
	if err != nil {
		return nil, err
	}
	return c.Submit(fn)
}

// ConnForEach выполняет fn один раз на каждом соединении пула.
// Соединения работают параллельно, ошибки объединяются через errors.Join.
func (p *Pool) ConnForEach(ctx context.Context, fn func(*Conn) error) error {
	if len(p.clients) == 0 {
		return newError(KindClosed, "pool", nil)
	}
	errs := make([]error, len(p.clients))

	var wg sync.WaitGroup
	for i, c := range p.clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.Conn(ctx, fn)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}

// ConnForEachBlocking - ConnForEach без контекста.
func (p *Pool) ConnForEachBlocking(fn func(*Conn) error) error {
	return p.ConnForEach(context.Background(), fn)
}

// Close закрывает все соединения пула параллельно и ждёт их завершения.
// Ошибки всех соединений объединяются. Повторный вызов возвращает nil.
func (p *Pool) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return closeClients(ctx, p.clients)
}

// CloseBlocking - Close без контекста.
func (p *Pool) CloseBlocking() error {
	return p.Close(context.Background())
}

// Stats возвращает счётчики всех воркеров пула.
func (p *Pool) Stats() []Stats {
	out := make([]Stats, len(p.clients))
	for i, c := range p.clients {
		out[i] = c.Stats()
	}
	return out
}

// Client возвращает i-е соединение пула для операций, которые должны
// выполниться на конкретном соединении. Закрыть его можно только через пул.
func (p *Pool) Client(i int) *Client {
	return p.clients[i]
}

func closeClients(ctx context.Context, clients []*Client) error {
	errs := make([]error, len(clients))

	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.close(ctx); err != nil {
				errs[i] = fmt.Errorf("close connection %d: %w", i, err)
			}
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
