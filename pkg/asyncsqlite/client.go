package asyncsqlite

import (
	"context"
	"runtime"
)

// Runner - общий интерфейс Client и Pool для выполнения операций.
type Runner interface {
	Conn(ctx context.Context, fn func(*Conn) error) error
	ConnBlocking(fn func(*Conn) error) error
}

var (
	_ Runner = (*Client)(nil)
	_ Runner = (*Pool)(nil)
)

// Client - асинхронный интерфейс к одному соединению.
// Все операции выполняются одной фоновой горутиной в порядке поступления.
//
// Client безопасен для одновременного использования из нескольких горутин.
// Вызывать методы Client из операции этого же клиента нельзя: очередь
// обслуживается той же горутиной, и вызов не дождётся ответа.
type Client struct {
	w *worker
	// pooled - клиент принадлежит пулу и закрывается только вместе с ним
	pooled bool
}

func newClient(w *worker) *Client {
	c := &Client{w: w}
	// Если клиент потерян без Close, воркер дорабатывает очередь и освобождает соединение.
	runtime.AddCleanup(c, func(w *worker) { w.shutdown() }, w)
	return c
}

// Conn выполняет fn на соединении клиента и ждёт результата.
// Если ctx отменяется раньше, возвращается ctx.Err(), а операция всё равно
// будет выполнена: её результат отбрасывается.
func (c *Client) Conn(ctx context.Context, fn func(*Conn) error) error {
	resp, err := c.w.submit(ctx, fn)
	if err != nil {
		return err
	}
	p := c.pending(resp)
	return p.Wait(ctx)
}

// ConnBlocking выполняет fn и ждёт результата без контекста.
func (c *Client) ConnBlocking(fn func(*Conn) error) error {
	return c.Conn(context.Background(), fn)
}

// Submit ставит fn в очередь и сразу возвращает ожидание результата.
// Если очередь заполнена, Submit ждёт освобождения места.
func (c *Client) Submit(fn func(*Conn) error) (*Pending, error) {
	resp, err := c.w.submit(context.Background(), fn)
	if err != nil {
		return nil, err
	}
	return c.pending(resp), nil
}

func (c *Client) pending(resp chan error) *Pending {
	return &Pending{
		resp:   resp,
		lost:   c.w.lost,
		worker: c.w.id,
		sem:    make(chan struct{}, 1),
	}
}

// Close закрывает очередь, дожидается выполнения уже принятых операций
// и освобождает соединение. Первый вызов возвращает ошибку освобождения
// соединения, последующие возвращают nil.
// Если ctx отменяется раньше, Close возвращает ctx.Err(), а завершение
// продолжается в фоне. Операции, ожидающие места в очереди, получают ErrClosed.
//
// Соединение, полученное через Pool.Client, закрывается только пулом:
// Close возвращает ErrPoolMember.
func (c *Client) Close(ctx context.Context) error {
	if c.pooled {
		return ErrPoolMember
	}
	return c.close(ctx)
}

func (c *Client) close(ctx context.Context) error {
	if !c.w.shutdown() {
		return nil
	}
	return c.w.wait(ctx)
}

// CloseBlocking - Close без контекста.
func (c *Client) CloseBlocking() error {
	return c.Close(context.Background())
}

// State возвращает текущее состояние воркера.
func (c *Client) State() State {
	return State(c.w.state.Load())
}

// Stats возвращает счётчики воркера.
func (c *Client) Stats() Stats {
	return c.w.stats()
}

// Pending - результат операции, поставленной через Submit.
type Pending struct {
	resp   chan error
	lost   chan struct{}
	worker int

	// sem сериализует ожидающих; done и err читаются только под ним
	sem  chan struct{}
	done bool
	err  error
}

// Wait ждёт результата операции. Результат запоминается,
// повторные вызовы возвращают его сразу.
// Отмена ctx не отменяет операцию и не запоминается.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
	default:
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer func() { <-p.sem }()

	if p.done {
		return p.err
	}

	// Уже доставленный ответ важнее потери воркера и отмены ctx
	select {
	case err := <-p.resp:
		return p.resolve(err)
	default:
	}

	select {
	case err := <-p.resp:
		return p.resolve(err)
	case <-p.lost:
		select {
		case err := <-p.resp:
			return p.resolve(err)
		default:
			return p.resolve(newWorkerError(KindWorkerLost, "conn", p.worker))
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pending) resolve(err error) error {
	p.done = true
	p.err = err
	return err
}

// Query выполняет fn на r и возвращает полученное значение.
func Query[T any](ctx context.Context, r Runner, fn func(*Conn) (T, error)) (T, error) {
	var out T
	err := r.Conn(ctx, func(c *Conn) error {
		v, err := fn(c)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// QueryBlocking - Query без контекста.
func QueryBlocking[T any](r Runner, fn func(*Conn) (T, error)) (T, error) {
	return Query(context.Background(), r, fn)
}
