// Package httpclient is a small JSON client for the daemon's admin endpoints.
package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	stdhttp "net/http"
	"net/url"
	"os"
	"strconv"
	"syscall"
	"time"

	"asyncsqlite/pkg/retry"
)

// Client wraps http.Client with logging and retries.
type Client struct {
	hc    *stdhttp.Client
	log   *slog.Logger
	retry retry.Config
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets per-request timeout.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetry overrides the retry configuration. MaxAttempts of 1 disables retries.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
		}
	}
}

// New creates configured Client.
func New(opts ...Option) *Client {
	c := &Client{
		hc:  &stdhttp.Client{Timeout: 5 * time.Second},
		log: slog.Default(),
		retry: retry.Config{
			MaxAttempts:    3,
			InitialDelay:   200 * time.Millisecond,
			MaxDelay:       2 * time.Second,
			Multiplier:     2,
			JitterStrategy: retry.JitterEqual,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError reports an unexpected response status.
type StatusError struct {
	Method     string
	URL        string
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
	}
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
}

// GetJSON fetches rawURL and decodes a 2xx body into out (out may be nil).
// Network failures and 408/429/5xx responses are retried.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	redacted := u.Redacted()

	cfg := c.retry
	onRetry := cfg.OnRetry
	cfg.OnRetry = func(attempt int, err error, next time.Duration) {
		c.log.Warn("http request failed", slog.String("url", redacted), slog.Int("attempt", attempt), slog.Duration("wait", next), slog.Any("error", err))
		if onRetry != nil {
			onRetry(attempt, err, next)
		}
	}
	// Retry-After from the server takes precedence over a shorter backoff
	var hint time.Duration
	after := cfg.After
	if after == nil {
		after = time.After
	}
	cfg.After = func(d time.Duration) <-chan time.Time {
		return after(max(d, hint))
	}

	attempt := 0
	return retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		attempt++
		err := c.get(ctx, u, redacted, attempt, out)
		hint = 0
		var se *StatusError
		if errors.As(err, &se) {
			hint = se.RetryAfter
		}
		return err
	}, isRetryable)
}

func (c *Client) get(ctx context.Context, u *url.URL, redacted string, attempt int, out any) error {
	req, err := stdhttp.NewRequestWithContext(ctx, stdhttp.MethodGet, u.String(), nil)
	if err != nil {
		return retry.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer drainAndClose(resp.Body)

	c.log.Debug("http request", slog.String("url", redacted), slog.Int("status", resp.StatusCode), slog.Duration("dur", time.Since(start)), slog.Int("attempt", attempt))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{
			Method:     stdhttp.MethodGet,
			URL:        redacted,
			Code:       resp.StatusCode,
			Body:       string(body),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// retryAfter parses Retry-After header value.
func retryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(h); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := stdhttp.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// drainAndClose drains up to 512KB from body and closes it.
func drainAndClose(b io.ReadCloser) {
	if b == nil {
		return
	}
	_, _ = io.CopyN(io.Discard, b, 512<<10)
	_ = b.Close()
}

func isRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case 408, 429:
			return true
		}
		return se.Code >= 500
	}
	return isRetryableError(err)
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		if ne, ok := ue.Err.(net.Error); ok && ne.Timeout() {
			return true
		}
		if oe, ok := ue.Err.(*net.OpError); ok {
			if se, ok := oe.Err.(*os.SyscallError); ok {
				switch se.Err {
				case syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED,
					syscall.ENETDOWN, syscall.ENETUNREACH, syscall.EPIPE,
					syscall.EHOSTUNREACH, syscall.ETIMEDOUT:
					return true
				}
			}
		}
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
