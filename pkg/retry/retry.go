package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// JitterStrategy defines the jitter strategy to use
type JitterStrategy int

const (
	// JitterNone disables jitter
	JitterNone JitterStrategy = iota
	// JitterEqual keeps half of the delay and randomizes the other half
	JitterEqual
	// JitterDecorrelated waits between the delay and twice the delay
	JitterDecorrelated
)

// Config defines retry configuration
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first one)
	MaxAttempts int
	// InitialDelay is the delay before the second attempt
	InitialDelay time.Duration
	// MaxDelay caps the delay between attempts (defaults to 30s)
	MaxDelay time.Duration
	// Multiplier is the exponential backoff multiplier (defaults to 2)
	Multiplier float64
	// JitterStrategy defines the jitter algorithm to use
	JitterStrategy JitterStrategy
	// OnRetry is called before each wait with the failed attempt number
	OnRetry func(attempt int, err error, nextDelay time.Duration)
	// After creates a timer channel (defaults to time.After)
	After func(d time.Duration) <-chan time.Time
}

func (c *Config) normalize() error {
	if c.MaxAttempts <= 0 {
		return errors.New("retry: MaxAttempts must be positive")
	}
	if c.InitialDelay <= 0 {
		return errors.New("retry: InitialDelay must be positive")
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 30 * time.Second
	}
	if c.InitialDelay > c.MaxDelay {
		return errors.New("retry: InitialDelay cannot be greater than MaxDelay")
	}
	if c.Multiplier == 0 {
		c.Multiplier = 2
	}
	if c.Multiplier < 1 {
		return errors.New("retry: Multiplier must be >= 1")
	}
	if c.After == nil {
		c.After = time.After
	}
	return nil
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableFunc determines if an error should trigger a retry
type IsRetryableFunc func(err error) bool

// RetriesExceededError is returned when all attempts failed
type RetriesExceededError struct {
	LastError     error
	Attempts      int
	TotalDuration time.Duration
}

func (e *RetriesExceededError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts in %s: %v", e.Attempts, e.TotalDuration, e.LastError)
}

func (e *RetriesExceededError) Unwrap() error {
	return e.LastError
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that DoWithRetryable returns it immediately without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// DoWithRetryable calls fn until it succeeds, returns an error isRetryable rejects,
// runs out of attempts or ctx is done.
func DoWithRetryable(ctx context.Context, config Config, fn RetryableFunc, isRetryable IsRetryableFunc) error {
	cfg := config
	if err := cfg.normalize(); err != nil {
		return err
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var p *permanentError
		if errors.As(lastErr, &p) {
			return p.err
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		if !isRetryable(lastErr) {
			return lastErr
		}

		delay := cfg.jitter(cfg.backoff(attempt))
		if deadline, ok := ctx.Deadline(); ok {
			delay = min(delay, time.Until(deadline))
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastErr, delay)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cfg.After(delay):
		}
	}

	return &RetriesExceededError{
		LastError:     lastErr,
		Attempts:      cfg.MaxAttempts,
		TotalDuration: time.Since(start),
	}
}

// backoff returns the delay after the given failed attempt.
func (c Config) backoff(attempt int) time.Duration {
	delay := c.InitialDelay
	for i := 1; i < attempt; i++ {
		// overflow guard
		if delay > time.Duration(float64(c.MaxDelay)/c.Multiplier) {
			return c.MaxDelay
		}
		delay = time.Duration(float64(delay) * c.Multiplier)
	}
	return min(delay, c.MaxDelay)
}

func (c Config) jitter(delay time.Duration) time.Duration {
	if delay <= 1 {
		return delay
	}
	switch c.JitterStrategy {
	case JitterEqual:
		half := delay / 2
		return half + rand.N(delay-half)
	case JitterDecorrelated:
		return min(delay+rand.N(delay), c.MaxDelay)
	default:
		return delay
	}
}
