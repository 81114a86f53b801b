package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

var errBusy = errors.New("database is locked")

func isBusy(err error) bool { return errors.Is(err, errBusy) }

// instant returns a config that never sleeps.
func instant(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     500 * time.Millisecond,
		After: func(time.Duration) <-chan time.Time {
			ch := make(chan time.Time, 1)
			ch <- time.Now()
			return ch
		},
	}
}

func TestBackoff(t *testing.T) {
	config := Config{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second},
		{100, 1 * time.Second},
	}

	for _, tt := range tests {
		if got := config.backoff(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestJitterBounds(t *testing.T) {
	cfg := Config{MaxDelay: 150 * time.Millisecond}
	base := 100 * time.Millisecond

	for i := 0; i < 100; i++ {
		cfg.JitterStrategy = JitterEqual
		if d := cfg.jitter(base); d < base/2 || d >= base {
			t.Fatalf("equal jitter out of bounds: %v", d)
		}
		cfg.JitterStrategy = JitterDecorrelated
		if d := cfg.jitter(base); d < base || d > cfg.MaxDelay {
			t.Fatalf("decorrelated jitter out of bounds: %v", d)
		}
	}

	cfg.JitterStrategy = JitterNone
	if d := cfg.jitter(base); d != base {
		t.Errorf("expected no jitter, got %v", d)
	}
}

func TestDoSuccess(t *testing.T) {
	attempts := 0
	err := DoWithRetryable(context.Background(), instant(3), func(ctx context.Context) error {
		attempts++
		return nil
	}, isBusy)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoRetriesBusyError(t *testing.T) {
	attempts := 0
	err := DoWithRetryable(context.Background(), instant(5), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errBusy
		}
		return nil
	}, isBusy)

	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoNonRetryableError(t *testing.T) {
	attempts := 0
	want := errors.New("syntax error")
	err := DoWithRetryable(context.Background(), instant(5), func(ctx context.Context) error {
		attempts++
		return want
	}, isBusy)

	if !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoPermanentError(t *testing.T) {
	attempts := 0
	err := DoWithRetryable(context.Background(), instant(5), func(ctx context.Context) error {
		attempts++
		return Permanent(errBusy)
	}, isBusy)

	if err != errBusy {
		t.Errorf("expected unwrapped busy error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
	if Permanent(nil) != nil {
		t.Error("expected Permanent(nil) to be nil")
	}
}

func TestDoMaxAttemptsReached(t *testing.T) {
	attempts := 0
	err := DoWithRetryable(context.Background(), instant(3), func(ctx context.Context) error {
		attempts++
		return errBusy
	}, isBusy)

	var exceeded *RetriesExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected RetriesExceededError, got %T", err)
	}
	if exceeded.Attempts != 3 {
		t.Errorf("expected 3 attempts in error, got %d", exceeded.Attempts)
	}
	if !errors.Is(err, errBusy) {
		t.Error("expected error to wrap the last error")
	}
	if !strings.Contains(err.Error(), "gave up after 3 attempts") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := instant(5)
	cfg.After = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	attempts := 0
	err := DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
		attempts++
		return errBusy
	}, isBusy)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestDoDelayBoundedByDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cfg := instant(2)
	cfg.InitialDelay = time.Minute
	cfg.MaxDelay = time.Minute
	var waited time.Duration
	cfg.OnRetry = func(_ int, _ error, d time.Duration) { waited = d }

	_ = DoWithRetryable(ctx, cfg, func(ctx context.Context) error { return errBusy }, isBusy)

	if waited > 50*time.Millisecond {
		t.Errorf("expected delay bounded by deadline, got %v", waited)
	}
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid", Config{MaxAttempts: 3, InitialDelay: time.Millisecond}, false},
		{"no attempts", Config{InitialDelay: time.Millisecond}, true},
		{"no delay", Config{MaxAttempts: 1}, true},
		{"initial above max", Config{MaxAttempts: 1, InitialDelay: time.Second, MaxDelay: time.Millisecond}, true},
		{"shrinking multiplier", Config{MaxAttempts: 1, InitialDelay: time.Millisecond, Multiplier: 0.5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			err := cfg.normalize()
			if (err != nil) != tt.wantErr {
				t.Fatalf("normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if cfg.Multiplier != 2 || cfg.MaxDelay != 30*time.Second || cfg.After == nil {
					t.Errorf("expected defaults to be applied, got %+v", cfg)
				}
			}
		})
	}

	err := DoWithRetryable(context.Background(), Config{}, func(ctx context.Context) error { return nil }, isBusy)
	if err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestOnRetryCallback(t *testing.T) {
	var calls []int
	cfg := instant(3)
	cfg.OnRetry = func(attempt int, err error, nextDelay time.Duration) {
		calls = append(calls, attempt)
		if !errors.Is(err, errBusy) {
			t.Errorf("unexpected error in callback: %v", err)
		}
	}

	_ = DoWithRetryable(context.Background(), cfg, func(ctx context.Context) error {
		return errBusy
	}, isBusy)

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Errorf("expected callbacks for attempts [1 2], got %v", calls)
	}
}
