// Package retry provides retry logic with exponential backoff and jitter.
//
// The caller decides which errors are worth retrying. For a local SQLite
// database that is usually a lock conflict (SQLITE_BUSY):
//
//	cfg := retry.Config{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 500 * time.Millisecond}
//	err := retry.DoWithRetryable(ctx, cfg, func(ctx context.Context) error {
//	    _, err := conn.ExecContext(ctx, "PRAGMA journal_mode = WAL")
//	    return err
//	}, asyncsqlite.IsBusy)
//
// Errors wrapped with Permanent stop the loop immediately.
// When attempts run out, a *RetriesExceededError wrapping the last error is returned.
package retry
