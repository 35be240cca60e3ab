package shared

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DefaultConflictAttempts bounds retries of SQLite conflict errors.
const DefaultConflictAttempts = 3

// RetryOnConflict runs op and retries it with exponential backoff while it
// fails with SQLITE_BUSY or "database is locked". Other errors return
// immediately.
func RetryOnConflict(ctx context.Context, name string, attempts uint, op func() error) error {
	if attempts == 0 {
		attempts = DefaultConflictAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 500 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if IsSQLiteConflictError(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, delay time.Duration) {
			slog.Debug("SQLite conflict, retrying", "op", name, "delay", delay, "error", err)
		}),
	)
	return err
}
