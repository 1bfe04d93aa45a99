package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/mesh-intelligence/ledgercache/pkg/types"
)

// Retry defaults for transient remote failures. Authentication and
// configuration errors are never retried.
const (
	DefaultAttempts      = 6
	DefaultWait          = 2 * time.Second
	DefaultCommitTimeout = 180 * time.Second
)

// callWithRetry runs fn up to attempts times with a fixed wait between
// tries, stopping early on context cancellation or a non-retryable
// error class.
func callWithRetry(ctx context.Context, log *slog.Logger, name string, attempts int, wait time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}
		log.Warn("remote call failed", "call", name, "attempt", attempt, "error", lastErr)
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}
