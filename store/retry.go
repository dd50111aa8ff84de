package store

import (
	"context"
	"fmt"
	"time"
)

const (
	// DefaultMaxAttempts bounds how often a contended write is retried
	// before the contention error surfaces to the caller.
	DefaultMaxAttempts = 5

	// DefaultRetryBackoff is the first retry delay; it doubles on each
	// subsequent attempt.
	DefaultRetryBackoff = 100 * time.Millisecond
)

// Execute runs op, retrying on writer contention when retryable is true.
// Attempts are bounded and backed off exponentially. Conflicts,
// constraint failures and every other non-contention error propagate
// immediately: retrying them cannot succeed and would only mask bugs.
func (s *Store) Execute(ctx context.Context, name string, retryable bool, op func(ctx context.Context) error) error {
	if !retryable {
		return op(ctx)
	}

	backoff := s.opts.RetryBackoff
	var err error

	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if !IsContention(err) {
			return err
		}
		if attempt == s.opts.MaxAttempts {
			break
		}

		s.logger.Warn("database contention, retrying",
			"op", name,
			"attempt", attempt,
			"backoff", backoff,
		)
		s.metrics.RecordRetry(name, attempt)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", name, s.opts.MaxAttempts, err)
}
