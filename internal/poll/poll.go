// Package poll provides the bounded wait used for server readiness and
// replication convergence checks.
package poll

import (
	"context"
	"errors"
	"time"

	apperrors "mysql-backup-coordinator/internal/errors"
)

// ErrTimeout is returned when the condition did not hold before the timeout.
var ErrTimeout = errors.New("poll: timed out waiting for condition")

// Condition reports whether the awaited state has been reached. A
// recoverable error is treated as "not yet"; any other error stops polling.
type Condition func(ctx context.Context) (bool, error)

// Until evaluates cond immediately and then every interval until it returns
// true, a non-recoverable error occurs, ctx is done, or timeout elapses.
// On timeout the last recoverable error, if any, is joined to ErrTimeout.
func Until(ctx context.Context, interval, timeout time.Duration, cond Condition) error {
	if interval <= 0 {
		return apperrors.NewValidationError("poll interval must be positive", nil)
	}
	if timeout <= 0 {
		return apperrors.NewValidationError("poll timeout must be positive", nil)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		ok, err := cond(ctx)
		if err != nil {
			if !apperrors.IsRecoverableError(err) {
				return err
			}
			lastErr = err
		} else if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return apperrors.NewAppError(apperrors.ErrorTypeInterruption, "polling canceled", ctx.Err())
		case <-deadline.C:
			if lastErr != nil {
				return errors.Join(ErrTimeout, lastErr)
			}
			return ErrTimeout
		case <-ticker.C:
		}
	}
}
