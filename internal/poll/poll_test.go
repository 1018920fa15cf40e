package poll

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "mysql-backup-coordinator/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntil(t *testing.T) {
	t.Run("returns once the condition holds", func(t *testing.T) {
		calls := 0
		err := Until(context.Background(), 5*time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
			calls++
			return calls >= 3, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("times out when the condition never holds", func(t *testing.T) {
		err := Until(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) (bool, error) {
			return false, nil
		})

		assert.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("recoverable errors keep polling and surface on timeout", func(t *testing.T) {
		probeErr := apperrors.NewRecoverableError(apperrors.ErrorTypeConnectivity, "refused", nil)
		err := Until(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(ctx context.Context) (bool, error) {
			return false, probeErr
		})

		assert.ErrorIs(t, err, ErrTimeout)
		assert.ErrorIs(t, err, probeErr)
	})

	t.Run("non-recoverable errors stop immediately", func(t *testing.T) {
		fatal := errors.New("boom")
		calls := 0
		err := Until(context.Background(), 5*time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
			calls++
			return false, fatal
		})

		assert.ErrorIs(t, err, fatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation interrupts", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := Until(ctx, 5*time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
			return false, nil
		})

		assert.Equal(t, apperrors.ErrorTypeInterruption, apperrors.GetErrorType(err))
	})

	t.Run("rejects non-positive bounds", func(t *testing.T) {
		cond := func(ctx context.Context) (bool, error) { return true, nil }
		assert.Error(t, Until(context.Background(), 0, time.Second, cond))
		assert.Error(t, Until(context.Background(), time.Second, 0, cond))
	})
}
