package coordinator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stately-io/stately/internal/lock"
	"github.com/stately-io/stately/internal/store"
)

func fastPolicy(retries int) *RetryPolicy {
	return &RetryPolicy{MaxRetries: retries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetryWithBackoff_SucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(5), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("held: %w", lock.ErrLocked)
		}
		return nil
	}, IsRetryable)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_NonRetryableReturnsImmediately(t *testing.T) {
	attempts := 0
	fatal := errors.New("bad config")
	err := RetryWithBackoff(context.Background(), fastPolicy(5), func() error {
		attempts++
		return fatal
	}, IsRetryable)

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_MaxRetriesExceeded(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), fastPolicy(2), func() error {
		attempts++
		return fmt.Errorf("held: %w", lock.ErrLocked)
	}, IsRetryable)

	require.Error(t, err)
	assert.ErrorIs(t, err, lock.ErrLocked)
	assert.Contains(t, err.Error(), "max retries")
	assert.Equal(t, 3, attempts) // initial attempt plus two retries
}

func TestRetryWithBackoff_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, &RetryPolicy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Second}, func() error {
		return fmt.Errorf("held: %w", lock.ErrLocked)
	}, IsRetryable)

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", lock.ErrLocked)))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", store.ErrStorageUnavailable)))
	assert.False(t, IsRetryable(store.ErrConflict))
	assert.False(t, IsRetryable(ErrCycleDetected))
	assert.False(t, IsRetryable(&PartialApplyError{Address: "a", Err: errors.New("boom")}))
}

func TestCalculateBackoff_CappedAtMax(t *testing.T) {
	for attempt := 0; attempt < 10; attempt++ {
		d := calculateBackoff(attempt, time.Second, 5*time.Second)
		assert.LessOrEqual(t, d, 5*time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
