package embedder

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxRetries: attempts,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient failure", func(t *testing.T) {
		calls := 0
		result, err := retryWithBackoff(context.Background(), fastRetry(3), func() (string, error) {
			calls++
			if calls < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		})
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, calls)
	})

	t.Run("returns last error after max attempts", func(t *testing.T) {
		calls := 0
		_, err := retryWithBackoff(context.Background(), fastRetry(5), func() (bool, error) {
			calls++
			return false, fmt.Errorf("error %d", calls)
		})
		assert.EqualError(t, err, "error 5")
		assert.Equal(t, 5, calls)
	})

	t.Run("backoff waits between attempts", func(t *testing.T) {
		cfg := RetryConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2}
		start := time.Now()
		_, err := retryWithBackoff(context.Background(), cfg, func() (int, error) {
			return 0, errors.New("always fails")
		})
		assert.Error(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		calls := 0
		base := errors.New("bad request")
		_, err := retryWithBackoff(context.Background(), fastRetry(5), func() (int, error) {
			calls++
			return 0, permanent(base)
		})
		assert.ErrorIs(t, err, base)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		_, err := retryWithBackoff(ctx, fastRetry(5), func() (int, error) {
			calls++
			cancel()
			return 0, errors.New("fails")
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
