package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(n int) RetryConfig {
	return RetryConfig{
		MaxRetries:   n,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	// Given: a function failing twice before succeeding
	calls := 0
	fn := func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}

	// When: retrying with 3 retries
	err := Retry(context.Background(), fastRetry(3), fn)

	// Then: it succeeds on the third attempt
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	sentinel := errors.New("down")

	err := Retry(context.Background(), fastRetry(2), func() error {
		calls++
		return sentinel
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "failed after 2 retries")
}

func TestRetry_ShouldRetryStopsEarly(t *testing.T) {
	calls := 0
	cfg := fastRetry(5)
	cfg.ShouldRetry = IsRetryable

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return ConfigurationError("not retryable", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsConfiguration(err))
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, fastRetry(3), func() error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(2), func() ([]float64, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("once")
		}
		return []float64{0.5, 0.25}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, got)
}

func TestRetryWithResult_ZeroValueOnFailure(t *testing.T) {
	got, err := RetryWithResult(context.Background(), fastRetry(1), func() (int, error) {
		return 42, errors.New("nope")
	})

	require.Error(t, err)
	assert.Zero(t, got)
}
