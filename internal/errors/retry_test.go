package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		BaseDelay:    time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		JitterFactor: 0,
	}
}

func TestRetryTransientEventuallySucceeds(t *testing.T) {
	calls := 0
	result, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &TransientError{Kind: KindTransientConnection, Err: errors.New("connection reset")}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, &PermanentError{Kind: KindModelAuthFailure, Err: errors.New("invalid api key")}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, KindModelAuthFailure, KindOf(err))
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, &TransientError{Kind: KindModelRateLimited, Err: errors.New("429")}
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, 4, calls) // initial attempt plus three retries
}

func TestRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithResult(ctx, fastRetryConfig(), func(ctx context.Context) (int, error) {
		calls++
		return 0, nil
	})

	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestCalculateBackoffIsCapped(t *testing.T) {
	cfg := RetryConfig{BaseDelay: time.Second, MaxDelay: 3 * time.Second, JitterFactor: 0}
	assert.Equal(t, time.Second, calculateBackoff(0, cfg))
	assert.Equal(t, 2*time.Second, calculateBackoff(1, cfg))
	assert.Equal(t, 3*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 3*time.Second, calculateBackoff(10, cfg))
}
