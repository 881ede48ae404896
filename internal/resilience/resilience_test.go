package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"oneiric/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) config.RetryPolicy {
	return config.RetryPolicy{
		Attempts:  attempts,
		BaseDelay: time.Millisecond,
		MaxDelay:  5 * time.Millisecond,
		Jitter:    0.2,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(4), "test", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("permanent")
	err := Retry(context.Background(), fastPolicy(3), "test", func(ctx context.Context) error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetryZeroAttemptsMeansOneTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), config.RetryPolicy{}, "test", func(ctx context.Context) error {
		calls++
		return errors.New("boom")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, config.RetryPolicy{Attempts: 10, BaseDelay: 50 * time.Millisecond}, "test", func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestBackoffDelayCapsAtMax(t *testing.T) {
	policy := config.RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, backoffDelay(policy, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(policy, 2))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(policy, 3))
	assert.Equal(t, 300*time.Millisecond, backoffDelay(policy, 8))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewBreaker("test", config.BreakerPolicy{MaxFailures: 3, ResetTimeout: 50 * time.Millisecond})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
	}

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	require.Error(t, err)
	assert.True(t, IsBreakerOpen(err))

	// After the reset window the breaker half-opens and a success closes it.
	time.Sleep(60 * time.Millisecond)
	_, err = cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	_, err = cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.NoError(t, err)
}
