package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func noSleep() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Sleep = func(ctx context.Context, d time.Duration) {}
	return cfg
}

func TestDo_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), noSleep(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransient(t *testing.T) {
	calls := 0
	err := Do(context.Background(), noSleep(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(fmt.Errorf("flaky"), 503)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_DoesNotRetryPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), noSleep(), func(ctx context.Context) error {
		calls++
		return NewPermanentError(fmt.Errorf("constraint violation"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cfg := noSleep()
	cfg.MaxAttempts = 4

	calls := 0
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return NewTransientError(fmt.Errorf("still down"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := Do(ctx, noSleep(), func(ctx context.Context) error {
		calls++
		cancel()
		return NewTransientError(fmt.Errorf("flaky"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	got, err := DoVal(context.Background(), noSleep(), func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := noSleep()
	var attempts []int
	cfg.OnRetry = func(attempt int, err error) {
		attempts = append(attempts, attempt)
	}

	calls := 0
	_ = Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return NewTransientError(fmt.Errorf("flaky"), 503)
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestComputeBackoff_GrowsAndCaps(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
	}
	assert.Equal(t, 100*time.Millisecond, computeBackoff(0, cfg))
	assert.Equal(t, 200*time.Millisecond, computeBackoff(1, cfg))
	assert.Equal(t, 400*time.Millisecond, computeBackoff(2, cfg))
	assert.Equal(t, time.Second, computeBackoff(10, cfg))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewTransientError(fmt.Errorf("x"), 503)))
	assert.True(t, IsTransient(fmt.Errorf("read: connection reset by peer")))
	assert.False(t, IsTransient(errors.New("syntax error")))

	// A permanent wrapper wins even over transient-looking text.
	assert.False(t, IsTransient(NewPermanentError(fmt.Errorf("i/o timeout"))))
}

func TestErrorClassUnwrap(t *testing.T) {
	base := errors.New("base")
	assert.ErrorIs(t, NewTransientError(base, 0), base)
	assert.ErrorIs(t, NewPermanentError(base), base)
	assert.ErrorIs(t, NewFatalError(base), base)
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", NewFatalError(base))))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "status %d", code)
	}
	for _, code := range []int{200, 400, 401, 404, 409} {
		assert.False(t, IsTransientHTTPStatus(code), "status %d", code)
	}
}
