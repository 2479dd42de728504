package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/c360/framesync/errors"
)

var errNotReady = errors.New("broker not ready")

// failUntil returns fn that fails with errNotReady until its n-th call.
func failUntil(n int, calls *int) func() error {
	return func() error {
		*calls++
		if *calls < n {
			return errNotReady
		}
		return nil
	}
}

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), failUntil(3, &calls))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AttemptsExhausted(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(3), failUntil(10, &calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, errNotReady)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestDo_SingleAttemptWhenUnset(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{}, failUntil(5, &calls))

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledDuringBackoff(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := fastConfig(5)
	cfg.Clock = clk

	calls := 0
	done := make(chan error, 1)
	go func() { done <- Do(ctx, cfg, failUntil(10, &calls)) }()

	// Wait for the backoff timer, then cancel instead of advancing.
	require.NoError(t, clk.WaitAdvance(0, time.Second, 1))
	cancel()

	err := <-done
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "cancelled during backoff for attempt 2")
	assert.Equal(t, 1, calls)
}

func TestDo_CancelledBeforeAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, fastConfig(5), failUntil(10, &calls))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffSchedule(t *testing.T) {
	clk := testclock.NewClock(time.Unix(0, 0))
	cfg := Config{
		MaxAttempts:  4,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     25 * time.Millisecond,
		Multiplier:   10,
		Clock:        clk,
	}

	var delays []time.Duration
	cfg.OnRetry = func(_ int, d time.Duration, err error) {
		assert.ErrorIs(t, err, errNotReady)
		delays = append(delays, d)
	}

	done := make(chan error, 1)
	go func() {
		done <- Do(context.Background(), cfg, func() error { return errNotReady })
	}()

	want := []time.Duration{10 * time.Millisecond, 25 * time.Millisecond, 25 * time.Millisecond}
	for _, d := range want {
		require.NoError(t, clk.WaitAdvance(d, time.Second, 1))
	}

	err := <-done
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Equal(t, want, delays)
}

func TestBackoff_Jitter(t *testing.T) {
	b := &backoff{delay: 100 * time.Millisecond, max: time.Second, factor: 2, jitter: true}

	first := b.next()
	assert.GreaterOrEqual(t, first, 100*time.Millisecond)
	assert.Less(t, first, 125*time.Millisecond)

	second := b.next()
	assert.GreaterOrEqual(t, second, 200*time.Millisecond)
	assert.Less(t, second, 250*time.Millisecond)
}

func TestDo_NonRetryable(t *testing.T) {
	cause := errors.New("bad credentials")
	calls := 0
	err := Do(context.Background(), DefaultConfig(), func() error {
		calls++
		return NonRetryable(cause)
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "non-retryable: bad credentials", err.Error())
	assert.Equal(t, 1, calls)
	assert.Nil(t, NonRetryable(nil))
}

func TestDo_RetryablePredicate(t *testing.T) {
	cfg := fastConfig(5)
	cfg.Retryable = fserrors.IsTransient

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls == 1 {
			return fserrors.WrapTransient(fserrors.ErrConnectionLost, "Test", "Dial", "connect")
		}
		return fserrors.WrapInvalid(fserrors.ErrInvalidConfig, "Test", "Dial", "parse url")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, fserrors.ErrInvalidConfig)
	assert.Equal(t, 2, calls)
}

func TestDo_RejectsBadConfig(t *testing.T) {
	for name, cfg := range map[string]Config{
		"negative initial":  {InitialDelay: -1},
		"negative max":      {MaxDelay: -1},
		"negative factor":   {Multiplier: -1},
		"max below initial": {InitialDelay: time.Second, MaxDelay: time.Millisecond},
	} {
		t.Run(name, func(t *testing.T) {
			called := false
			err := Do(context.Background(), cfg, func() error { called = true; return nil })
			assert.Error(t, err)
			assert.False(t, called)
		})
	}
}

func TestDoWithResult(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		calls++
		if calls < 2 {
			return "", errNotReady
		}
		return "connected", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "connected", got)
	assert.Equal(t, 2, calls)
}

func TestPresets(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		attempts int
		initial  time.Duration
		max      time.Duration
	}{
		{"default", DefaultConfig(), 3, 100 * time.Millisecond, 5 * time.Second},
		{"quick", Quick(), 10, 50 * time.Millisecond, time.Second},
		{"persistent", Persistent(), 30, 200 * time.Millisecond, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.attempts, tt.cfg.MaxAttempts)
			assert.Equal(t, tt.initial, tt.cfg.InitialDelay)
			assert.Equal(t, tt.max, tt.cfg.MaxDelay)
			assert.True(t, tt.cfg.AddJitter)

			_, err := tt.cfg.normalize()
			assert.NoError(t, err)
		})
	}
}

func ExampleDo() {
	cfg := Quick()
	cfg.Retryable = fserrors.IsTransient

	err := Do(context.Background(), cfg, func() error {
		return nil
	})
	_ = err
}
