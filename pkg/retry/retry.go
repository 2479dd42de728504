// Package retry provides exponential backoff retry logic for transport startup
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/clock"
)

const (
	defaultInitialDelay = 100 * time.Millisecond
	defaultMaxDelay     = 5 * time.Second
	defaultMultiplier   = 2.0
	maxMultiplier       = 1000
)

var (
	jitterMu  sync.Mutex
	jitterRnd = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NonRetryableError marks an attempt error that ends the loop at once.
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return "non-retryable: " + e.Err.Error()
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps err so that Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err carries a NonRetryable mark.
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config controls the attempt count and the backoff schedule.
type Config struct {
	MaxAttempts  int           // total attempts; values below 1 mean a single attempt
	InitialDelay time.Duration // delay after the first failure
	MaxDelay     time.Duration // ceiling for the grown delay
	Multiplier   float64       // growth factor per failure
	AddJitter    bool          // add up to 25% on top of each delay

	// Retryable decides whether an attempt's error is worth another try.
	// Nil retries everything not marked with NonRetryable.
	Retryable func(error) bool
	// Clock times the backoff; nil uses the wall clock
	Clock clock.Clock
	// OnRetry, if set, is called before each backoff sleep
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns 3 attempts between 100ms and 5s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: defaultInitialDelay,
		MaxDelay:     defaultMaxDelay,
		Multiplier:   defaultMultiplier,
		AddJitter:    true,
	}
}

// Quick returns 10 attempts between 50ms and 1s, for startup.
func Quick() Config {
	return Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   1.5,
		AddJitter:    true,
	}
}

// Persistent returns a config for a bus that may come up well after the process
func Persistent() Config {
	return Config{
		MaxAttempts:  30,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   defaultMultiplier,
		AddJitter:    true,
	}
}

// normalize rejects negative settings and fills zero values with defaults.
func (c Config) normalize() (Config, error) {
	switch {
	case c.InitialDelay < 0:
		return c, errors.New("retry: InitialDelay cannot be negative")
	case c.MaxDelay < 0:
		return c, errors.New("retry: MaxDelay cannot be negative")
	case c.Multiplier < 0:
		return c, errors.New("retry: Multiplier cannot be negative")
	}

	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay == 0 {
		c.InitialDelay = defaultInitialDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = defaultMaxDelay
	}
	if c.Multiplier == 0 {
		c.Multiplier = defaultMultiplier
	}
	c.Multiplier = min(c.Multiplier, maxMultiplier)
	if c.MaxDelay < c.InitialDelay {
		return c, errors.New("retry: MaxDelay must be >= InitialDelay")
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	return c, nil
}

func (c Config) shouldRetry(err error) bool {
	if IsNonRetryable(err) {
		return false
	}
	return c.Retryable == nil || c.Retryable(err)
}

// backoff yields the sleep before each retry and grows the base delay.
type backoff struct {
	delay  time.Duration
	max    time.Duration
	factor float64
	jitter bool
}

func (b *backoff) next() time.Duration {
	d := b.delay
	if b.jitter && d >= 4 {
		jitterMu.Lock()
		d += time.Duration(jitterRnd.Int63n(int64(b.delay / 4)))
		jitterMu.Unlock()
	}

	grown := float64(b.delay) * b.factor
	if grown >= float64(b.max) {
		b.delay = b.max
	} else {
		b.delay = time.Duration(grown)
	}
	return d
}

// Do calls fn until it succeeds, the error is not retryable, attempts run out
// or ctx ends.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	cfg, err := cfg.normalize()
	if err != nil {
		return err
	}

	b := &backoff{
		delay:  cfg.InitialDelay,
		max:    cfg.MaxDelay,
		factor: cfg.Multiplier,
		jitter: cfg.AddJitter,
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !cfg.shouldRetry(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, ctx.Err())
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
		}

		wait := b.next()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, wait, lastErr)
		}

		timer := cfg.Clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled during backoff for attempt %d: %w", attempt+1, ctx.Err())
		case <-timer.Chan():
		}
	}
}

// DoWithResult is Do for functions that also return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}
