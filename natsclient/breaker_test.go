package natsclient

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_Rounds(t *testing.T) {
	b := newBreaker(3, 5*time.Second)
	now := time.Unix(1700000000, 0)

	for i := 0; i < 2; i++ {
		tripped, _, _ := b.fail(now)
		assert.False(t, tripped)
	}
	tripped, wait, total := b.fail(now)
	assert.True(t, tripped)
	assert.Equal(t, time.Second, wait)
	assert.Equal(t, int32(3), total)
	assert.Equal(t, 2*time.Second, b.currentBackoff())
	assert.Equal(t, now, b.lastFailure())

	for round := 0; round < 5; round++ {
		for i := 0; i < 3; i++ {
			b.fail(now)
		}
	}
	assert.Equal(t, 5*time.Second, b.currentBackoff())

	b.reset()
	assert.Zero(t, b.failures())
	assert.Equal(t, initialBackoff, b.currentBackoff())
	assert.True(t, b.lastFailure().IsZero())
}

func TestBreaker_Defaults(t *testing.T) {
	b := newBreaker(0, 0)
	assert.Equal(t, int32(defaultCircuitThreshold), b.threshold)
	assert.Equal(t, defaultMaxBackoff, b.max)
}

func TestCircuitBreaker_HalfOpensAfterBackoff(t *testing.T) {
	clk := testclock.NewClock(time.Unix(1700000000, 0))
	client, err := NewClient("nats://localhost:4222", WithClock(clk), WithCircuitBreakerThreshold(2))
	require.NoError(t, err)

	client.recordFailure()
	client.recordFailure()
	require.Equal(t, StatusCircuitOpen, client.Status())

	require.NoError(t, clk.WaitAdvance(time.Second, time.Second, 1))
	assert.Eventually(t, func() bool { return client.Status() == StatusDisconnected },
		time.Second, 5*time.Millisecond)
}
