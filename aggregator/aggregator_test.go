package aggregator

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/metric"
	"github.com/c360/framesync/stats"
	"github.com/c360/framesync/testutil"
	"github.com/c360/framesync/transport"
)

const step = 300 * time.Millisecond

func cameraSpecs() []StreamSpec {
	return []StreamSpec{
		{Name: stats.DepthStream, Topic: testutil.DepthTopic},
		{Name: stats.ColorStream, Topic: testutil.ColorTopic},
		{Name: stats.AlignedDepthStream, Topic: testutil.AlignedTopic},
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	mock  *testutil.MockTransport
	clock *testclock.Clock
	agg   *Aggregator
}

func newFixture(t *testing.T, mode transport.DispatchMode, cfg Config) *fixture {
	t.Helper()
	mock := testutil.NewMockTransport(mode)
	clk := testclock.NewClock(time.Unix(0, 0))
	agg, err := New(cfg, cameraSpecs(), Deps{
		Transport: mock,
		Logger:    quietLogger(),
		Clock:     clk,
	})
	require.NoError(t, err)
	return &fixture{mock: mock, clock: clk, agg: agg}
}

// advanceEachPoll moves the clock forward by d at the start of every poll and
// runs extra, if set, afterwards.
func (f *fixture) advanceEachPoll(d time.Duration, extra func(n int)) {
	f.mock.OnPoll(func(n int) {
		f.clock.Advance(d)
		if extra != nil {
			extra(n)
		}
	})
}

func TestNew_Validation(t *testing.T) {
	mock := testutil.NewMockTransport(transport.DispatchPoll)

	tests := []struct {
		name    string
		cfg     Config
		specs   []StreamSpec
		deps    Deps
		sentinel error
		fatal   bool
	}{
		{
			name:     "missing transport",
			specs:    cameraSpecs(),
			sentinel: errors.ErrMissingConfig,
			fatal:    true,
		},
		{
			name:     "no streams",
			deps:     Deps{Transport: mock},
			sentinel: errors.ErrNoStreams,
			fatal:    true,
		},
		{
			name:     "empty name",
			specs:    []StreamSpec{{Topic: "/a"}},
			deps:     Deps{Transport: mock},
			sentinel: errors.ErrInvalidConfig,
		},
		{
			name:     "empty topic",
			specs:    []StreamSpec{{Name: "a"}},
			deps:     Deps{Transport: mock},
			sentinel: errors.ErrInvalidConfig,
		},
		{
			name:     "duplicate name",
			specs:    []StreamSpec{{Name: "a", Topic: "/a"}, {Name: "a", Topic: "/b"}},
			deps:     Deps{Transport: mock},
			sentinel: errors.ErrInvalidConfig,
		},
		{
			name:     "bad timeout mode",
			cfg:      Config{TimeoutMode: "never"},
			specs:    cameraSpecs(),
			deps:     Deps{Transport: mock},
			sentinel: errors.ErrInvalidConfig,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg, err := New(tt.cfg, tt.specs, tt.deps)
			require.Error(t, err)
			assert.Nil(t, agg)
			assert.ErrorIs(t, err, tt.sentinel)
			if tt.fatal {
				assert.True(t, errors.IsFatal(err))
			} else {
				assert.True(t, errors.IsInvalid(err))
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	agg, err := New(Config{}, []StreamSpec{{Name: "a", Topic: "/a"}},
		Deps{Transport: testutil.NewMockTransport(transport.DispatchPoll)})
	require.NoError(t, err)

	assert.Equal(t, DefaultPollInterval, agg.cfg.PollInterval)
	assert.Equal(t, TimeoutFromActivity, agg.cfg.TimeoutMode)
	assert.Equal(t, transport.KindImage, agg.specs[0].Kind)
	assert.Equal(t, StateIdle, agg.State())
	assert.Equal(t, []string{"a"}, agg.Store().Streams())
}

func TestRun_TimeoutWithoutFrames(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second})
	f.advanceEachPoll(step, nil)

	result, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, result.State)
	// 0.3s, 0.6s, 0.9s, 1.2s
	assert.Equal(t, 4, result.Polls)
	assert.Equal(t, 0, result.PollErrors)
	assert.Equal(t, 1200*time.Millisecond, result.Elapsed)
	assert.Equal(t, StateTerminated, f.agg.State())

	assert.Equal(t, 0, f.agg.ActiveSubscriptions())
	assert.Equal(t, 0, f.mock.ActiveSubscriptions())
	assert.Equal(t, 3, f.mock.Unsubscribes())

	require.Len(t, result.Snapshot, 3)
	for name, entry := range result.Snapshot {
		assert.False(t, entry.HasData(), name)
	}
}

func TestRun_ActivityExtendsTimeout(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second})
	f.advanceEachPoll(step, func(n int) {
		if n == 2 {
			_, err := f.mock.Emit(testutil.DepthTopic, testutil.Mono16Depth())
			assert.NoError(t, err)
		}
	})

	result, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	// Last activity at 0.6s; 1.5s is within the timeout, 1.8s is not.
	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, 6, result.Polls)
	assert.True(t, result.Snapshot[stats.DepthStream].HasData())
}

func TestRun_TimeoutFromStartIgnoresActivity(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second, TimeoutMode: TimeoutFromStart})
	f.advanceEachPoll(step, func(n int) {
		_, err := f.mock.Emit(testutil.DepthTopic, testutil.Mono16Depth())
		assert.NoError(t, err)
	})

	result, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, 4, result.Polls)
	assert.Equal(t, uint64(4), result.Snapshot[stats.DepthStream].Frames)
}

func TestRun_UnboundedEndsOnCancel(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.advanceEachPoll(time.Hour, func(n int) {
		if n == 5 {
			cancel()
		}
	})

	result, err := f.agg.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 5, result.Polls)
	assert.Equal(t, 0, f.mock.ActiveSubscriptions())
}

func TestRun_CancelledBeforeFirstPoll(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 0, result.Polls)
	assert.Equal(t, 3, f.mock.Unsubscribes())
}

func TestRun_PollErrorsAreRecovered(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second, TimeoutMode: TimeoutFromStart})
	f.mock.FailNextPolls(
		errors.WrapTransient(errors.ErrPollFailed, "Mock", "PollOnce", "poll"),
		errors.WrapTransient(errors.ErrConnectionLost, "Mock", "PollOnce", "poll"),
	)
	f.advanceEachPoll(step, func(n int) {
		if n == 3 {
			_, err := f.mock.Emit(testutil.ColorTopic, testutil.ColorFrame(4, 2))
			assert.NoError(t, err)
		}
	})

	result, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, 4, result.Polls)
	assert.Equal(t, 2, result.PollErrors)
	assert.True(t, result.Snapshot[stats.ColorStream].HasData())
}

func TestRun_SubscribeFailureRollsBack(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second})
	cause := stderrors.New("broker refused")
	f.mock.FailSubscribe(testutil.ColorTopic, cause)

	result, err := f.agg.Run(context.Background())
	require.Error(t, err)

	assert.True(t, errors.IsFatal(err))
	assert.ErrorIs(t, err, errors.ErrSubscriptionFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), stats.ColorStream)

	assert.Equal(t, StateTerminated, result.State)
	assert.Equal(t, 0, f.mock.PollCount())
	assert.Equal(t, []string{testutil.DepthTopic, testutil.ColorTopic}, f.mock.SubscribeCalls())
	assert.Equal(t, 0, f.mock.ActiveSubscriptions())
	assert.Equal(t, 0, f.agg.ActiveSubscriptions())
}

func TestRun_UnsubscribeFailureIsLogged(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second})
	f.mock.FailUnsubscribe(stderrors.New("gone"))
	f.advanceEachPoll(step, nil)

	result, err := f.agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, 3, f.mock.Unsubscribes())
	assert.Equal(t, 0, f.agg.ActiveSubscriptions())
}

func TestRun_OnlyOnce(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second})
	f.advanceEachPoll(step, nil)

	_, err := f.agg.Run(context.Background())
	require.NoError(t, err)

	_, err = f.agg.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrAlreadyRunning)
	assert.Len(t, f.mock.SubscribeCalls(), 3)
}

func TestRun_CameraScenario(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second})
	f.advanceEachPoll(step, func(n int) {
		if n != 1 {
			return
		}
		_, err := f.mock.Emit(testutil.DepthTopic, testutil.Mono16Depth())
		assert.NoError(t, err)
		_, err = f.mock.Emit(testutil.ColorTopic, testutil.ColorFrame(4, 2))
		assert.NoError(t, err)
		_, err = f.mock.Emit(testutil.AlignedTopic, testutil.AlignedZeroFrame())
		assert.NoError(t, err)
	})

	result, err := f.agg.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Snapshot, 3)

	depth := result.Snapshot[stats.DepthStream]
	require.True(t, depth.HasData())
	assert.Equal(t, []int{2, 2}, depth.Stats.Shape)
	assert.InDelta(t, 0.75, depth.Stats.ValidRatio, 1e-9)
	assert.InDelta(t, 20.0, depth.Stats.MeanNonZero, 1e-9)
	assert.True(t, time.Unix(0, 0).Add(step).Equal(depth.Received))

	color := result.Snapshot[stats.ColorStream]
	require.True(t, color.HasData())
	assert.Equal(t, []int{2, 4, 3}, color.Stats.Shape)
	assert.Equal(t, 3, color.Stats.Channels)
	assert.InDelta(t, 1.0, color.Stats.ValidRatio, 1e-9)

	aligned := result.Snapshot[stats.AlignedDepthStream]
	require.True(t, aligned.HasData())
	assert.Equal(t, []int{480, 640}, aligned.Stats.Shape)
	assert.Zero(t, aligned.Stats.ValidRatio)
	assert.True(t, math.IsNaN(aligned.Stats.MeanNonZero))
	assert.True(t, aligned.Stats.SizeConsistent)
	// Missing depth is stored as background
	assert.Equal(t, uint16(stats.DefaultDepthClip), aligned.Frame.U16[0])
	assert.Equal(t, uint16(stats.DefaultDepthClip), aligned.Frame.U16[len(aligned.Frame.U16)-1])
}

func TestRun_SnapshotWhileRunning(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.advanceEachPoll(step, func(n int) {
		switch n {
		case 1:
			_, err := f.mock.Emit(testutil.DepthTopic, testutil.DepthFrame(4, 4, 100))
			assert.NoError(t, err)
		case 2:
			assert.Equal(t, StateRunning, f.agg.State())
			assert.Equal(t, 3, f.agg.ActiveSubscriptions())
			entry, ok := f.agg.Store().Get(stats.DepthStream)
			assert.True(t, ok)
			assert.True(t, entry.HasData())
			assert.False(t, f.agg.Snapshot()[stats.ColorStream].HasData())
			cancel()
		}
	})

	result, err := f.agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, 2, result.Polls)
}

func TestRun_AsyncDispatch(t *testing.T) {
	f := newFixture(t, transport.DispatchAsync, Config{Timeout: -1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.advanceEachPoll(step, func(n int) {
		if n == 1 {
			// Async handlers run on the delivering goroutine
			_, err := f.mock.Emit(testutil.DepthTopic, testutil.Mono16Depth())
			assert.NoError(t, err)
			assert.True(t, f.agg.Snapshot()[stats.DepthStream].HasData())
		}
		if n == 3 {
			cancel()
		}
	})

	result, err := f.agg.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, result.State)
	assert.Equal(t, uint64(1), result.Snapshot[stats.DepthStream].Frames)
}

func TestRun_DecodeFailureKeepsPreviousEntry(t *testing.T) {
	f := newFixture(t, transport.DispatchPoll, Config{Timeout: time.Second, TimeoutMode: TimeoutFromStart})
	f.advanceEachPoll(step, func(n int) {
		switch n {
		case 1:
			_, err := f.mock.Emit(testutil.DepthTopic, testutil.Mono16Depth())
			assert.NoError(t, err)
		case 2:
			_, err := f.mock.Emit(testutil.DepthTopic, testutil.UnsupportedFrame())
			assert.NoError(t, err)
			assert.Equal(t, 1, f.mock.EmitPayload(testutil.DepthTopic, []byte{0xc1}))
		}
	})

	result, err := f.agg.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.PollErrors)

	depth := result.Snapshot[stats.DepthStream]
	require.True(t, depth.HasData())
	assert.Equal(t, uint64(1), depth.Frames)
	assert.InDelta(t, 0.75, depth.Stats.ValidRatio, 1e-9)
	assert.Equal(t, uint64(1), f.mock.Dispatcher().Stats().Dropped)
}

func TestRun_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	mock := testutil.NewMockTransport(transport.DispatchPoll)
	clk := testclock.NewClock(time.Unix(0, 0))

	agg, err := New(Config{Timeout: time.Second}, cameraSpecs(), Deps{
		Transport: mock,
		Logger:    quietLogger(),
		Registry:  registry,
		Clock:     clk,
	})
	require.NoError(t, err)

	mock.FailNextPolls(errors.WrapTransient(errors.ErrPollFailed, "Mock", "PollOnce", "poll"))
	mock.OnPoll(func(n int) {
		clk.Advance(step)
		if n == 2 {
			_, err := mock.Emit(testutil.DepthTopic, testutil.Mono16Depth())
			assert.NoError(t, err)
			_, err = mock.Emit(testutil.DepthTopic, testutil.UnsupportedFrame())
			assert.NoError(t, err)
		}
	})

	_, err = agg.Run(context.Background())
	require.NoError(t, err)

	core := registry.CoreMetrics()
	assert.Equal(t, 2.0, promtestutil.ToFloat64(core.FramesReceived.WithLabelValues(stats.DepthStream)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(core.FramesStored.WithLabelValues(stats.DepthStream)))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(core.FramesDropped.WithLabelValues(stats.DepthStream, "decode")))
	assert.InDelta(t, 0.75, promtestutil.ToFloat64(core.ValidRatio.WithLabelValues(stats.DepthStream)), 1e-9)
	assert.Equal(t, 1.0, promtestutil.ToFloat64(core.PollErrors))
	assert.Equal(t, 0.0, promtestutil.ToFloat64(core.ActiveSubscriptions))
	assert.Equal(t, float64(StateTerminated), promtestutil.ToFloat64(core.LoopState))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "timed_out", StateTimedOut.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "terminated", StateTerminated.String())
	assert.Equal(t, "unknown", State(42).String())

	text, err := StateTimedOut.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "timed_out", string(text))
}
