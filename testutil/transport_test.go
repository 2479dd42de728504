package testutil

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framesync/frame"
	"github.com/c360/framesync/transport"
)

func TestMockTransport_PollDelivers(t *testing.T) {
	tr := NewMockTransport(transport.DispatchPoll)
	var got []*frame.RawFrame

	sub, err := tr.Subscribe(context.Background(), DepthTopic, transport.KindImage, func(raw *frame.RawFrame) {
		got = append(got, raw)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.ActiveSubscriptions())

	n, err := tr.Emit(DepthTopic, Mono16Depth())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, got)

	require.NoError(t, tr.PollOnce(context.Background(), 0))
	require.Len(t, got, 1)
	assert.Equal(t, "mono16", got[0].Encoding)

	require.NoError(t, tr.Unsubscribe(sub))
	require.NoError(t, tr.Unsubscribe(sub))
	assert.Equal(t, 0, tr.ActiveSubscriptions())
	assert.Equal(t, 1, tr.Unsubscribes())

	n, err = tr.Emit(DepthTopic, Mono16Depth())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, tr.Published(DepthTopic))
}

func TestMockTransport_AsyncDeliversOnEmit(t *testing.T) {
	tr := NewMockTransport(transport.DispatchAsync)
	calls := 0

	_, err := tr.Subscribe(context.Background(), ColorTopic, transport.KindImage, func(*frame.RawFrame) { calls++ })
	require.NoError(t, err)

	_, err = tr.Emit(ColorTopic, ColorFrame(2, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestMockTransport_FaultInjection(t *testing.T) {
	tr := NewMockTransport(transport.DispatchPoll)
	boom := stderrors.New("boom")

	tr.FailSubscribe(AlignedTopic, boom)
	_, err := tr.Subscribe(context.Background(), AlignedTopic, transport.KindImage, func(*frame.RawFrame) {})
	assert.ErrorIs(t, err, boom)

	sub, err := tr.Subscribe(context.Background(), DepthTopic, transport.KindImage, func(*frame.RawFrame) {})
	require.NoError(t, err)

	tr.FailUnsubscribe(boom)
	assert.ErrorIs(t, tr.Unsubscribe(sub), boom)
	assert.Equal(t, 0, tr.ActiveSubscriptions())

	tr.FailNextPolls(boom)
	assert.ErrorIs(t, tr.PollOnce(context.Background(), 0), boom)
	assert.NoError(t, tr.PollOnce(context.Background(), 0))

	assert.Equal(t, []string{AlignedTopic, DepthTopic}, tr.SubscribeCalls())
}

func TestMockTransport_OnPoll(t *testing.T) {
	tr := NewMockTransport(transport.DispatchPoll)
	var seen []int
	tr.OnPoll(func(n int) { seen = append(seen, n) })

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.PollOnce(context.Background(), 0))
	}
	assert.Equal(t, []int{1, 2, 3}, seen)
	assert.Equal(t, 3, tr.PollCount())
}

func TestFixtures(t *testing.T) {
	d, err := frame.Decode(Mono16Depth())
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, d.Shape)

	aligned, err := frame.Decode(AlignedZeroFrame())
	require.NoError(t, err)
	assert.Equal(t, 307200, aligned.Size())

	color, err := frame.Decode(ColorFrame(4, 3))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 3}, color.Shape)

	_, err = frame.Decode(UnsupportedFrame())
	assert.Error(t, err)
}
