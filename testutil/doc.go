// Package testutil provides testing utilities for framesync packages.
//
// MockTransport is an in-memory transport.Transport:
//   - Thread-safe for concurrent use
//   - Emit/EmitPayload push frames to every subscription on a topic
//   - Handlers run inside PollOnce (poll mode) or inside Emit (async mode)
//   - Fault injection for Subscribe, Unsubscribe and PollOnce
//   - OnPoll hook for advancing a test clock between iterations
//
// Frame fixtures (Mono16Depth, AlignedZeroFrame, ColorFrame, ...) build
// wire frames for the camera streams used throughout the tests.
//
// Example:
//
//	tr := testutil.NewMockTransport(transport.DispatchPoll)
//	clk := testclock.NewClock(time.Unix(0, 0))
//	tr.OnPoll(func(int) { clk.Advance(100 * time.Millisecond) })
//	tr.Emit(testutil.DepthTopic, testutil.Mono16Depth())
package testutil
