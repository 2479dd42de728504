package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360/framesync/frame"
	"github.com/c360/framesync/transport"
)

type mockSub struct {
	sub     *transport.Subscription
	handler transport.Handler
	codec   transport.Codec
}

// MockTransport is an in-memory transport.Transport for testing the drain loop.
// Emitted frames are queued on a poll-mode dispatcher, so handlers run inside
// PollOnce exactly as with a real bus. Thread-safe for concurrent use.
type MockTransport struct {
	mu         sync.Mutex
	dispatcher *transport.Dispatcher
	subs       map[string][]*mockSub
	published  map[string]int
	closed     bool

	// Fault injection
	subscribeErr   map[string]error
	unsubscribeErr error
	pollErrs       []error
	onPoll         func(n int)

	// Call tracking
	polls          int
	subscribeCalls []string
	unsubscribes   int
}

var (
	_ transport.Transport = (*MockTransport)(nil)
	_ transport.Publisher = (*MockTransport)(nil)
)

// NewMockTransport creates a mock transport with the given dispatch mode.
func NewMockTransport(mode transport.DispatchMode) *MockTransport {
	d, err := transport.NewDispatcher(transport.DispatcherConfig{Name: "mock", Mode: mode, QueueSize: 1024})
	if err != nil {
		panic(fmt.Sprintf("testutil: mock dispatcher: %v", err))
	}
	return &MockTransport{
		dispatcher:   d,
		subs:         make(map[string][]*mockSub),
		published:    make(map[string]int),
		subscribeErr: make(map[string]error),
	}
}

// Subscribe registers h for topic, or returns the error injected with FailSubscribe.
func (m *MockTransport) Subscribe(ctx context.Context, topic, kind string, h transport.Handler) (*transport.Subscription, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	codec, err := transport.CodecFor(kind)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscribeCalls = append(m.subscribeCalls, topic)

	if m.closed {
		return nil, fmt.Errorf("transport is closed")
	}
	if err := m.subscribeErr[topic]; err != nil {
		return nil, err
	}

	ms := &mockSub{handler: h, codec: codec}
	ms.sub = transport.NewSubscription(topic, kind, func() error {
		return m.release(topic, ms)
	})
	m.subs[topic] = append(m.subs[topic], ms)
	return ms.sub, nil
}

func (m *MockTransport) release(topic string, ms *mockSub) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.unsubscribes++
	subs := m.subs[topic]
	for i, s := range subs {
		if s == ms {
			m.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[topic]) == 0 {
		delete(m.subs, topic)
	}
	return m.unsubscribeErr
}

// Unsubscribe cancels sub. The subscription is removed even when an
// unsubscribe error was injected.
func (m *MockTransport) Unsubscribe(sub *transport.Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

// PollOnce runs the OnPoll hook, returns the next injected poll error if any,
// and otherwise services queued deliveries without waiting.
func (m *MockTransport) PollOnce(ctx context.Context, _ time.Duration) error {
	m.mu.Lock()
	m.polls++
	n := m.polls
	hook := m.onPoll
	var injected error
	if len(m.pollErrs) > 0 {
		injected = m.pollErrs[0]
		m.pollErrs = m.pollErrs[1:]
	}
	m.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if injected != nil {
		return injected
	}
	return m.dispatcher.PollOnce(ctx, 0)
}

// Emit encodes raw and delivers it to every active subscription on topic.
// It returns the number of subscriptions reached.
func (m *MockTransport) Emit(topic string, raw *frame.RawFrame) (int, error) {
	data, err := frame.Marshal(raw)
	if err != nil {
		return 0, err
	}
	return m.EmitPayload(topic, data), nil
}

// EmitPayload delivers an already encoded payload to every active subscription on topic.
func (m *MockTransport) EmitPayload(topic string, payload []byte) int {
	m.mu.Lock()
	m.published[topic]++
	targets := make([]*mockSub, len(m.subs[topic]))
	copy(targets, m.subs[topic])
	m.mu.Unlock()

	for _, ms := range targets {
		m.dispatcher.Deliver(ms.sub, ms.handler, ms.codec, payload)
	}
	return len(targets)
}

// Publish implements transport.Publisher on top of Emit.
func (m *MockTransport) Publish(_ context.Context, topic string, raw *frame.RawFrame) error {
	_, err := m.Emit(topic, raw)
	return err
}

// FailSubscribe makes subsequent Subscribe calls for topic return err.
func (m *MockTransport) FailSubscribe(topic string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribeErr[topic] = err
}

// FailUnsubscribe makes every subsequent unsubscribe report err.
func (m *MockTransport) FailUnsubscribe(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubscribeErr = err
}

// FailNextPolls queues errors returned by the next PollOnce calls, one per call.
func (m *MockTransport) FailNextPolls(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pollErrs = append(m.pollErrs, errs...)
}

// OnPoll installs a hook run at the start of every PollOnce with the 1-based call count.
// Tests use it to advance a test clock or emit frames mid-run.
func (m *MockTransport) OnPoll(fn func(n int)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPoll = fn
}

// PollCount returns how many times PollOnce was called.
func (m *MockTransport) PollCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls
}

// ActiveSubscriptions returns the number of registered subscriptions.
func (m *MockTransport) ActiveSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, subs := range m.subs {
		n += len(subs)
	}
	return n
}

// SubscribeCalls returns the topics passed to Subscribe, in call order.
func (m *MockTransport) SubscribeCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.subscribeCalls))
	copy(out, m.subscribeCalls)
	return out
}

// Unsubscribes returns how many subscriptions were released.
func (m *MockTransport) Unsubscribes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unsubscribes
}

// Published returns how many payloads were emitted on topic.
func (m *MockTransport) Published(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published[topic]
}

// Dispatcher exposes the underlying dispatcher for stats assertions.
func (m *MockTransport) Dispatcher() *transport.Dispatcher {
	return m.dispatcher
}

// Close makes further Subscribe calls fail.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
