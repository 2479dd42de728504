package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/nats-io/nats.go"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error values returned by the client
var (
	ErrNotConnected      = errors.ErrNoConnection
	ErrCircuitOpen       = errors.ErrCircuitOpen
	ErrConnectionTimeout = errors.ErrConnectionTimeout
)

// Status holds runtime status information for the NATS client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Subscriptions   int
	RTT             time.Duration
}

// Client manages one NATS connection for a framesync process. Connection
// attempts pass through a circuit breaker, and every subscription is tracked
// so Close can release it.
type Client struct {
	url        string
	clientName string
	status     atomic.Value // ConnectionStatus
	logger     *slog.Logger
	clock      clock.Clock
	metrics    *metric.Metrics

	mu   sync.RWMutex
	conn *nats.Conn
	subs map[*nats.Subscription]struct{}

	breaker          *breaker
	circuitThreshold int32
	maxBackoff       time.Duration

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// cleared on Close
	username string
	password string
	token    string

	onDisconnect   func(error)
	onReconnect    func()
	onHealthChange func(bool)

	healthInterval time.Duration
	healthDone     chan struct{}

	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a disconnected client for url
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		clientName:       "framesync-" + uuid.NewString(),
		logger:           discardLogger(),
		clock:            clock.WallClock,
		subs:             make(map[*nats.Subscription]struct{}),
		circuitThreshold: defaultCircuitThreshold,
		maxBackoff:       defaultMaxBackoff,
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
		healthInterval:   10 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.breaker = newBreaker(c.circuitThreshold, c.maxBackoff)
	c.status.Store(StatusDisconnected)
	c.logger.Debug("Created NATS client", "name", c.clientName, "url", url)
	return c, nil
}

// URL returns the NATS server URL
func (m *Client) URL() string {
	return m.url
}

// Name returns the client name announced to the server
func (m *Client) Name() string {
	return m.clientName
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
	if m.metrics != nil {
		m.metrics.RecordNATSStatus(status == StatusConnected)
		m.metrics.RecordCircuitBreakerState(status == StatusCircuitOpen)
	}
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the connection failures since the last successful connect
func (m *Client) Failures() int32 {
	return m.breaker.failures()
}

// Backoff returns how long the circuit stays open the next time it trips
func (m *Client) Backoff() time.Duration {
	return m.breaker.currentBackoff()
}

// recordFailure feeds the breaker and opens the circuit when a round of
// failures completes. An open circuit half-opens after the backoff.
func (m *Client) recordFailure() {
	tripped, wait, total := m.breaker.fail(m.clock.Now())
	if !tripped {
		m.logger.Debug("Recorded connection failure", "failures", total)
		return
	}

	current := m.Status()
	if current == StatusCircuitOpen {
		m.logger.Info("Circuit breaker still open", "next_backoff", m.breaker.currentBackoff())
		return
	}
	if !m.status.CompareAndSwap(current, StatusCircuitOpen) {
		return
	}
	m.setStatus(StatusCircuitOpen)
	m.logger.Warn("Circuit breaker opened", "failures", total, "backoff", wait)
	m.clock.AfterFunc(wait, m.testCircuit)
}

func (m *Client) resetCircuit() {
	m.breaker.reset()
	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the circuit so the next Connect may try again
func (m *Client) testCircuit() {
	if m.status.CompareAndSwap(StatusCircuitOpen, StatusDisconnected) {
		m.setStatus(StatusDisconnected)
		m.logger.Debug("Circuit breaker half-open")
	}
}

// WaitForConnection blocks until the client is connected or ctx ends
func (m *Client) WaitForConnection(ctx context.Context) error {
	for !m.IsHealthy() {
		select {
		case <-ctx.Done():
			return errors.WrapTransient(ErrConnectionTimeout, "Client", "WaitForConnection", ctx.Err().Error())
		case <-m.clock.After(10 * time.Millisecond):
		}
	}
	return nil
}

func (m *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name(m.clientName),
		nats.MaxReconnects(m.maxReconnects),
		nats.ReconnectWait(m.reconnectWait),
		nats.PingInterval(m.pingInterval),
		nats.Timeout(m.timeout),
		nats.DrainTimeout(m.drainTimeout),
		nats.DisconnectErrHandler(m.handleDisconnect),
		nats.ReconnectHandler(m.handleReconnect),
		nats.ClosedHandler(m.handleClosed),
		nats.ErrorHandler(m.handleError),
	}

	if m.username != "" && m.password != "" {
		opts = append(opts, nats.UserInfo(m.username, m.password))
	}
	if m.token != "" {
		opts = append(opts, nats.Token(m.token))
	}

	return opts
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	m.mu.RLock()
	conn := m.conn
	subs := len(m.subs)
	m.mu.RUnlock()

	status := &Status{
		Status:          m.Status(),
		FailureCount:    m.breaker.failures(),
		LastFailureTime: m.breaker.lastFailure(),
		Subscriptions:   subs,
	}

	if conn != nil && conn.IsConnected() {
		if rtt, err := conn.RTT(); err == nil {
			status.RTT = rtt
		}
	}

	return status
}

// Settings is the effective connection tuning of a client
type Settings struct {
	Name          string
	MaxReconnects int
	ReconnectWait time.Duration
	PingInterval  time.Duration
	Timeout       time.Duration
	DrainTimeout  time.Duration
	MaxBackoff    time.Duration
}

// Settings returns the tuning the client dials with, after defaults
func (m *Client) Settings() Settings {
	return Settings{
		Name:          m.clientName,
		MaxReconnects: m.maxReconnects,
		ReconnectWait: m.reconnectWait,
		PingInterval:  m.pingInterval,
		Timeout:       m.timeout,
		DrainTimeout:  m.drainTimeout,
		MaxBackoff:    m.breaker.max,
	}
}

// Connect dials the server. Failures count against the circuit breaker and
// are returned as transient errors; an open circuit refuses without dialing.
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		return errors.WrapTransient(ErrCircuitOpen, "Client", "Connect", "check circuit")
	}

	m.setStatus(StatusConnecting)
	m.logger.Info("Connecting to NATS", "url", m.url)

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	dialed := make(chan dialResult, 1)
	opts := m.buildConnectionOptions()
	go func() {
		conn, err := nats.Connect(m.url, opts...)
		dialed <- dialResult{conn, err}
	}()

	var res dialResult
	select {
	case res = <-dialed:
	case <-ctx.Done():
		// A dial that completes after cancellation is closed unused
		go func() {
			if late := <-dialed; late.conn != nil {
				late.conn.Close()
			}
		}()
		res.err = ctx.Err()
	}

	if res.err != nil {
		m.recordFailure()
		if m.Status() == StatusCircuitOpen {
			return errors.WrapTransient(fmt.Errorf("%w: %w", ErrCircuitOpen, res.err), "Client", "Connect", "establish connection")
		}
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(res.err, "Client", "Connect", "establish connection")
	}

	m.mu.Lock()
	m.conn = res.conn
	m.mu.Unlock()

	m.setStatus(StatusConnected)
	m.resetCircuit()
	m.logger.Info("Connected to NATS", "url", m.url)

	if m.healthInterval > 0 {
		m.startHealthMonitoring()
	}
	m.notifyHealth(true, false)
	return nil
}

// Close releases tracked subscriptions and drains the connection, bounded
// by the drain timeout or ctx, whichever ends first. Later calls are no-ops.
func (m *Client) Close(ctx context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.stopHealthMonitoring()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for sub := range m.subs {
		if err := unsubscribe(sub); err != nil {
			errs = append(errs, errors.Wrap(err, "Client", "Close", "unsubscribe "+sub.Subject))
		}
	}
	m.subs = make(map[*nats.Subscription]struct{})

	if m.conn != nil {
		if err := m.drain(ctx, m.conn); err != nil {
			m.logger.Error("Drain incomplete, force closing", "error", err)
			errs = append(errs, err)
		}
		m.conn.Close()
		m.conn = nil
	}

	m.username, m.password, m.token = "", "", ""
	m.setStatus(StatusDisconnected)

	return stderrors.Join(errs...)
}

func (m *Client) drain(ctx context.Context, conn *nats.Conn) error {
	done := make(chan error, 1)
	go func() { done <- conn.Drain() }()

	select {
	case err := <-done:
		if err != nil {
			return errors.Wrap(err, "Client", "Close", "drain connection")
		}
		return nil
	case <-m.clock.After(m.drainTimeout):
		return errors.WrapTransient(
			fmt.Errorf("%w: drain exceeded %v", ErrConnectionTimeout, m.drainTimeout),
			"Client", "Close", "drain connection")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
	}
}

// unsubscribe ignores errors meaning the subscription is already gone
func unsubscribe(sub *nats.Subscription) error {
	err := sub.Unsubscribe()
	if err == nil || stderrors.Is(err, nats.ErrConnectionClosed) || stderrors.Is(err, nats.ErrBadSubscription) {
		return nil
	}
	return err
}

// RTT returns the round-trip time to the NATS server
func (m *Client) RTT() (time.Duration, error) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}

	return conn.RTT()
}

// Subscribe registers a raw message handler on a subject. The returned
// subscription is tracked by the client until Unsubscribe or Close.
func (m *Client) Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.conn.IsConnected() {
		return nil, ErrNotConnected
	}

	sub, err := m.conn.Subscribe(subject, handler)
	if err != nil {
		return nil, errors.Wrap(err, "Client", "Subscribe", fmt.Sprintf("subscribe to %s", subject))
	}

	m.subs[sub] = struct{}{}
	return sub, nil
}

// Unsubscribe removes a subscription created by Subscribe. Removing a
// subscription twice, or after Close, is a no-op.
func (m *Client) Unsubscribe(sub *nats.Subscription) error {
	if sub == nil {
		return nil
	}

	m.mu.Lock()
	_, tracked := m.subs[sub]
	delete(m.subs, sub)
	m.mu.Unlock()

	if !tracked {
		return nil
	}

	if err := unsubscribe(sub); err != nil {
		return errors.Wrap(err, "Client", "Unsubscribe", "unsubscribe "+sub.Subject)
	}
	return nil
}

// Subscriptions returns the number of tracked subscriptions
func (m *Client) Subscriptions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// Publish publishes a message to a NATS subject
func (m *Client) Publish(_ context.Context, subject string, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	return conn.Publish(subject, data)
}

// Flush blocks until the server has processed everything published so far
func (m *Client) Flush(ctx context.Context) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}

	return conn.FlushWithContext(ctx)
}

func (m *Client) notifyHealth(healthy, async bool) {
	if m.onHealthChange == nil {
		return
	}
	if async {
		go m.onHealthChange(healthy)
		return
	}
	m.onHealthChange(healthy)
}

// NATS connection event handlers. They run on the nats.go callback goroutine,
// so user callbacks are dispatched asynchronously.
func (m *Client) handleDisconnect(_ *nats.Conn, err error) {
	m.setStatus(StatusReconnecting)
	m.logger.Warn("Disconnected from NATS", "error", err)
	if m.onDisconnect != nil {
		go m.onDisconnect(err)
	}
	m.notifyHealth(false, true)
}

func (m *Client) handleReconnect(_ *nats.Conn) {
	m.setStatus(StatusConnected)
	m.resetCircuit()
	if m.metrics != nil {
		m.metrics.RecordNATSReconnect()
	}
	m.logger.Info("Reconnected to NATS", "url", m.url)
	if m.onReconnect != nil {
		go m.onReconnect()
	}
	m.notifyHealth(true, true)
}

func (m *Client) handleClosed(_ *nats.Conn) {
	m.setStatus(StatusDisconnected)
	m.notifyHealth(false, true)
}

func (m *Client) handleError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		m.logger.Error("NATS subscription error", "subject", sub.Subject, "error", err)
		return
	}
	m.logger.Error("NATS error", "error", err)
}

// startHealthMonitoring probes the connection every health interval and
// reports transitions through the health change callback
func (m *Client) startHealthMonitoring() {
	m.stopHealthMonitoring()

	done := make(chan struct{})
	m.mu.Lock()
	m.healthDone = done
	m.mu.Unlock()

	go func() {
		lastHealthy := m.IsHealthy()
		for {
			select {
			case <-done:
				return
			case <-m.clock.After(m.healthInterval):
			}

			healthy, ok := m.probe()
			if !ok {
				continue
			}
			switch status := m.Status(); {
			case healthy && status != StatusConnected:
				m.setStatus(StatusConnected)
			case !healthy && status == StatusConnected:
				m.setStatus(StatusReconnecting)
			}
			if healthy != lastHealthy {
				m.notifyHealth(healthy, false)
			}
			lastHealthy = healthy
		}
	}()
}

// probe reports whether the server answers a ping. ok is false when there is
// no connection to probe.
func (m *Client) probe() (healthy, ok bool) {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()
	if conn == nil {
		return false, false
	}
	if !conn.IsConnected() {
		return false, true
	}
	_, err := conn.RTT()
	return err == nil, true
}

func (m *Client) stopHealthMonitoring() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.healthDone != nil {
		close(m.healthDone)
		m.healthDone = nil
	}
}
