package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"

	"github.com/c360/framesync/aggregator"
	"github.com/c360/framesync/store"
)

// Defaults applied by New
const (
	DefaultInterval     = time.Second
	DefaultWriteTimeout = 10 * time.Second
	readTimeout         = 60 * time.Second
)

// Source is what the monitor reports on. *aggregator.Aggregator satisfies it.
type Source interface {
	State() aggregator.State
	Snapshot() map[string]store.Entry
}

// Config tunes the push stream
type Config struct {
	// Interval between pushed snapshots
	Interval time.Duration
	// WriteTimeout bounds a single websocket write
	WriteTimeout time.Duration
}

// Deps are the monitor's collaborators; nil fields get defaults
type Deps struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// View is the document served on both endpoints
type View struct {
	State   aggregator.State       `json:"state"`
	At      time.Time              `json:"at"`
	Streams map[string]store.Entry `json:"streams"`
}

type client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (c *client) write(msgType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(msgType, data)
}

// Monitor serves aggregate snapshots over HTTP and websocket
type Monitor struct {
	source   Source
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	upgrader websocket.Upgrader

	clientsMu sync.Mutex
	clients   map[*client]struct{}
	wg        sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a monitor over source
func New(source Source, cfg Config, deps Deps) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		source: source,
		cfg:    cfg,
		clock:  clk,
		logger: logger.With("component", "monitor"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
		done:    make(chan struct{}),
	}
}

// Register mounts the snapshot endpoint at prefix and the push stream at prefix+"/ws"
func (m *Monitor) Register(mux interface {
	Handle(pattern string, h http.Handler)
}, prefix string) {
	mux.Handle(prefix, http.HandlerFunc(m.ServeSnapshot))
	mux.Handle(prefix+"/ws", http.HandlerFunc(m.ServeWS))
}

// View captures the current state and per-stream entries
func (m *Monitor) View() View {
	return View{
		State:   m.source.State(),
		At:      m.clock.Now().UTC(),
		Streams: m.source.Snapshot(),
	}
}

// ServeSnapshot writes the current View as JSON
func (m *Monitor) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(m.View()); err != nil {
		m.logger.Warn("Snapshot encode failed", "error", err)
	}
}

// ServeWS upgrades the request and pushes a View every Interval until the
// client goes away or the monitor is closed
func (m *Monitor) ServeWS(w http.ResponseWriter, r *http.Request) {
	if m.isClosed() {
		http.Error(w, "monitor closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn}
	m.clientsMu.Lock()
	if m.isClosed() {
		m.clientsMu.Unlock()
		_ = conn.Close()
		return
	}
	m.clients[c] = struct{}{}
	m.wg.Add(2)
	m.clientsMu.Unlock()
	m.logger.Info("Monitor client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.readLoop(c)
	}()
	go func() {
		defer m.wg.Done()
		defer m.remove(c)
		m.pushLoop(ctx, c)
	}()
}

// readLoop drains client frames so control messages are processed and a
// disconnect is noticed
func (m *Monitor) readLoop(c *client) {
	_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	}
}

func (m *Monitor) pushLoop(ctx context.Context, c *client) {
	for {
		data, err := json.Marshal(m.View())
		if err != nil {
			m.logger.Warn("Snapshot encode failed", "error", err)
			return
		}
		if err := c.write(websocket.TextMessage, data, m.cfg.WriteTimeout); err != nil {
			m.logger.Debug("Monitor client write failed", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-m.done:
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "monitor closed")
			_ = c.write(websocket.CloseMessage, msg, m.cfg.WriteTimeout)
			return
		case <-m.clock.After(m.cfg.Interval):
		}
	}
}

func (m *Monitor) isClosed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

func (m *Monitor) remove(c *client) {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	m.clientsMu.Lock()
	delete(m.clients, c)
	m.clientsMu.Unlock()
	_ = c.conn.Close()
	m.logger.Info("Monitor client disconnected")
}

// Clients returns the number of connected push clients
func (m *Monitor) Clients() int {
	m.clientsMu.Lock()
	defer m.clientsMu.Unlock()
	return len(m.clients)
}

// Close tells every client to go away and waits for their goroutines
func (m *Monitor) Close() error {
	m.closeOnce.Do(func() {
		m.clientsMu.Lock()
		close(m.done)
		m.clientsMu.Unlock()
	})
	m.wg.Wait()
	return nil
}
