package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/metric"
)

// DispatchMode selects where subscription handlers run
type DispatchMode string

// Dispatch modes
const (
	// DispatchPoll queues deliveries and runs handlers inside PollOnce
	DispatchPoll DispatchMode = "poll"
	// DispatchAsync runs handlers on the transport's delivery goroutines
	DispatchAsync DispatchMode = "async"
)

// DefaultQueueSize bounds the poll-mode delivery queue when none is configured
const DefaultQueueSize = 256

// Drop reasons reported in metrics
const (
	dropInactive  = "inactive"
	dropQueueFull = "queue_full"
	dropCodec     = "codec"
)

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	// Name identifies the owning transport in logs and metrics
	Name      string
	Mode      DispatchMode
	QueueSize int
	Clock     clock.Clock
	Logger    *slog.Logger
	// Registry enables metrics when non-nil
	Registry *metric.MetricsRegistry
	// Health is consulted at the start of every poll; a non-nil error fails the poll
	Health func() error
}

// DispatchStats is a point-in-time view of dispatcher counters
type DispatchStats struct {
	Delivered uint64
	Dropped   uint64
	Queued    int
}

type delivery struct {
	sub     *Subscription
	handler Handler
	codec   Codec
	payload []byte
}

// Dispatcher turns push deliveries from a transport client into either queued
// work serviced by PollOnce or direct handler calls.
type Dispatcher struct {
	name    string
	mode    DispatchMode
	queue   chan delivery
	clock   clock.Clock
	logger  *slog.Logger
	health  func() error
	metrics *dispatchMetrics

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewDispatcher creates a dispatcher from cfg
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = DispatchPoll
	}
	if mode != DispatchPoll && mode != DispatchAsync {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: dispatch mode %q", errors.ErrInvalidConfig, mode),
			"Dispatcher", "NewDispatcher", "validate mode")
	}

	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	name := cfg.Name
	if name == "" {
		name = "default"
	}

	metrics, err := newDispatchMetrics(cfg.Registry, name)
	if err != nil {
		return nil, errors.Wrap(err, "Dispatcher", "NewDispatcher", "register metrics")
	}

	d := &Dispatcher{
		name:    name,
		mode:    mode,
		clock:   clk,
		logger:  logger.With("transport", name),
		health:  cfg.Health,
		metrics: metrics,
	}
	if mode == DispatchPoll {
		d.queue = make(chan delivery, size)
	}
	return d, nil
}

// Mode returns the dispatch mode
func (d *Dispatcher) Mode() DispatchMode { return d.mode }

// Stats returns the dispatcher counters
func (d *Dispatcher) Stats() DispatchStats {
	return DispatchStats{
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Queued:    len(d.queue),
	}
}

// Deliver accepts one payload for sub. In poll mode it never blocks: a full
// queue drops the payload.
func (d *Dispatcher) Deliver(sub *Subscription, h Handler, codec Codec, payload []byte) {
	if !sub.Active() {
		d.drop(sub, dropInactive)
		return
	}

	dv := delivery{sub: sub, handler: h, codec: codec, payload: payload}

	if d.mode == DispatchAsync {
		if err := d.handle(dv); err != nil {
			d.logger.Warn("Handler failed", "topic", sub.Topic(), "error", err)
		}
		return
	}

	select {
	case d.queue <- dv:
		d.recordQueue()
	default:
		d.drop(sub, dropQueueFull)
		d.logger.Warn("Delivery queue full, dropping message",
			"topic", sub.Topic(), "capacity", cap(d.queue))
	}
}

// PollOnce services queued deliveries. It waits up to maxWait for the first one,
// then drains whatever is already queued without blocking. Cancellation of ctx
// ends the wait early without error.
func (d *Dispatcher) PollOnce(ctx context.Context, maxWait time.Duration) error {
	if d.health != nil {
		if err := d.health(); err != nil {
			// Hold the caller for the poll budget so a dead link is not spun on
			d.wait(ctx, maxWait)
			return errors.WrapTransient(fmt.Errorf("%w: %w", errors.ErrPollFailed, err),
				"Dispatcher", "PollOnce", "check transport health")
		}
	}

	if d.mode == DispatchAsync {
		d.wait(ctx, maxWait)
		return nil
	}

	var errs []error

	if maxWait > 0 {
		timer := d.clock.NewTimer(maxWait)
		select {
		case dv := <-d.queue:
			timer.Stop()
			d.recordQueue()
			if err := d.handle(dv); err != nil {
				errs = append(errs, err)
			}
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.Chan():
			return nil
		}
	}

	// Bounded so producers cannot keep a single poll alive forever
	pending := len(d.queue)
drain:
	for i := 0; i < pending; i++ {
		select {
		case dv := <-d.queue:
			d.recordQueue()
			if err := d.handle(dv); err != nil {
				errs = append(errs, err)
			}
		default:
			break drain
		}
	}

	if len(errs) > 0 {
		return errors.WrapTransient(stderrors.Join(errs...), "Dispatcher", "PollOnce", "dispatch deliveries")
	}
	return nil
}

// handle decodes one delivery and runs its handler. Decode failures drop the
// message; handler panics are recovered and reported as poll failures.
func (d *Dispatcher) handle(dv delivery) (err error) {
	if !dv.sub.Active() {
		d.drop(dv.sub, dropInactive)
		return nil
	}

	raw, decodeErr := dv.codec(dv.payload)
	if decodeErr != nil {
		d.drop(dv.sub, dropCodec)
		d.logger.Warn("Dropping undecodable message",
			"topic", dv.sub.Topic(), "bytes", len(dv.payload), "error", decodeErr)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			if d.metrics != nil {
				d.metrics.panics.Inc()
			}
			err = fmt.Errorf("%w: handler for %s panicked: %v", errors.ErrPollFailed, dv.sub.Topic(), r)
		}
	}()

	dv.handler(raw)

	d.delivered.Add(1)
	if d.metrics != nil {
		d.metrics.delivered.Inc()
	}
	return nil
}

func (d *Dispatcher) wait(ctx context.Context, maxWait time.Duration) {
	if maxWait <= 0 {
		return
	}
	timer := d.clock.NewTimer(maxWait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.Chan():
	}
}

func (d *Dispatcher) drop(sub *Subscription, reason string) {
	d.dropped.Add(1)
	if d.metrics != nil {
		d.metrics.dropped.WithLabelValues(reason).Inc()
	}
	if reason == dropInactive {
		d.logger.Debug("Dropping message for inactive subscription", "topic", sub.Topic())
	}
}

func (d *Dispatcher) recordQueue() {
	if d.metrics != nil {
		d.metrics.queueDepth.Set(float64(len(d.queue)))
	}
}
