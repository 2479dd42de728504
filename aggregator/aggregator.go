package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/metric"
	"github.com/c360/framesync/stats"
	"github.com/c360/framesync/store"
	"github.com/c360/framesync/transport"
)

// DefaultPollInterval bounds one PollOnce call when none is configured
const DefaultPollInterval = 100 * time.Millisecond

// State is the drain loop lifecycle state
type State int

// Drain loop states
const (
	StateIdle State = iota
	StateRunning
	StateTimedOut
	StateCancelled
	StateTerminated
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateTimedOut:
		return "timed_out"
	case StateCancelled:
		return "cancelled"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TimeoutMode selects the reference point of the run timeout
type TimeoutMode string

// Timeout modes
const (
	// TimeoutFromActivity measures the timeout from the most recent frame
	TimeoutFromActivity TimeoutMode = "activity"
	// TimeoutFromStart measures the timeout from loop start
	TimeoutFromStart TimeoutMode = "start"
)

// StreamSpec describes one requested stream
type StreamSpec struct {
	Name  string
	Topic string
	Kind  string
	// Encodings restricts accepted frames when non-empty
	Encodings []string
}

// Config controls the drain loop
type Config struct {
	// Timeout ends the run once exceeded; zero or negative runs until cancelled
	Timeout      time.Duration
	TimeoutMode  TimeoutMode
	PollInterval time.Duration
}

// Deps holds the collaborators of an Aggregator
type Deps struct {
	Transport transport.Transport
	Logger    *slog.Logger
	// Registry enables metrics when non-nil
	Registry *metric.MetricsRegistry
	Clock    clock.Clock
	// Computer defaults to stats.NewComputer(nil)
	Computer *stats.Computer
}

// Result is what a finished run hands back
type Result struct {
	// State is the cause of termination: StateTimedOut or StateCancelled
	State      State                  `json:"state"`
	Snapshot   map[string]store.Entry `json:"streams"`
	Polls      int                    `json:"polls"`
	PollErrors int                    `json:"poll_errors"`
	Elapsed    time.Duration          `json:"elapsed_ns"`
}

// Aggregator subscribes to a set of streams and pumps their callbacks until
// timeout or cancellation.
type Aggregator struct {
	cfg       Config
	specs     []StreamSpec
	transport transport.Transport
	clock     clock.Clock
	logger    *slog.Logger
	metrics   *metric.Metrics

	store     *store.Store
	ingestors map[string]*Ingestor
	activity  activity

	state   atomic.Int32
	started atomic.Bool

	mu   sync.Mutex
	subs map[string]*transport.Subscription
}

// New validates cfg and specs and builds an idle aggregator
func New(cfg Config, specs []StreamSpec, deps Deps) (*Aggregator, error) {
	if deps.Transport == nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: transport", errors.ErrMissingConfig), "Aggregator", "New", "validate deps")
	}
	if len(specs) == 0 {
		return nil, errors.WrapFatal(errors.ErrNoStreams, "Aggregator", "New", "validate streams")
	}

	switch cfg.TimeoutMode {
	case "":
		cfg.TimeoutMode = TimeoutFromActivity
	case TimeoutFromActivity, TimeoutFromStart:
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: timeout mode %q", errors.ErrInvalidConfig, cfg.TimeoutMode),
			"Aggregator", "New", "validate config")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	names := make([]string, 0, len(specs))
	seen := make(map[string]struct{}, len(specs))
	normalized := make([]StreamSpec, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" || spec.Topic == "" {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: stream needs a name and a topic", errors.ErrInvalidConfig),
				"Aggregator", "New", "validate streams")
		}
		if _, dup := seen[spec.Name]; dup {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: duplicate stream %q", errors.ErrInvalidConfig, spec.Name),
				"Aggregator", "New", "validate streams")
		}
		seen[spec.Name] = struct{}{}
		if spec.Kind == "" {
			spec.Kind = transport.KindImage
		}
		names = append(names, spec.Name)
		normalized = append(normalized, spec)
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.WallClock
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	computer := deps.Computer
	if computer == nil {
		computer = stats.NewComputer(nil)
	}
	var metrics *metric.Metrics
	if deps.Registry != nil {
		metrics = deps.Registry.CoreMetrics()
	}

	a := &Aggregator{
		cfg:       cfg,
		specs:     normalized,
		transport: deps.Transport,
		clock:     clk,
		logger:    logger.With("component", "aggregator"),
		metrics:   metrics,
		store:     store.New(names...),
		ingestors: make(map[string]*Ingestor, len(normalized)),
		subs:      make(map[string]*transport.Subscription, len(normalized)),
	}
	for _, spec := range normalized {
		a.ingestors[spec.Name] = newIngestor(spec, a.store, computer, clk, &a.activity, a.logger, metrics)
	}
	return a, nil
}

// State returns the current lifecycle state
func (a *Aggregator) State() State {
	return State(a.state.Load())
}

func (a *Aggregator) setState(s State) {
	a.state.Store(int32(s))
	if a.metrics != nil {
		a.metrics.RecordLoopState(int(s))
	}
}

// Store returns the aggregate store, readable while the loop runs
func (a *Aggregator) Store() *store.Store {
	return a.store
}

// Snapshot returns a copy of the current per-stream entries
func (a *Aggregator) Snapshot() map[string]store.Entry {
	return a.store.Snapshot()
}

// Ingestor returns the callback of a stream
func (a *Aggregator) Ingestor(stream string) (*Ingestor, bool) {
	in, ok := a.ingestors[stream]
	return in, ok
}

// ActiveSubscriptions returns the number of subscriptions still registered
func (a *Aggregator) ActiveSubscriptions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subs)
}

// Run subscribes every stream and pumps callbacks until the timeout elapses or
// ctx is cancelled, then unsubscribes everything and returns the final
// snapshot. A failure to subscribe any stream is fatal and leaves no
// subscription behind. Run may be called once.
func (a *Aggregator) Run(ctx context.Context) (Result, error) {
	if !a.started.CompareAndSwap(false, true) {
		return Result{}, errors.WrapInvalid(errors.ErrAlreadyRunning, "Aggregator", "Run", "start loop")
	}

	start := a.clock.Now()
	a.activity.touch(start)

	if err := a.subscribeAll(ctx); err != nil {
		a.setState(StateTerminated)
		return Result{State: StateTerminated, Snapshot: a.store.Snapshot()}, err
	}

	a.setState(StateRunning)
	a.logger.Info("Aggregator running",
		"streams", len(a.specs),
		"timeout", a.cfg.Timeout,
		"timeout_mode", a.cfg.TimeoutMode,
		"poll_interval", a.cfg.PollInterval)

	result := Result{}
	for {
		if ctx.Err() != nil {
			result.State = StateCancelled
			break
		}
		if a.timedOut(start) {
			result.State = StateTimedOut
			break
		}

		pollStart := a.clock.Now()
		err := a.transport.PollOnce(ctx, a.cfg.PollInterval)
		result.Polls++
		if a.metrics != nil {
			a.metrics.RecordPoll(a.clock.Now().Sub(pollStart), err)
		}
		if err != nil {
			result.PollErrors++
			a.logger.Warn("Poll failed", "error", err, "class", errors.Classify(err))
		}
	}

	a.setState(result.State)
	a.logger.Info("Aggregator stopping", "reason", result.State, "polls", result.Polls, "poll_errors", result.PollErrors)

	a.unsubscribeAll()
	a.setState(StateTerminated)

	result.Snapshot = a.store.Snapshot()
	result.Elapsed = a.clock.Now().Sub(start)
	return result, nil
}

func (a *Aggregator) timedOut(start time.Time) bool {
	if a.cfg.Timeout <= 0 {
		return false
	}
	ref := start
	if a.cfg.TimeoutMode == TimeoutFromActivity {
		ref = a.activity.last()
	}
	return a.clock.Now().Sub(ref) > a.cfg.Timeout
}

func (a *Aggregator) subscribeAll(ctx context.Context) error {
	for _, spec := range a.specs {
		a.logger.Info("Subscribing", "stream", spec.Name, "topic", spec.Topic, "kind", spec.Kind)

		sub, err := a.transport.Subscribe(ctx, spec.Topic, spec.Kind, a.ingestors[spec.Name].Handle)
		if err != nil {
			a.unsubscribeAll()
			return errors.WrapFatal(
				fmt.Errorf("%w: stream %s: %w", errors.ErrSubscriptionFailed, spec.Name, err),
				"Aggregator", "Run", "subscribe streams")
		}

		a.mu.Lock()
		a.subs[spec.Name] = sub
		n := len(a.subs)
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordSubscriptions(n)
		}
	}
	return nil
}

// unsubscribeAll releases every registered subscription. Failures are logged
// and the subscription is forgotten either way.
func (a *Aggregator) unsubscribeAll() {
	a.mu.Lock()
	names := make([]string, 0, len(a.subs))
	for name := range a.subs {
		names = append(names, name)
	}
	a.mu.Unlock()
	sort.Strings(names)

	for _, name := range names {
		a.mu.Lock()
		sub := a.subs[name]
		delete(a.subs, name)
		n := len(a.subs)
		a.mu.Unlock()

		a.logger.Info("Unsubscribing", "stream", name, "topic", sub.Topic())
		if err := a.transport.Unsubscribe(sub); err != nil {
			a.logger.Warn("Unsubscribe failed", "stream", name, "error", err)
		}
		if a.metrics != nil {
			a.metrics.RecordSubscriptions(n)
		}
	}
}
