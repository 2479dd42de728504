package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core aggregation metrics shared by every run
type Metrics struct {
	// Stream metrics
	FramesReceived *prometheus.CounterVec
	FramesStored   *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	ValidRatio     *prometheus.GaugeVec
	MeanNonZero    *prometheus.GaugeVec
	IngestDuration *prometheus.HistogramVec

	// Drain loop metrics
	PollDuration        prometheus.Histogram
	PollErrors          prometheus.Counter
	ActiveSubscriptions prometheus.Gauge
	LoopState           prometheus.Gauge

	// NATS metrics
	NATSConnected      prometheus.Gauge
	NATSReconnects     prometheus.Counter
	NATSCircuitBreaker prometheus.Gauge
}

// NewMetrics creates a new Metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framesync",
				Subsystem: "frames",
				Name:      "received_total",
				Help:      "Frames delivered to ingestion",
			},
			[]string{"stream"},
		),

		FramesStored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framesync",
				Subsystem: "frames",
				Name:      "stored_total",
				Help:      "Frames decoded and written to the aggregate store",
			},
			[]string{"stream"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "framesync",
				Subsystem: "frames",
				Name:      "dropped_total",
				Help:      "Frames dropped before reaching the store",
			},
			[]string{"stream", "reason"},
		),

		ValidRatio: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "framesync",
				Subsystem: "stream",
				Name:      "valid_ratio",
				Help:      "Ratio of nonzero samples in the latest frame (0-1)",
			},
			[]string{"stream"},
		),

		MeanNonZero: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "framesync",
				Subsystem: "stream",
				Name:      "mean_nonzero",
				Help:      "Mean intensity of the latest frame",
			},
			[]string{"stream"},
		),

		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "framesync",
				Subsystem: "frames",
				Name:      "ingest_duration_seconds",
				Help:      "Decode, statistics and store time per frame",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"stream"},
		),

		PollDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "framesync",
				Subsystem: "loop",
				Name:      "poll_duration_seconds",
				Help:      "Duration of one transport poll step",
				Buckets:   prometheus.DefBuckets,
			},
		),

		PollErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "framesync",
				Subsystem: "loop",
				Name:      "poll_errors_total",
				Help:      "Transport poll steps that failed",
			},
		),

		ActiveSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "framesync",
				Subsystem: "loop",
				Name:      "active_subscriptions",
				Help:      "Stream subscriptions currently registered",
			},
		),

		LoopState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "framesync",
				Subsystem: "loop",
				Name:      "state",
				Help:      "Drain loop state (0=idle, 1=running, 2=timed_out, 3=cancelled, 4=terminated)",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "framesync",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "framesync",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),

		NATSCircuitBreaker: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "framesync",
				Subsystem: "nats",
				Name:      "circuit_breaker",
				Help:      "NATS circuit breaker status (0=closed, 1=open)",
			},
		),
	}
}

func (c *Metrics) register(reg *prometheus.Registry) {
	reg.MustRegister(
		c.FramesReceived,
		c.FramesStored,
		c.FramesDropped,
		c.ValidRatio,
		c.MeanNonZero,
		c.IngestDuration,
		c.PollDuration,
		c.PollErrors,
		c.ActiveSubscriptions,
		c.LoopState,
		c.NATSConnected,
		c.NATSReconnects,
		c.NATSCircuitBreaker,
	)
}

// RecordFrameReceived increments the received counter of a stream
func (c *Metrics) RecordFrameReceived(stream string) {
	c.FramesReceived.WithLabelValues(stream).Inc()
}

// RecordFrameDropped increments the dropped counter of a stream
func (c *Metrics) RecordFrameDropped(stream, reason string) {
	c.FramesDropped.WithLabelValues(stream, reason).Inc()
}

// RecordFrameStored records a stored frame and its statistics. A NaN mean is
// exported as-is; Prometheus represents it natively.
func (c *Metrics) RecordFrameStored(stream string, validRatio, mean float64, took time.Duration) {
	c.FramesStored.WithLabelValues(stream).Inc()
	c.ValidRatio.WithLabelValues(stream).Set(validRatio)
	c.MeanNonZero.WithLabelValues(stream).Set(mean)
	c.IngestDuration.WithLabelValues(stream).Observe(took.Seconds())
}

// RecordPoll observes one poll step
func (c *Metrics) RecordPoll(took time.Duration, err error) {
	c.PollDuration.Observe(took.Seconds())
	if err != nil {
		c.PollErrors.Inc()
	}
}

// RecordSubscriptions sets the number of active subscriptions
func (c *Metrics) RecordSubscriptions(n int) {
	c.ActiveSubscriptions.Set(float64(n))
}

// RecordLoopState sets the drain loop state gauge
func (c *Metrics) RecordLoopState(state int) {
	c.LoopState.Set(float64(state))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	c.NATSConnected.Set(boolToFloat(connected))
}

// RecordNATSReconnect increments reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}

// RecordCircuitBreakerState updates circuit breaker status
func (c *Metrics) RecordCircuitBreakerState(open bool) {
	c.NATSCircuitBreaker.Set(boolToFloat(open))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
