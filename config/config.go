package config

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/c360/framesync/aggregator"
	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/stats"
	"github.com/c360/framesync/transport"
)

// Transport kinds
const (
	TransportNATS = "nats"
	TransportMQTT = "mqtt"
)

// Config is the complete framesync configuration
type Config struct {
	NodeName string `json:"node_name"`
	// TimeoutSecs ends a run after this many seconds; zero or negative runs until interrupted
	TimeoutSecs      float64                 `json:"timeout_secs"`
	TimeoutMode      string                  `json:"timeout_mode"`
	PollInterval     time.Duration           `json:"poll_interval"`
	RequestedStreams []string                `json:"requested_streams"`
	Streams          map[string]StreamConfig `json:"streams"`
	Transport        TransportConfig         `json:"transport"`
	Log              LogConfig               `json:"log"`
	Metrics          MetricsConfig           `json:"metrics"`
}

// StreamConfig is one entry of the stream catalog
type StreamConfig struct {
	Topic     string   `json:"topic"`
	Kind      string   `json:"kind,omitempty"`
	Encodings []string `json:"encodings,omitempty"`
	stats.Policy
}

// TransportConfig selects and tunes the message bus
type TransportConfig struct {
	Kind          string        `json:"kind"`
	URL           string        `json:"url"`
	ClientID      string        `json:"client_id,omitempty"`
	Dispatch      string        `json:"dispatch"`
	QueueSize     int           `json:"queue_size"`
	QoS           int           `json:"qos"`
	Timeout       time.Duration `json:"timeout"`
	MaxReconnects int           `json:"max_reconnects"`
	// NATS connection tuning; zero keeps the client default
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	PingInterval  time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout  time.Duration `json:"drain_timeout,omitempty"`
	MaxBackoff    time.Duration `json:"max_backoff,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Default returns the configuration of a depth camera listener: three image
// streams, no timeout and a local NATS server.
func Default() *Config {
	policies := stats.DefaultPolicies()
	return &Config{
		NodeName:     "rs2_listener",
		TimeoutSecs:  -1,
		TimeoutMode:  string(aggregator.TimeoutFromActivity),
		PollInterval: aggregator.DefaultPollInterval,
		RequestedStreams: []string{
			stats.DepthStream,
			stats.ColorStream,
			stats.AlignedDepthStream,
		},
		Streams: map[string]StreamConfig{
			stats.DepthStream: {
				Topic: "/camera/depth/image_rect_raw",
				Kind:  transport.KindImage,
			},
			stats.ColorStream: {
				Topic: "/camera/color/image_raw",
				Kind:  transport.KindImage,
			},
			stats.AlignedDepthStream: {
				Topic:  "/camera/aligned_depth_to_color/image_raw",
				Kind:   transport.KindImage,
				Policy: policies[stats.AlignedDepthStream],
			},
		},
		Transport: TransportConfig{
			Kind:          TransportNATS,
			URL:           "nats://localhost:4222",
			Dispatch:      string(transport.DispatchPoll),
			QueueSize:     transport.DefaultQueueSize,
			Timeout:       5 * time.Second,
			MaxReconnects: -1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// Validate checks the semantics the schema cannot express
func (c *Config) Validate() error {
	if c.NodeName == "" {
		return invalid("node_name is required")
	}

	switch aggregator.TimeoutMode(c.TimeoutMode) {
	case aggregator.TimeoutFromActivity, aggregator.TimeoutFromStart:
	default:
		return invalid("timeout_mode %q must be %q or %q",
			c.TimeoutMode, aggregator.TimeoutFromActivity, aggregator.TimeoutFromStart)
	}

	if c.PollInterval <= 0 {
		return invalid("poll_interval must be positive, got %s", c.PollInterval)
	}

	if len(c.RequestedStreams) == 0 {
		return errors.WrapInvalid(errors.ErrNoStreams, "Config", "Validate", "check requested_streams")
	}
	seen := make(map[string]struct{}, len(c.RequestedStreams))
	for _, name := range c.RequestedStreams {
		if _, dup := seen[name]; dup {
			return invalid("stream %q requested twice", name)
		}
		seen[name] = struct{}{}

		sc, ok := c.Streams[name]
		if !ok {
			return invalid("requested stream %q is not in the streams catalog", name)
		}
		if err := sc.validate(name); err != nil {
			return err
		}
	}

	if err := c.Transport.validate(); err != nil {
		return err
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Log.Level) {
		return invalid("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format %q must be json or text", c.Log.Format)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid("metrics.port %d out of range", c.Metrics.Port)
	}

	return nil
}

func (s StreamConfig) validate(name string) error {
	if s.Topic == "" {
		return invalid("streams.%s.topic is required", name)
	}
	if s.Kind != "" {
		if _, err := transport.CodecFor(s.Kind); err != nil {
			return invalid("streams.%s.kind: %v", name, err)
		}
	}
	if s.ClipMax < 0 {
		return invalid("streams.%s.clip_max must not be negative", name)
	}
	if s.ZeroAsBackground && s.ClipMax == 0 {
		return invalid("streams.%s.zero_as_background needs clip_max", name)
	}
	if s.ExpectedSize < 0 {
		return invalid("streams.%s.expected_size must not be negative", name)
	}
	return nil
}

func (t TransportConfig) validate() error {
	if t.Kind != TransportNATS && t.Kind != TransportMQTT {
		return invalid("transport.kind %q must be %s or %s", t.Kind, TransportNATS, TransportMQTT)
	}
	if t.URL == "" {
		return invalid("transport.url is required")
	}
	switch transport.DispatchMode(t.Dispatch) {
	case transport.DispatchPoll, transport.DispatchAsync:
	default:
		return invalid("transport.dispatch %q must be %s or %s", t.Dispatch, transport.DispatchPoll, transport.DispatchAsync)
	}
	if t.QueueSize < 1 {
		return invalid("transport.queue_size must be positive")
	}
	if t.QoS < 0 || t.QoS > 2 {
		return invalid("transport.qos %d must be 0, 1 or 2", t.QoS)
	}
	for name, d := range map[string]time.Duration{
		"reconnect_wait": t.ReconnectWait,
		"ping_interval":  t.PingInterval,
		"drain_timeout":  t.DrainTimeout,
		"max_backoff":    t.MaxBackoff,
	} {
		if d < 0 {
			return invalid("transport.%s %v must not be negative", name, d)
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidConfig, fmt.Sprintf(format, args...)),
		"Config", "Validate", "check configuration")
}

// Timeout returns the run timeout; zero means unbounded
func (c *Config) Timeout() time.Duration {
	if c.TimeoutSecs <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSecs * float64(time.Second))
}

// AggregatorConfig converts the loop settings
func (c *Config) AggregatorConfig() aggregator.Config {
	return aggregator.Config{
		Timeout:      c.Timeout(),
		TimeoutMode:  aggregator.TimeoutMode(c.TimeoutMode),
		PollInterval: c.PollInterval,
	}
}

// AggregatorSpecs returns the requested streams in request order
func (c *Config) AggregatorSpecs() []aggregator.StreamSpec {
	specs := make([]aggregator.StreamSpec, 0, len(c.RequestedStreams))
	for _, name := range c.RequestedStreams {
		sc := c.Streams[name]
		specs = append(specs, aggregator.StreamSpec{
			Name:      name,
			Topic:     sc.Topic,
			Kind:      sc.Kind,
			Encodings: slices.Clone(sc.Encodings),
		})
	}
	return specs
}

// Policies returns the statistics policy of every requested stream
func (c *Config) Policies() map[string]stats.Policy {
	policies := make(map[string]stats.Policy, len(c.RequestedStreams))
	for _, name := range c.RequestedStreams {
		policies[name] = c.Streams[name].Policy
	}
	return policies
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := c.Clone()
	if masked.Transport.Password != "" {
		masked.Transport.Password = "***"
	}
	if masked.Transport.Token != "" {
		masked.Transport.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}
