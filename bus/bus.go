package bus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360/framesync/config"
	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/metric"
	"github.com/c360/framesync/natsclient"
	"github.com/c360/framesync/pkg/retry"
	"github.com/c360/framesync/transport"
)

// Transport is a connected bus that can both subscribe and publish
type Transport interface {
	transport.Transport
	transport.Publisher
}

// Options tunes Connect
type Options struct {
	// Attempts bounds connection attempts; zero means one
	Attempts int
	// Registry enables transport metrics when non-nil
	Registry *metric.MetricsRegistry
	Logger   *slog.Logger
}

// Conn is a connected transport together with the means to release it
type Conn struct {
	Transport
	kind    string
	closeFn func(ctx context.Context) error
}

// Kind returns the transport kind, config.TransportNATS or config.TransportMQTT
func (c *Conn) Kind() string { return c.kind }

// Close releases the underlying connection
func (c *Conn) Close(ctx context.Context) error {
	if c.closeFn == nil {
		return nil
	}
	return c.closeFn(ctx)
}

// Connect dials the bus described by cfg.Transport, retrying transient
// failures, and returns a transport ready for subscribing and publishing.
func Connect(ctx context.Context, cfg *config.Config, opts Options) (*Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	retryCfg := retry.Quick()
	retryCfg.MaxAttempts = opts.Attempts
	retryCfg.Retryable = errors.IsTransient
	retryCfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("Transport connect failed, retrying",
			"kind", cfg.Transport.Kind, "attempt", attempt, "delay", delay, "error", err)
	}

	switch cfg.Transport.Kind {
	case config.TransportNATS:
		return connectNATS(ctx, cfg, retryCfg, opts.Registry, logger)
	case config.TransportMQTT:
		return connectMQTT(ctx, cfg, retryCfg, opts.Registry, logger)
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: transport kind %q", errors.ErrInvalidConfig, cfg.Transport.Kind),
			"Bus", "Connect", "select transport")
	}
}

// NATSOptions translates the transport configuration into client options
func NATSOptions(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) []natsclient.ClientOption {
	tc := cfg.Transport
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.NodeName),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(tc.MaxReconnects),
		natsclient.WithHealthChangeCallback(func(healthy bool) {
			logger.Info("NATS health changed", "healthy", healthy)
		}),
		natsclient.WithDisconnectCallback(logDisconnect(logger, tc.URL)),
		natsclient.WithReconnectCallback(logReconnect(logger, tc.URL)),
	}
	if tc.Timeout > 0 {
		opts = append(opts, natsclient.WithTimeout(tc.Timeout))
	}
	if tc.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(tc.ReconnectWait))
	}
	if tc.PingInterval > 0 {
		opts = append(opts, natsclient.WithPingInterval(tc.PingInterval))
	}
	if tc.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(tc.DrainTimeout))
	}
	if tc.MaxBackoff > 0 {
		opts = append(opts, natsclient.WithMaxBackoff(tc.MaxBackoff))
	}
	if tc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(tc.Username, tc.Password))
	}
	if tc.Token != "" {
		opts = append(opts, natsclient.WithToken(tc.Token))
	}
	if registry != nil {
		opts = append(opts, natsclient.WithMetrics(registry))
	}
	return opts
}

func logDisconnect(logger *slog.Logger, url string) func(error) {
	return func(err error) {
		logger.Warn("NATS disconnected", "url", url, "error", err)
	}
}

func logReconnect(logger *slog.Logger, url string) func() {
	return func() {
		logger.Info("NATS reconnected", "url", url)
	}
}

func dispatcherConfig(name string, cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) transport.DispatcherConfig {
	return transport.DispatcherConfig{
		Name:      name,
		Mode:      transport.DispatchMode(cfg.Transport.Dispatch),
		QueueSize: cfg.Transport.QueueSize,
		Logger:    logger,
		Registry:  registry,
	}
}

func connectNATS(
	ctx context.Context,
	cfg *config.Config,
	retryCfg retry.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*Conn, error) {
	client, err := natsclient.NewClient(cfg.Transport.URL, NATSOptions(cfg, registry, logger)...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "url", cfg.Transport.URL)
	err = retry.Do(ctx, retryCfg, func() error {
		connCtx, cancel := context.WithTimeout(ctx, cfg.Transport.Timeout+time.Second)
		defer cancel()
		if err := client.Connect(connCtx); err != nil {
			return err
		}
		return client.WaitForConnection(connCtx)
	})
	if err != nil {
		_ = client.Close(ctx)
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	dc := dispatcherConfig("nats", cfg, registry, logger)
	dc.Health = transport.NATSHealth(client)
	dispatcher, err := transport.NewDispatcher(dc)
	if err != nil {
		_ = client.Close(ctx)
		return nil, err
	}

	return &Conn{
		Transport: transport.NewNATS(client, dispatcher, logger),
		kind:      config.TransportNATS,
		closeFn:   client.Close,
	}, nil
}

func connectMQTT(
	ctx context.Context,
	cfg *config.Config,
	retryCfg retry.Config,
	registry *metric.MetricsRegistry,
	logger *slog.Logger,
) (*Conn, error) {
	var mq *transport.MQTT
	dc := dispatcherConfig("mqtt", cfg, registry, logger)
	dc.Health = func() error {
		if mq == nil {
			return nil
		}
		return mq.Health()
	}
	dispatcher, err := transport.NewDispatcher(dc)
	if err != nil {
		return nil, err
	}

	clientID := cfg.Transport.ClientID
	if clientID == "" {
		clientID = cfg.NodeName
	}

	logger.Info("Connecting to MQTT", "url", cfg.Transport.URL, "client_id", clientID)
	mq, err = retry.DoWithResult(ctx, retryCfg, func() (*transport.MQTT, error) {
		return transport.DialMQTT(transport.MQTTConfig{
			BrokerURL: cfg.Transport.URL,
			ClientID:  clientID,
			QoS:       byte(cfg.Transport.QoS),
			Timeout:   cfg.Transport.Timeout,
		}, dispatcher, logger)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to MQTT: %w", err)
	}

	return &Conn{
		Transport: mq,
		kind:      config.TransportMQTT,
		closeFn: func(context.Context) error {
			mq.Close()
			return nil
		},
	}, nil
}
