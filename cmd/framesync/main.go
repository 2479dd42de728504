// Package main implements the framesync command. framesync subscribes to a
// set of depth camera image streams, keeps statistics of the latest frame of
// each and prints them as JSON when the run times out or is interrupted.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/c360/framesync/aggregator"
	"github.com/c360/framesync/bus"
	"github.com/c360/framesync/config"
	"github.com/c360/framesync/metric"
	"github.com/c360/framesync/monitor"
	"github.com/c360/framesync/stats"
	"github.com/c360/framesync/store"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "framesync"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// Summary is the JSON document printed when a run ends
type Summary struct {
	NodeName   string                 `json:"node_name"`
	State      aggregator.State       `json:"state"`
	Polls      int                    `json:"polls"`
	PollErrors int                    `json:"poll_errors"`
	Elapsed    string                 `json:"elapsed"`
	Streams    map[string]store.Entry `json:"streams"`
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cliCfg, err := parseFlags(args, stderr)
	if err != nil {
		if stderrors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowHelp {
		return nil
	}

	if cliCfg.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(stderr, cfg.Log.Level, cfg.Log.Format, cfg.NodeName)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		_, _ = fmt.Fprintln(stdout, cfg.String())
		logger.Info("Configuration is valid")
		return nil
	}

	logger.Info("Starting framesync",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath,
		"transport", cfg.Transport.Kind,
		"streams", cfg.RequestedStreams)

	var registry *metric.MetricsRegistry
	if cfg.Metrics.Enabled {
		registry = metric.NewMetricsRegistry()
	}

	conn, err := bus.Connect(ctx, cfg, bus.Options{
		Attempts: cliCfg.ConnectAttempts,
		Registry: registry,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
		defer cancel()
		if err := conn.Close(shutdownCtx); err != nil {
			logger.Warn("Transport close failed", "error", err)
		}
	}()

	agg, err := aggregator.New(cfg.AggregatorConfig(), cfg.AggregatorSpecs(), aggregator.Deps{
		Transport: conn,
		Logger:    logger,
		Registry:  registry,
		Computer:  stats.NewComputer(cfg.Policies()),
	})
	if err != nil {
		return fmt.Errorf("create aggregator: %w", err)
	}

	if cfg.Metrics.Enabled {
		stopMetrics := startMetricsServer(cfg.Metrics, registry, agg, logger)
		defer stopMetrics()
	}

	result, err := agg.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("framesync finished",
		"state", result.State,
		"polls", result.Polls,
		"poll_errors", result.PollErrors,
		"elapsed", result.Elapsed)

	return writeSummary(stdout, Summary{
		NodeName:   cfg.NodeName,
		State:      result.State,
		Polls:      result.Polls,
		PollErrors: result.PollErrors,
		Elapsed:    result.Elapsed.String(),
		Streams:    result.Snapshot,
	}, cliCfg.Pretty)
}

// initializeConfiguration loads the configuration and applies flag overrides
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cliCfg.ConfigPath != "" {
		loader.AddLayer(cliCfg.ConfigPath)
	}
	loader.EnableValidation(false)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	applyFlagOverrides(cfg, cliCfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *config.Config, cliCfg *CLIConfig) {
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}
	if cliCfg.TimeoutSecs >= 0 {
		cfg.TimeoutSecs = cliCfg.TimeoutSecs
	}
	if cliCfg.Streams != "" {
		streams := strings.Split(cliCfg.Streams, ",")
		for i := range streams {
			streams[i] = strings.TrimSpace(streams[i])
		}
		cfg.RequestedStreams = streams
	}
	if cliCfg.TransportURL != "" {
		cfg.Transport.URL = cliCfg.TransportURL
	}
	switch {
	case cliCfg.MetricsPort == 0:
		cfg.Metrics.Enabled = false
	case cliCfg.MetricsPort > 0:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Port = cliCfg.MetricsPort
	}
}

// startMetricsServer serves the registry and the snapshot monitor in the
// background and returns their stop function
func startMetricsServer(
	cfg config.MetricsConfig,
	registry *metric.MetricsRegistry,
	source monitor.Source,
	logger *slog.Logger,
) func() {
	server := metric.NewServer(cfg.Port, cfg.Path, registry)
	mon := monitor.New(source, monitor.Config{}, monitor.Deps{Logger: logger})
	mon.Register(server, "/snapshot")

	go func() {
		if err := server.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Metrics server started", "address", server.Address())

	return func() {
		_ = mon.Close()
		if err := server.Stop(); err != nil {
			logger.Warn("Metrics server stop failed", "error", err)
		}
	}
}

func writeSummary(w io.Writer, summary Summary, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
