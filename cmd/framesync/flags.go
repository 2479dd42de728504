package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration. Empty or negative values leave
// the loaded configuration untouched.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	TimeoutSecs     float64
	Streams         string
	TransportURL    string
	MetricsPort     int
	ConnectAttempts int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
	Pretty          bool
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("FRAMESYNC_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: FRAMESYNC_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("FRAMESYNC_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: FRAMESYNC_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (env: FRAMESYNC_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (env: FRAMESYNC_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("FRAMESYNC_DEBUG", false),
		"Enable debug logging (env: FRAMESYNC_DEBUG)")

	fs.Float64Var(&cfg.TimeoutSecs, "timeout", -1,
		"Seconds without frames before the run ends, 0 for no timeout (env: FRAMESYNC_TIMEOUT_SECS)")

	fs.StringVar(&cfg.Streams, "streams", "",
		"Comma-separated streams to request (env: FRAMESYNC_REQUESTED_STREAMS)")

	fs.StringVar(&cfg.TransportURL, "url", "",
		"Message bus URL (env: FRAMESYNC_TRANSPORT_URL)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("FRAMESYNC_METRICS_PORT", -1),
		"Serve Prometheus metrics on this port, 0 to disable (env: FRAMESYNC_METRICS_PORT)")

	fs.IntVar(&cfg.ConnectAttempts, "connect-attempts",
		getEnvInt("FRAMESYNC_CONNECT_ATTEMPTS", 10),
		"Attempts to reach the message bus before giving up (env: FRAMESYNC_CONNECT_ATTEMPTS)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("FRAMESYNC_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Time allowed to close the transport and metrics server (env: FRAMESYNC_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration, print it and exit")
	fs.BoolVar(&cfg.Pretty, "pretty", false, "Indent the JSON summary")

	fs.Usage = func() {
		printDetailedHelp(fs, stderr)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.ShowHelp {
		fs.Usage()
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if cfg.LogLevel != "" && !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if cfg.LogFormat != "" && !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.MetricsPort)
	}

	if cfg.ConnectAttempts < 1 {
		return fmt.Errorf("connect attempts must be positive: %d", cfg.ConnectAttempts)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - depth camera stream statistics

Subscribes to camera image streams, keeps per-stream statistics of the latest
frame and prints them as JSON when the run ends.

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Listen until 5 seconds pass without frames
  %s --config=configs/camera.yaml --timeout=5

  # Only the aligned depth stream, from a remote NATS server
  %s --streams=alignedDepthColor --url=nats://camera-host:4222

  # Validate configuration only
  %s --config=configs/camera.yaml --validate

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
