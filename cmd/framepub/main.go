// Package main provides framepub, a synthetic camera frame publisher used to
// drive framesync against a live bus
package main

import (
	"context"
	stderrors "errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/juju/clock"

	"github.com/c360/framesync/bus"
	"github.com/c360/framesync/config"
)

var (
	// Version information (set by build)
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "framepub: %v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flags
type cliFlags struct {
	configPath  string
	url         string
	streams     string
	count       int
	interval    time.Duration
	rate        float64
	width       int
	height      int
	attempts    int
	verbose     bool
	showVersion bool
	listStreams bool
}

func parseCommandLineFlags(args []string, stderr io.Writer) (*cliFlags, error) {
	flags := &cliFlags{}
	fs := flag.NewFlagSet("framepub", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&flags.configPath, "config", os.Getenv("FRAMESYNC_CONFIG"),
		"Path to a framesync configuration file (env: FRAMESYNC_CONFIG)")
	fs.StringVar(&flags.url, "url", "", "Override transport.url")
	fs.StringVar(&flags.streams, "streams", "", "Comma-separated streams to publish (default: requested_streams)")
	fs.IntVar(&flags.count, "count", 10, "Frames to publish per stream, 0 publishes until interrupted")
	fs.DurationVar(&flags.interval, "interval", 100*time.Millisecond, "Delay between publishing rounds")
	fs.Float64Var(&flags.rate, "rate", 0, "Upper bound on frames per second across all streams, 0 for none")
	fs.IntVar(&flags.width, "width", 64, "Frame width in pixels")
	fs.IntVar(&flags.height, "height", 48, "Frame height in pixels")
	fs.IntVar(&flags.attempts, "connect-attempts", 10, "Bus connection attempts")
	fs.BoolVar(&flags.verbose, "verbose", false, "Enable verbose logging")
	fs.BoolVar(&flags.showVersion, "version", false, "Show version information")
	fs.BoolVar(&flags.listStreams, "list", false, "List configured streams and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if flags.count < 0 {
		return nil, fmt.Errorf("count must be >= 0, got %d", flags.count)
	}
	if flags.width <= 0 || flags.height <= 0 {
		return nil, fmt.Errorf("frame size must be positive, got %dx%d", flags.width, flags.height)
	}
	if flags.rate < 0 {
		return nil, fmt.Errorf("rate must be >= 0, got %g", flags.rate)
	}
	if flags.interval < 0 {
		return nil, fmt.Errorf("interval must be >= 0, got %s", flags.interval)
	}
	return flags, nil
}

// handleVersionCommand shows version information and returns true if version flag is set
func handleVersionCommand(w io.Writer, showVersion bool) bool {
	if !showVersion {
		return false
	}
	fmt.Fprintf(w, "framepub\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Commit:  %s\n", commit)
	return true
}

// handleListCommand prints the configured streams and returns true if list flag is set
func handleListCommand(w io.Writer, cfg *config.Config, list bool) bool {
	if !list {
		return false
	}
	names := make([]string, 0, len(cfg.Streams))
	for name := range cfg.Streams {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprintln(w, "Configured streams:")
	for _, name := range names {
		sc := cfg.Streams[name]
		fmt.Fprintf(w, "  %-22s %-45s %s\n", name, sc.Topic, encodingFor(name, sc))
	}
	return true
}

// setupLogger creates and configures the logger
func setupLogger(w io.Writer, verbose bool) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

func loadConfig(flags *cliFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flags.url != "" {
		cfg.Transport.URL = flags.url
	}
	if flags.streams != "" {
		cfg.RequestedStreams = splitList(flags.streams)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags, err := parseCommandLineFlags(args, stderr)
	if err != nil {
		return err
	}
	if handleVersionCommand(stdout, flags.showVersion) {
		return nil
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}
	if handleListCommand(stdout, cfg, flags.listStreams) {
		return nil
	}

	logger := setupLogger(stderr, flags.verbose)

	conn, err := bus.Connect(ctx, cfg, bus.Options{Attempts: flags.attempts, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := conn.Close(closeCtx); err != nil {
			logger.Warn("Transport close failed", "error", err)
		}
	}()

	pub := newPublisher(conn, cfg, flags.width, flags.height, flags.rate, clock.WallClock, logger)
	sent, err := pub.Run(ctx, flags.count, flags.interval)
	logger.Info("Publishing finished", "frames", sent, "kind", conn.Kind())
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
