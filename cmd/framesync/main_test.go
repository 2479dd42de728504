package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framesync/aggregator"
	"github.com/c360/framesync/config"
	"github.com/c360/framesync/stats"
	"github.com/c360/framesync/store"
)

func TestParseFlags_Defaults(t *testing.T) {
	var stderr bytes.Buffer
	cli, err := parseFlags(nil, &stderr)
	require.NoError(t, err)

	assert.Empty(t, cli.ConfigPath)
	assert.Equal(t, -1.0, cli.TimeoutSecs)
	assert.Equal(t, -1, cli.MetricsPort)
	assert.Equal(t, 10, cli.ConnectAttempts)
	require.NoError(t, validateFlags(cli))
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("FRAMESYNC_CONNECT_ATTEMPTS", "3")
	t.Setenv("FRAMESYNC_DEBUG", "true")

	cli, err := parseFlags([]string{"--timeout=2.5", "--streams=depthStream"}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, 3, cli.ConnectAttempts)
	assert.Equal(t, "debug", cli.LogLevel)
	assert.Equal(t, 2.5, cli.TimeoutSecs)
	assert.Equal(t, "depthStream", cli.Streams)
}

func TestValidateFlags(t *testing.T) {
	tests := []struct {
		name string
		cli  CLIConfig
	}{
		{"missing config", CLIConfig{ConfigPath: "does-not-exist.yaml", ConnectAttempts: 1}},
		{"bad level", CLIConfig{LogLevel: "trace", ConnectAttempts: 1}},
		{"bad format", CLIConfig{LogFormat: "xml", ConnectAttempts: 1}},
		{"bad port", CLIConfig{MetricsPort: 70000, ConnectAttempts: 1}},
		{"no attempts", CLIConfig{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cli := tt.cli
			assert.Error(t, validateFlags(&cli))
		})
	}
}

func TestApplyFlagOverrides(t *testing.T) {
	cfg := config.Default()
	applyFlagOverrides(cfg, &CLIConfig{
		LogLevel:     "warn",
		TimeoutSecs:  0,
		Streams:      "depthStream, alignedDepthColor",
		TransportURL: "nats://camera:4222",
		MetricsPort:  9200,
	})

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 0.0, cfg.TimeoutSecs)
	assert.Equal(t, []string{stats.DepthStream, stats.AlignedDepthStream}, cfg.RequestedStreams)
	assert.Equal(t, "nats://camera:4222", cfg.Transport.URL)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9200, cfg.Metrics.Port)

	applyFlagOverrides(cfg, &CLIConfig{TimeoutSecs: -1, MetricsPort: 0})
	assert.Equal(t, 0.0, cfg.TimeoutSecs)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--version"}, &stdout, &stderr))
	assert.Equal(t, "framesync version "+Version+"\n", stdout.String())
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"--help"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "depth camera stream statistics")
}

func TestRun_Validate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camera.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_name: bench\ntimeout_secs: 3\n"), 0644))

	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--config", path, "--validate", "--streams=colorStream"}, &stdout, &stderr)
	require.NoError(t, err)

	var cfg config.Config
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &cfg))
	assert.Equal(t, "bench", cfg.NodeName)
	assert.Equal(t, 3.0, cfg.TimeoutSecs)
	assert.Equal(t, []string{stats.ColorStream}, cfg.RequestedStreams)
	assert.Contains(t, stderr.String(), "Configuration is valid")
}

func TestRun_InvalidConfiguration(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), []string{"--streams=infraStream", "--validate"}, &stdout, &stderr)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "infraStream")
	assert.Empty(t, stdout.String())
}

func TestWriteSummary(t *testing.T) {
	st := store.New(stats.DepthStream, stats.AlignedDepthStream)
	st.Replace(store.Update{
		Stream:   stats.AlignedDepthStream,
		Stats:    stats.Stats{MeanNonZero: math.NaN(), Shape: []int{480, 640}, SizeConsistent: true},
		Received: time.Unix(10, 0).UTC(),
	})

	var out bytes.Buffer
	require.NoError(t, writeSummary(&out, Summary{
		NodeName: "rs2_listener",
		State:    aggregator.StateTimedOut,
		Polls:    7,
		Elapsed:  (1500 * time.Millisecond).String(),
		Streams:  st.Snapshot(),
	}, true))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &doc))
	assert.Equal(t, "timed_out", doc["state"])
	assert.Equal(t, "1.5s", doc["elapsed"])

	streams := doc["streams"].(map[string]any)
	aligned := streams[stats.AlignedDepthStream].(map[string]any)
	alignedStats := aligned["stats"].(map[string]any)
	assert.Nil(t, alignedStats["mean_nonzero"])
	assert.Equal(t, true, alignedStats["size_consistent"])

	depth := streams[stats.DepthStream].(map[string]any)
	assert.NotContains(t, depth, "stats")
}

func TestSetupLogger(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel(" warn "))
	assert.Equal(t, slog.LevelInfo+2, parseLevel("info+2"))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))

	var buf bytes.Buffer
	logger := setupLogger(&buf, "warn", "text", "node-a")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "node=node-a")
	assert.Contains(t, out, "service="+appName)
}
