package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/framesync/errors"
	"github.com/c360/framesync/stats"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"node_name": "bench",
		"timeout_secs": 5,
		"poll_interval": "250ms",
		"requested_streams": ["depthStream"],
		"transport": {"kind": "mqtt", "url": "tcp://localhost:1883", "qos": 1, "timeout": "2s"},
		"metrics": {"enabled": true, "port": 9191}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "bench", cfg.NodeName)
	assert.Equal(t, 5*time.Second, cfg.Timeout())
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{stats.DepthStream}, cfg.RequestedStreams)
	assert.Equal(t, TransportMQTT, cfg.Transport.Kind)
	assert.Equal(t, 1, cfg.Transport.QoS)
	assert.Equal(t, 2*time.Second, cfg.Transport.Timeout)
	// Untouched fields keep their defaults
	assert.Equal(t, "poll", cfg.Transport.Dispatch)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Len(t, cfg.Streams, 3)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
node_name: yaml-node
timeout_secs: 0.5
timeout_mode: start
poll_interval: 50000000
streams:
  alignedDepthColor:
    clip_max: 2000
  infraStream:
    topic: /camera/infra1/image_rect_raw
    encodings: [mono8]
requested_streams: [alignedDepthColor, infraStream]
log:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "yaml-node", cfg.NodeName)
	assert.Equal(t, 500*time.Millisecond, cfg.Timeout())
	assert.Equal(t, "start", cfg.TimeoutMode)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.Log.Level)

	aligned := cfg.Streams[stats.AlignedDepthStream]
	assert.Equal(t, 2000.0, aligned.ClipMax)
	assert.True(t, aligned.ZeroAsBackground)
	assert.Equal(t, stats.DefaultAlignedDepthSize, aligned.ExpectedSize)
	assert.Equal(t, "/camera/aligned_depth_to_color/image_raw", aligned.Topic)

	specs := cfg.AggregatorSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, "infraStream", specs[1].Name)
	assert.Equal(t, []string{"mono8"}, specs[1].Encodings)
}

func TestLoader_Layers(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
node_name: base
requested_streams: [depthStream, colorStream]
transport:
  url: nats://base:4222
`)
	site := writeConfig(t, "site.json", `{
		"requested_streams": ["colorStream"],
		"transport": {"dispatch": "async"}
	}`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(site)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "base", cfg.NodeName)
	assert.Equal(t, []string{stats.ColorStream}, cfg.RequestedStreams)
	assert.Equal(t, "nats://base:4222", cfg.Transport.URL)
	assert.Equal(t, "async", cfg.Transport.Dispatch)
}

func TestLoader_SchemaRejects(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		field   string
	}{
		{"unknown key", "c.json", `{"node": "x"}`, "node"},
		{"bad enum", "c.json", `{"transport": {"kind": "kafka"}}`, "transport.kind"},
		{"bad duration", "c.yaml", "poll_interval: soon\n", "poll_interval"},
		{"wrong type", "c.json", `{"timeout_secs": "ten"}`, "timeout_secs"},
		{"unknown stream key", "c.yaml", "streams:\n  depthStream:\n    clip: 3\n", "clip"},
		{"negative clip", "c.json", `{"streams": {"depthStream": {"clip_max": -1}}}`, "clip_max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.file, tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoader_SemanticValidation(t *testing.T) {
	path := writeConfig(t, "c.json", `{"requested_streams": ["missingStream"]}`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missingStream")

	loader := NewLoader()
	loader.EnableValidation(false)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"missingStream"}, cfg.RequestedStreams)
}

func TestLoader_FileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrConfigNotFound)
		assert.True(t, errors.IsFatal(err))
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, err := Load(writeConfig(t, "config.toml", "node_name = 'x'"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only JSON or YAML")
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := Load(writeConfig(t, "config.json", `{"node_name": `))
		require.Error(t, err)
		assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	})

	t.Run("deep json", func(t *testing.T) {
		deep := strings.Repeat(`{"a":`, maxJSONDepth+1) + "1" + strings.Repeat("}", maxJSONDepth+1)
		_, err := Load(writeConfig(t, "config.json", deep))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nesting too deep")
	})

	t.Run("empty yaml", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "config.yml", ""))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("FRAMESYNC_NODE_NAME", "env-node")
	t.Setenv("FRAMESYNC_TIMEOUT_SECS", "12")
	t.Setenv("FRAMESYNC_POLL_INTERVAL", "20ms")
	t.Setenv("FRAMESYNC_REQUESTED_STREAMS", "depthStream, colorStream")
	t.Setenv("FRAMESYNC_TRANSPORT_URL", "nats://env:4222")
	t.Setenv("FRAMESYNC_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "env-node", cfg.NodeName)
	assert.Equal(t, 12*time.Second, cfg.Timeout())
	assert.Equal(t, 20*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{stats.DepthStream, stats.ColorStream}, cfg.RequestedStreams)
	assert.Equal(t, "nats://env:4222", cfg.Transport.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverrideErrors(t *testing.T) {
	t.Setenv("FRAMESYNC_TIMEOUT_SECS", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "FRAMESYNC_TIMEOUT_SECS")

	loader := NewLoader()
	loader.SetEnvPrefix("OTHER")
	_, err = loader.Load()
	require.NoError(t, err)
}

func TestConfig_SaveAndReload(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.NodeName = "saved"
	cfg.PollInterval = 75 * time.Millisecond

	for _, name := range []string{"saved.json", "saved.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, cfg.SaveToFile(path))

		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

		loaded, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, cfg, loaded, name)
	}
}

func TestSchema_IsCopied(t *testing.T) {
	s := Schema()
	require.NotEmpty(t, s)
	s[0] = 'x'
	assert.Equal(t, byte('{'), Schema()[0])
}

func TestLoader_ShippedConfigs(t *testing.T) {
	camera, err := filepath.Abs(filepath.Join("..", "configs", "camera.yaml"))
	require.NoError(t, err)
	mqttOverlay, err := filepath.Abs(filepath.Join("..", "configs", "camera-mqtt.yaml"))
	require.NoError(t, err)

	cfg, err := Load(camera)
	require.NoError(t, err)
	assert.Equal(t, 5.0, cfg.TimeoutSecs)
	assert.Equal(t, TransportNATS, cfg.Transport.Kind)
	assert.Equal(t, stats.DefaultPolicies()[stats.AlignedDepthStream], cfg.Streams[stats.AlignedDepthStream].Policy)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, time.Second, cfg.Transport.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.Transport.DrainTimeout)
	assert.Equal(t, 30*time.Second, cfg.Transport.MaxBackoff)
	assert.Zero(t, cfg.Transport.PingInterval)

	loader := NewLoader()
	loader.AddLayer(camera)
	loader.AddLayer(mqttOverlay)
	cfg, err = loader.Load()
	require.NoError(t, err)
	assert.Equal(t, TransportMQTT, cfg.Transport.Kind)
	assert.Equal(t, "tcp://localhost:1883", cfg.Transport.URL)
	assert.Equal(t, 1, cfg.Transport.QoS)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Len(t, cfg.RequestedStreams, 3)
}
