package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360/framesync/errors"
)

// DefaultEnvPrefix prefixes every environment override
const DefaultEnvPrefix = "FRAMESYNC"

// Loader handles configuration loading with layers and overrides
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
}

// NewLoader creates a loader that starts from Default and validates the result
func NewLoader() *Loader {
	return &Loader{
		layers:     []string{},
		validation: true,
		envPrefix:  DefaultEnvPrefix,
	}
}

// Load reads a single configuration file on top of the defaults
func Load(path string) (*Config, error) {
	return NewLoader().LoadFile(path)
}

// AddLayer adds a configuration file layer; later layers win
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables semantic validation of the merged result.
// Schema validation of each layer always runs.
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the environment override prefix
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = prefix
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load merges all layers over the defaults, applies environment overrides and
// validates the result.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", fmt.Sprintf("load %s", path))
		}
		cfg, err = mergeFromMap(cfg, raw)
		if err != nil {
			return nil, errors.Wrap(err, "Loader", "Load", fmt.Sprintf("merge %s", path))
		}
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadRaw reads one layer into a generic map and checks it against the schema
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := readConfigFile(path)
	if err != nil {
		return nil, err
	}

	raw, err := decodeDocument(path, data)
	if err != nil {
		return nil, err
	}

	if err := validateDocument(path, raw); err != nil {
		return nil, err
	}

	parseDurations(raw)
	return raw, nil
}

func decodeDocument(path string, data []byte) (map[string]any, error) {
	raw := map[string]any{}

	switch formatOf(path) {
	case formatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Config", "decodeDocument", "parse YAML")
		}
	default:
		if err := checkJSONDepth(data); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Config", "decodeDocument", "check JSON structure")
		}
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Config", "decodeDocument", "parse JSON")
		}
	}

	// An empty YAML document decodes to nil
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// parseDurations converts duration strings to nanoseconds for JSON unmarshaling
func parseDurations(data map[string]any) {
	convertDuration(data, "poll_interval")
	if tr, ok := data["transport"].(map[string]any); ok {
		for _, key := range []string{"timeout", "reconnect_wait", "ping_interval", "drain_timeout", "max_backoff"} {
			convertDuration(tr, key)
		}
	}
}

func convertDuration(m map[string]any, key string) {
	if s, ok := m[key].(string); ok {
		if d, err := time.ParseDuration(s); err == nil {
			m[key] = d.Nanoseconds()
		}
	}
}

// mergeFromMap merges a raw layer into base, only overriding fields present in the layer
func mergeFromMap(base *Config, override map[string]any) (*Config, error) {
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, err
	}

	var baseMap map[string]any
	if err := json.Unmarshal(baseJSON, &baseMap); err != nil {
		return nil, err
	}

	mergedJSON, err := json.Marshal(deepMergeMaps(baseMap, override))
	if err != nil {
		return nil, err
	}

	var merged Config
	if err := json.Unmarshal(mergedJSON, &merged); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Config", "mergeFromMap", "decode merged config")
	}
	return &merged, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence.
// Lists are replaced, not appended.
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}

		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}

		result[k] = v
	}

	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(suffix string) (string, bool, error) {
		key := l.envPrefix + "_" + suffix
		val := os.Getenv(key)
		if err := checkEnvValue(key, val); err != nil {
			return "", false, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrInvalidConfig, err), "Loader", "applyEnvOverrides", "read environment")
		}
		return val, val != "", nil
	}

	overrides := []struct {
		suffix string
		apply  func(string) error
	}{
		{"NODE_NAME", func(v string) error { cfg.NodeName = v; return nil }},
		{"TIMEOUT_SECS", func(v string) error {
			secs, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			cfg.TimeoutSecs = secs
			return nil
		}},
		{"TIMEOUT_MODE", func(v string) error { cfg.TimeoutMode = v; return nil }},
		{"POLL_INTERVAL", func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			cfg.PollInterval = d
			return nil
		}},
		{"REQUESTED_STREAMS", func(v string) error {
			streams := strings.Split(v, ",")
			for i := range streams {
				streams[i] = strings.TrimSpace(streams[i])
			}
			cfg.RequestedStreams = streams
			return nil
		}},
		{"TRANSPORT_KIND", func(v string) error { cfg.Transport.Kind = v; return nil }},
		{"TRANSPORT_URL", func(v string) error { cfg.Transport.URL = v; return nil }},
		{"TRANSPORT_DISPATCH", func(v string) error { cfg.Transport.Dispatch = v; return nil }},
		{"TRANSPORT_USERNAME", func(v string) error { cfg.Transport.Username = v; return nil }},
		{"TRANSPORT_PASSWORD", func(v string) error { cfg.Transport.Password = v; return nil }},
		{"TRANSPORT_TOKEN", func(v string) error { cfg.Transport.Token = v; return nil }},
		{"LOG_LEVEL", func(v string) error { cfg.Log.Level = v; return nil }},
		{"LOG_FORMAT", func(v string) error { cfg.Log.Format = v; return nil }},
	}

	for _, o := range overrides {
		val, ok, err := get(o.suffix)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := o.apply(val); err != nil {
			return errors.WrapInvalid(
				fmt.Errorf("%w: %s_%s: %v", errors.ErrInvalidConfig, l.envPrefix, o.suffix, err),
				"Loader", "applyEnvOverrides", "parse environment")
		}
	}
	return nil
}

// SaveToFile saves the configuration as indented JSON, which YAML layers also accept
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}
