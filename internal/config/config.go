// Package config loads the meterd daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

// Config is the daemon configuration.
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	HTTP    HTTPConfig    `yaml:"http"`
	NATS    NATSConfig    `yaml:"nats"`
	Journal JournalConfig `yaml:"journal"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// DaemonConfig controls the process host and the lifecycle controller.
type DaemonConfig struct {
	// Mode is "normal" or "advanced".
	Mode string `yaml:"mode"`
	// Component is this service's "<namespace>/<name>" address on the local bus.
	Component string `yaml:"component,omitempty"`
	// DataPath and Identity are the defaults for NORMAL_START when the
	// command does not carry them.
	DataPath string `yaml:"data_path,omitempty"`
	Identity string `yaml:"identity,omitempty"`

	SelfTerminateDelay time.Duration `yaml:"self_terminate_delay"`
	IndicatorFirst     time.Duration `yaml:"indicator_first"`
	IndicatorInterval  time.Duration `yaml:"indicator_interval"`
	SlowCommand        time.Duration `yaml:"slow_command"`
	QueueSize          int           `yaml:"queue_size"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
}

// HTTPConfig controls the HTTP control surface.
type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// NATSConfig controls the NATS transport.
type NATSConfig struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url,omitempty"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// ConnectRetry bounds the whole connection retry loop.
	ConnectRetry time.Duration `yaml:"connect_retry"`
}

// JournalConfig controls the command journal. The path "none" disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// TracingConfig controls span collection.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	_ = NewDefaultApplier().ApplyDefaults(cfg)
	return cfg
}

// Load reads the configuration at path. Environment variables from .env
// files are loaded first, ${VAR} references are expanded, then defaults are
// applied and the result is validated.
func Load(path string) (*Config, error) {
	loadEnvFile()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ferrors.ConfigError("configuration file not found").
				WithContext("path", path).Build()
		}
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to read configuration").
			WithContext("path", path).Build()
	}
	cfg, err := Parse(data)
	if err != nil {
		if c, ok := ferrors.AsClassified(err); ok {
			return nil, c.WithContext("path", path)
		}
		return nil, err
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document. Unknown fields are
// rejected.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to parse configuration").Build()
	}
	if err := NewDefaultApplier().ApplyDefaults(&cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "failed to apply defaults").Build()
	}
	if err := ValidateConfig(&cfg); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid configuration").Build()
	}
	return &cfg, nil
}

// Init writes an example configuration to path.
func Init(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return ferrors.ConfigError("configuration file already exists (use --force to overwrite)").
			WithContext("path", path).Build()
	}

	example := Default()
	example.Daemon.Component = "ch.ethz.exot.intents/.MeterService"
	example.Daemon.DataPath = "/sdcard/meterd"
	example.Daemon.Identity = "${METERD_IDENTITY}"
	example.NATS.URL = "nats://127.0.0.1:4222"

	data, err := yaml.Marshal(example)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryInternal, "failed to marshal example configuration").Build()
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryConfig, "failed to write configuration").
			WithContext("path", path).Build()
	}
	return nil
}
