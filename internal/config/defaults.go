package config

import (
	"fmt"
	"time"
)

// Default values.
const (
	DefaultMode               = "normal"
	DefaultSelfTerminateDelay = 1500 * time.Millisecond
	DefaultIndicatorFirst     = time.Second
	DefaultIndicatorInterval  = 5 * time.Second
	DefaultSlowCommand        = 2 * time.Second
	DefaultQueueSize          = 64
	DefaultCommandTimeout     = 30 * time.Second
	DefaultHTTPAddr           = "127.0.0.1:8090"
	DefaultReadHeaderTimeout  = 5 * time.Second
	DefaultSubjectPrefix      = "meterd"
	DefaultConnectTimeout     = 2 * time.Second
	DefaultConnectRetry       = 30 * time.Second
	DefaultJournalPath        = "./meterd-journal.db"
	DefaultLogLevel           = "info"
	DefaultSampleRatio        = 1.0
)

// ConfigDefaultApplier fills in defaults for one configuration section.
type ConfigDefaultApplier interface {
	Domain() string
	ApplyDefaults(cfg *Config) error
}

// CompositeDefaultApplier applies every section's defaults.
type CompositeDefaultApplier struct {
	appliers []ConfigDefaultApplier
}

// NewDefaultApplier returns the applier for all sections.
func NewDefaultApplier() *CompositeDefaultApplier {
	return &CompositeDefaultApplier{
		appliers: []ConfigDefaultApplier{
			&DaemonDefaultApplier{},
			&HTTPDefaultApplier{},
			&NATSDefaultApplier{},
			&JournalDefaultApplier{},
			&LoggingDefaultApplier{},
			&TracingDefaultApplier{},
		},
	}
}

// ApplyDefaults applies defaults for all sections.
func (c *CompositeDefaultApplier) ApplyDefaults(cfg *Config) error {
	for _, applier := range c.appliers {
		if err := applier.ApplyDefaults(cfg); err != nil {
			return fmt.Errorf("applying defaults for %s: %w", applier.Domain(), err)
		}
	}
	return nil
}

// GetApplierByDomain returns one section's applier.
func (c *CompositeDefaultApplier) GetApplierByDomain(domain string) ConfigDefaultApplier {
	for _, applier := range c.appliers {
		if applier.Domain() == domain {
			return applier
		}
	}
	return nil
}

type DaemonDefaultApplier struct{}

func (d *DaemonDefaultApplier) Domain() string { return "daemon" }

func (d *DaemonDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Daemon.Mode == "" {
		cfg.Daemon.Mode = DefaultMode
	}
	if cfg.Daemon.SelfTerminateDelay == 0 {
		cfg.Daemon.SelfTerminateDelay = DefaultSelfTerminateDelay
	}
	if cfg.Daemon.IndicatorFirst == 0 {
		cfg.Daemon.IndicatorFirst = DefaultIndicatorFirst
	}
	if cfg.Daemon.IndicatorInterval == 0 {
		cfg.Daemon.IndicatorInterval = DefaultIndicatorInterval
	}
	if cfg.Daemon.SlowCommand == 0 {
		cfg.Daemon.SlowCommand = DefaultSlowCommand
	}
	if cfg.Daemon.QueueSize == 0 {
		cfg.Daemon.QueueSize = DefaultQueueSize
	}
	if cfg.Daemon.CommandTimeout == 0 {
		cfg.Daemon.CommandTimeout = DefaultCommandTimeout
	}
	return nil
}

type HTTPDefaultApplier struct{}

func (h *HTTPDefaultApplier) Domain() string { return "http" }

func (h *HTTPDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.HTTP.ReadHeaderTimeout == 0 {
		cfg.HTTP.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	return nil
}

type NATSDefaultApplier struct{}

func (n *NATSDefaultApplier) Domain() string { return "nats" }

func (n *NATSDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.NATS.ConnectTimeout == 0 {
		cfg.NATS.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.NATS.ConnectRetry == 0 {
		cfg.NATS.ConnectRetry = DefaultConnectRetry
	}
	return nil
}

type JournalDefaultApplier struct{}

func (j *JournalDefaultApplier) Domain() string { return "journal" }

// ApplyDefaults fills an empty path with the default; "none" disables the
// journal.
func (j *JournalDefaultApplier) ApplyDefaults(cfg *Config) error {
	switch cfg.Journal.Path {
	case "":
		cfg.Journal.Path = DefaultJournalPath
	case "none":
		cfg.Journal.Path = ""
	}
	return nil
}

type LoggingDefaultApplier struct{}

func (l *LoggingDefaultApplier) Domain() string { return "logging" }

func (l *LoggingDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	return nil
}

type TracingDefaultApplier struct{}

func (t *TracingDefaultApplier) Domain() string { return "tracing" }

func (t *TracingDefaultApplier) ApplyDefaults(cfg *Config) error {
	if cfg.Tracing.SampleRatio == 0 {
		cfg.Tracing.SampleRatio = DefaultSampleRatio
	}
	return nil
}
