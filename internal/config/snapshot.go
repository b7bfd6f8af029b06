package config

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Snapshot returns a stable hash of the fields that affect a running
// daemon. Two configs with equal snapshots need no reload.
func (c *Config) Snapshot() string {
	if c == nil {
		return ""
	}
	h := sha256.New()
	w := func(parts ...string) { h.Write([]byte(strings.Join(parts, "="))); h.Write([]byte{0}) }
	w("daemon.mode", c.Daemon.Mode)
	w("daemon.component", c.Daemon.Component)
	w("daemon.data_path", c.Daemon.DataPath)
	w("daemon.identity", c.Daemon.Identity)
	w("daemon.self_terminate_delay", c.Daemon.SelfTerminateDelay.String())
	w("daemon.indicator_first", c.Daemon.IndicatorFirst.String())
	w("daemon.indicator_interval", c.Daemon.IndicatorInterval.String())
	w("daemon.slow_command", c.Daemon.SlowCommand.String())
	w("daemon.queue_size", strconv.Itoa(c.Daemon.QueueSize))
	w("daemon.command_timeout", c.Daemon.CommandTimeout.String())
	w("http.addr", c.HTTP.Addr)
	w("nats.enabled", strconv.FormatBool(c.NATS.Enabled))
	w("nats.url", c.NATS.URL)
	w("nats.subject_prefix", c.NATS.SubjectPrefix)
	w("journal.path", c.Journal.Path)
	w("logging.level", string(NormalizeLogLevel(c.Logging.Level)))
	w("tracing.enabled", strconv.FormatBool(c.Tracing.Enabled))
	w("tracing.sample_ratio", strconv.FormatFloat(c.Tracing.SampleRatio, 'g', -1, 64))
	return hex.EncodeToString(h.Sum(nil))
}

// RestartRequired reports whether moving from c to next changes anything
// other than the log level, which is the only setting applied live.
func (c *Config) RestartRequired(next *Config) bool {
	if c == nil || next == nil {
		return c != next
	}
	a, b := *c, *next
	a.Logging, b.Logging = LoggingConfig{}, LoggingConfig{}
	return a.Snapshot() != b.Snapshot()
}
