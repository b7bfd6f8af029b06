package config

import (
	"strings"

	"git.home.luguber.info/inful/meterd/internal/forward"
	"git.home.luguber.info/inful/meterd/internal/foundation"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
)

// ValidateConfig checks every section and reports all problems at once.
func ValidateConfig(cfg *Config) error {
	return foundation.NewValidatorChain[*Config](
		validateDaemon,
		validateHTTP,
		validateNATS,
		validateLogging,
		validateTracing,
	).Validate(cfg).ToError()
}

func validateDaemon(cfg *Config) foundation.ValidationResult {
	d := cfg.Daemon
	_, modeErr := lifecycle.ParseMode(d.Mode)
	res := foundation.Valid().
		Check(modeErr == nil, "daemon.mode", "one_of", "must be normal or advanced").
		Check(d.QueueSize >= 1, "daemon.queue_size", "positive", "must be at least 1")
	if d.Component != "" {
		_, err := forward.ParseComponent(d.Component)
		res = res.Check(err == nil, "daemon.component", "address", "must be <namespace>/<name>")
	}
	return res.
		Combine(foundation.NonNegative("daemon.self_terminate_delay", d.SelfTerminateDelay)).
		Combine(foundation.NonNegative("daemon.slow_command", d.SlowCommand)).
		Combine(foundation.Positive("daemon.indicator_first", d.IndicatorFirst)).
		Combine(foundation.Positive("daemon.indicator_interval", d.IndicatorInterval)).
		Combine(foundation.Positive("daemon.command_timeout", d.CommandTimeout))
}

func validateHTTP(cfg *Config) foundation.ValidationResult {
	return foundation.Valid().
		Check(cfg.HTTP.Addr == "" || strings.Contains(cfg.HTTP.Addr, ":"), "http.addr", "format", "must be host:port").
		Combine(foundation.NonNegative("http.read_header_timeout", cfg.HTTP.ReadHeaderTimeout))
}

func validateNATS(cfg *Config) foundation.ValidationResult {
	n := cfg.NATS
	literal := !strings.ContainsAny(n.SubjectPrefix, " \t*>") &&
		!strings.HasPrefix(n.SubjectPrefix, ".") && !strings.HasSuffix(n.SubjectPrefix, ".")
	return foundation.Valid().
		Check(literal, "nats.subject_prefix", "format", "must be a literal subject without wildcards").
		Check(!n.Enabled || n.URL != "", "nats.url", "required", "is required when nats is enabled").
		Combine(foundation.NonNegative("nats.connect_timeout", n.ConnectTimeout)).
		Combine(foundation.NonNegative("nats.connect_retry", n.ConnectRetry))
}

func validateLogging(cfg *Config) foundation.ValidationResult {
	return foundation.Valid().Check(logLevels.Valid(cfg.Logging.Level), "logging.level", "one_of",
		"must be one of "+strings.Join(logLevels.Keys(), ", "))
}

func validateTracing(cfg *Config) foundation.ValidationResult {
	return foundation.InRange("tracing.sample_ratio", cfg.Tracing.SampleRatio, 0, 1)
}
