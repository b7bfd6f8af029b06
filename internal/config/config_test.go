package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meterd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestParseEmptyAppliesDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)

	assert.Equal(t, "normal", cfg.Daemon.Mode)
	assert.Equal(t, 1500*time.Millisecond, cfg.Daemon.SelfTerminateDelay)
	assert.Equal(t, time.Second, cfg.Daemon.IndicatorFirst)
	assert.Equal(t, 5*time.Second, cfg.Daemon.IndicatorInterval)
	assert.Equal(t, 2*time.Second, cfg.Daemon.SlowCommand)
	assert.Equal(t, DefaultQueueSize, cfg.Daemon.QueueSize)
	assert.Equal(t, DefaultHTTPAddr, cfg.HTTP.Addr)
	assert.Equal(t, "meterd", cfg.NATS.SubjectPrefix)
	assert.False(t, cfg.NATS.Enabled)
	assert.Equal(t, DefaultJournalPath, cfg.Journal.Path)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.InDelta(t, 1.0, cfg.Tracing.SampleRatio, 0)
}

func TestParseFullDocument(t *testing.T) {
	cfg, err := Parse([]byte(`
daemon:
  mode: advanced
  component: ch.ethz.exot.intents/.MeterService
  self_terminate_delay: 250ms
  indicator_interval: 10s
  queue_size: 8
http:
  addr: ":9000"
nats:
  enabled: true
  url: nats://localhost:4222
  subject_prefix: lab.meterd
journal:
  path: none
logging:
  level: DEBUG
`))
	require.NoError(t, err)
	assert.Equal(t, "advanced", cfg.Daemon.Mode)
	assert.Equal(t, "ch.ethz.exot.intents/.MeterService", cfg.Daemon.Component)
	assert.Equal(t, 250*time.Millisecond, cfg.Daemon.SelfTerminateDelay)
	assert.Equal(t, 10*time.Second, cfg.Daemon.IndicatorInterval)
	assert.Equal(t, 8, cfg.Daemon.QueueSize)
	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.True(t, cfg.NATS.Enabled)
	assert.Equal(t, "lab.meterd", cfg.NATS.SubjectPrefix)
	assert.Empty(t, cfg.Journal.Path)
	assert.Equal(t, LogLevelDebug, NormalizeLogLevel(cfg.Logging.Level))
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("METERD_TEST_IDENTITY", "device-42")
	cfg, err := Parse([]byte("daemon:\n  identity: ${METERD_TEST_IDENTITY}\n"))
	require.NoError(t, err)
	assert.Equal(t, "device-42", cfg.Daemon.Identity)
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("daemon:\n  moed: normal\n"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestValidationCollectsAllProblems(t *testing.T) {
	_, err := Parse([]byte(`
daemon:
  mode: turbo
  component: no-slash
  queue_size: -1
nats:
  enabled: true
  subject_prefix: "bad.>"
logging:
  level: loud
tracing:
  sample_ratio: 2
`))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
	msg := err.Error()
	for _, field := range []string{
		"daemon.mode", "daemon.component", "daemon.queue_size",
		"nats.subject_prefix", "nats.url", "logging.level", "tracing.sample_ratio",
	} {
		assert.Contains(t, msg, field)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, "daemon:\n  mode: advanced\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "advanced", cfg.Daemon.Mode)
}

func TestInitWritesLoadableExample(t *testing.T) {
	t.Setenv("METERD_IDENTITY", "example")
	path := filepath.Join(t.TempDir(), "meterd.yaml")
	require.NoError(t, Init(path, false))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "example", cfg.Daemon.Identity)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)

	err = Init(path, false)
	require.Error(t, err)
	require.NoError(t, Init(path, true))
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", LoggingConfig{Level: "debug"}.SlogLevel().String())
	assert.Equal(t, "WARN", LoggingConfig{Level: "warning"}.SlogLevel().String())
	assert.Equal(t, "INFO", LoggingConfig{Level: "whatever"}.SlogLevel().String())
}

func TestSnapshotAndRestartRequired(t *testing.T) {
	a := Default()
	b := Default()
	assert.Equal(t, a.Snapshot(), b.Snapshot())
	assert.False(t, a.RestartRequired(b))

	b.Logging.Level = "debug"
	assert.NotEqual(t, a.Snapshot(), b.Snapshot())
	assert.False(t, a.RestartRequired(b))

	b.Daemon.Mode = "advanced"
	assert.True(t, a.RestartRequired(b))
}

func TestDefaultApplierByDomain(t *testing.T) {
	applier := NewDefaultApplier()
	for _, domain := range []string{"daemon", "http", "nats", "journal", "logging", "tracing"} {
		assert.NotNil(t, applier.GetApplierByDomain(domain), domain)
	}
	assert.Nil(t, applier.GetApplierByDomain("hugo"))
}
