package capability

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

func TestParseConfig(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantKey string
	}{
		{"json object", `{"period": 10, "nested": {"a": [1,2]}}`, false, "period"},
		{"yaml mapping", "period: 10\nname: thermal\n", false, "name"},
		{"empty", "   ", true, ""},
		{"json array", `[1,2,3]`, true, ""},
		{"json null", `null`, true, ""},
		{"broken json", `{"period": `, true, ""},
		{"scalar", `hello`, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := ParseConfig(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, cfg, tt.wantKey)
		})
	}
}

func TestConfigString(t *testing.T) {
	var nilCfg Config
	assert.Equal(t, "{}", nilCfg.String())
	assert.JSONEq(t, `{"a":1}`, Config{"a": 1}.String())
}

func TestInProcessLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewInProcess(WithClock(clock))

	assert.Equal(t, StatusMissing, m.QueryStatus())
	assert.False(t, m.Init(), "init without object")
	assert.False(t, m.Start(), "start without object")
	assert.False(t, m.Destroy(), "destroy without object")

	require.True(t, m.Create(CreateRequest{DataPath: "/data", Identity: "dev-1"}))
	assert.False(t, m.Create(CreateRequest{}), "create twice")
	assert.Equal(t, Config{}, m.Request().Config, "nil config becomes empty object")
	assert.Equal(t, StatusIdle, m.QueryStatus())
	assert.False(t, m.Start(), "start before init")

	require.True(t, m.Init())
	assert.False(t, m.Init(), "init twice")
	assert.Equal(t, NotAvailable, m.RunningTime())

	require.True(t, m.Start())
	assert.False(t, m.Start(), "start twice")
	assert.False(t, m.Init(), "init while started")
	assert.Equal(t, StatusStarted, m.QueryStatus())

	clock.Advance(1*time.Hour + 2*time.Minute + 3*time.Second)
	assert.Equal(t, "01:02:03", m.RunningTime())

	require.True(t, m.Stop())
	assert.False(t, m.Stop(), "stop twice")
	assert.Equal(t, StatusStopped, m.QueryStatus())
	assert.Equal(t, NotAvailable, m.RunningTime())
	assert.False(t, m.Start(), "restart after stop")

	require.True(t, m.Destroy())
	assert.False(t, m.Exists())
	assert.False(t, m.IsInitialised())
}

func TestInProcessResetKeepsIdentity(t *testing.T) {
	m := NewInProcess(WithClock(clockwork.NewFakeClock()))
	require.True(t, m.Reset(Config{"a": 1}), "reset of missing object creates")
	assert.True(t, m.Exists())

	require.True(t, m.Destroy())
	require.True(t, m.Create(CreateRequest{Config: Config{"a": 1}, DataPath: "/p", Identity: "id"}))
	require.True(t, m.Init())
	require.True(t, m.Start())

	require.True(t, m.Reset(Config{"b": 2}))
	assert.True(t, m.Exists())
	assert.False(t, m.IsInitialised())
	assert.False(t, m.IsStarted())
	req := m.Request()
	assert.Equal(t, "/p", req.DataPath)
	assert.Equal(t, "id", req.Identity)
	assert.Equal(t, Config{"b": 2}, req.Config)
}

func TestInProcessTerminate(t *testing.T) {
	m := NewInProcess(WithClock(clockwork.NewFakeClock()))
	assert.False(t, m.Terminate())
	require.True(t, m.Create(CreateRequest{}))
	require.True(t, m.Init())
	require.True(t, m.Start())
	require.True(t, m.Terminate())
	assert.Equal(t, StatusTerminated, m.QueryStatus())
	assert.False(t, m.IsStarted())
	assert.True(t, m.Destroy())
}

func TestFormatRunningTime(t *testing.T) {
	assert.Equal(t, "00:00:00", FormatRunningTime(-time.Second))
	assert.Equal(t, "00:01:05", FormatRunningTime(65*time.Second))
	assert.Equal(t, "26:00:00", FormatRunningTime(26*time.Hour))
}
