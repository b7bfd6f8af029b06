package capability

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// InProcess is a reference manager used when no native module is attached.
// It enforces the same call validity rules as the native wrapper:
//   - create fails when an object exists
//   - init needs an object that is neither initialised nor started
//   - start needs an initialised object that is not started
//   - stop needs a started object
//   - destroy needs an object and clears it
type InProcess struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	logger *slog.Logger

	exists      bool
	initialised bool
	started     bool
	stopped     bool
	terminated  bool
	startedAt   time.Time

	req CreateRequest
}

// InProcessOption configures an InProcess manager.
type InProcessOption func(*InProcess)

// WithClock sets the clock used for running time.
func WithClock(c clockwork.Clock) InProcessOption {
	return func(m *InProcess) { m.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) InProcessOption {
	return func(m *InProcess) { m.logger = l }
}

// NewInProcess returns an empty InProcess manager.
func NewInProcess(opts ...InProcessOption) *InProcess {
	m := &InProcess{
		clock:  clockwork.NewRealClock(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *InProcess) Create(req CreateRequest) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exists {
		m.logger.Warn("Manager object already exists", logfields.Op("create"))
		return false
	}
	if req.Config == nil {
		req.Config = Config{}
	}
	m.req = req
	m.exists = true
	m.initialised, m.started, m.stopped, m.terminated = false, false, false, false
	m.logger.Info("Manager object created",
		logfields.Path(req.DataPath),
		slog.String("identity", req.Identity))
	return true
}

func (m *InProcess) Init() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.exists:
		m.logger.Error("Manager does not exist", logfields.Op("init"))
		return false
	case m.initialised || m.started:
		m.logger.Warn("Manager already initialised", logfields.Op("init"))
		return false
	case m.terminated:
		m.logger.Warn("Manager was terminated", logfields.Op("init"))
		return false
	}
	m.initialised = true
	return true
}

func (m *InProcess) Start() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.exists:
		m.logger.Error("Manager does not exist", logfields.Op("start"))
		return false
	case !m.initialised:
		m.logger.Warn("Manager not initialised", logfields.Op("start"))
		return false
	case m.started:
		m.logger.Warn("Manager already started", logfields.Op("start"))
		return false
	case m.stopped || m.terminated:
		m.logger.Warn("Manager cannot be restarted, reset it first", logfields.Op("start"))
		return false
	}
	m.started = true
	m.startedAt = m.clock.Now()
	return true
}

func (m *InProcess) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		m.logger.Error("Manager does not exist", logfields.Op("stop"))
		return false
	}
	if !m.started {
		m.logger.Warn("Manager not started", logfields.Op("stop"))
		return false
	}
	m.started = false
	m.stopped = true
	return true
}

// Reset destroys an existing object and creates a fresh one from cfg. The
// data path and identity of the previous object are kept.
func (m *InProcess) Reset(cfg Config) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cfg == nil {
		cfg = Config{}
	}
	req := m.req
	req.Config = cfg
	m.clearLocked()
	m.req = req
	m.exists = true
	m.logger.Info("Manager object reset")
	return true
}

func (m *InProcess) Destroy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		m.logger.Warn("Manager object does not exist", logfields.Op("destroy"))
		return false
	}
	m.clearLocked()
	return true
}

// Terminate stops the object permanently without destroying it. A terminated
// object can only be destroyed or reset.
func (m *InProcess) Terminate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return false
	}
	m.started = false
	m.terminated = true
	return true
}

func (m *InProcess) clearLocked() {
	m.exists, m.initialised, m.started, m.stopped, m.terminated = false, false, false, false, false
	m.startedAt = time.Time{}
	m.req = CreateRequest{}
}

func (m *InProcess) Exists() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists
}

func (m *InProcess) IsInitialised() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists && m.initialised
}

func (m *InProcess) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exists && m.started
}

func (m *InProcess) QueryStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case !m.exists:
		return StatusMissing
	case m.terminated:
		return StatusTerminated
	case m.started:
		return StatusStarted
	case m.stopped:
		return StatusStopped
	default:
		return StatusIdle
	}
}

func (m *InProcess) RunningTime() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists || !m.started {
		return NotAvailable
	}
	return FormatRunningTime(m.clock.Since(m.startedAt))
}

// Request returns the request the current object was created from.
func (m *InProcess) Request() CreateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.req
}

// FormatRunningTime renders d as HH:MM:SS. Hours are not wrapped at 24.
func FormatRunningTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
