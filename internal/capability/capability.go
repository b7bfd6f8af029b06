// Package capability defines the boundary to the opaque measurement manager
// driven by the lifecycle controller, plus an in-process reference manager.
package capability

// Querier reports the three flags the manager state is derived from.
type Querier interface {
	Exists() bool
	IsInitialised() bool
	IsStarted() bool
}

// Manager is the measurement manager capability. Every mutating call reports
// success as a bool; the manager itself decides whether a call is valid for
// its current internal state.
type Manager interface {
	Querier

	Create(req CreateRequest) bool
	Init() bool
	Start() bool
	Stop() bool
	Reset(cfg Config) bool
	Destroy() bool

	// QueryStatus returns a free-text status string.
	QueryStatus() string
	// RunningTime returns the elapsed running time as HH:MM:SS, or NotAvailable.
	RunningTime() string
}

// Terminator is implemented by managers that hold resources beyond the
// lifecycle object and need an explicit release at process teardown.
type Terminator interface {
	Terminate() bool
}

// CreateRequest carries everything a manager needs to construct its object.
type CreateRequest struct {
	Config   Config
	DataPath string
	Identity string
}

// NotAvailable is the running time reported when nothing is running.
const NotAvailable = "N/A"

// Free-text statuses reported by InProcess.QueryStatus.
const (
	StatusMissing    = "missing"
	StatusTerminated = "terminated"
	StatusStopped    = "stopped"
	StatusStarted    = "started"
	StatusIdle       = "idle"
)
