package lifecycle

import (
	"time"

	"git.home.luguber.info/inful/meterd/internal/capability"
)

// Command is one inbound lifecycle request. Config is the raw document; it
// is parsed only by the verbs that need it.
type Command struct {
	ID       string
	Verb     Verb
	Config   string
	DataPath string
	Identity string
	// Source names the surface the command arrived on (http, nats, control, cli).
	Source string
}

// Call records one manager call made while handling a command.
type Call struct {
	Op string `json:"op"`
	OK bool   `json:"ok"`
}

// SideEffect names a hook invocation.
type SideEffect string

const (
	EffectEnterRunning SideEffect = "enter_running"
	EffectExitRunning  SideEffect = "exit_running"
	EffectAnnounce     SideEffect = "announce"
	EffectTerminate    SideEffect = "terminate"
)

// Result describes the outcome of Handle. State is always derived after the
// command, whatever happened. Requested is set only when the mode resolved
// the wire verb to an alias.
type Result struct {
	ID          string           `json:"id,omitempty"`
	Verb        Verb             `json:"verb"`
	Requested   Verb             `json:"requested,omitempty"`
	State       capability.State `json:"state"`
	Succeeded   bool             `json:"succeeded"`
	Calls       []Call           `json:"calls,omitempty"`
	SideEffects []SideEffect     `json:"side_effects,omitempty"`
	// Status and RunningTime are filled by QUERY.
	Status      string        `json:"status,omitempty"`
	RunningTime string        `json:"running_time,omitempty"`
	Duration    time.Duration `json:"duration"`
	Err         error         `json:"-"`
}

// Snapshot is a read-only view of the manager.
type Snapshot struct {
	State       capability.State `json:"state"`
	Mode        Mode             `json:"mode"`
	Exists      bool             `json:"exists"`
	Initialised bool             `json:"initialised"`
	Started     bool             `json:"started"`
	Status      string           `json:"status"`
	RunningTime string           `json:"running_time"`
}
