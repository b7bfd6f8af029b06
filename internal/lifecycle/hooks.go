package lifecycle

// Indicator is the persistent "running" indicator. The controller calls
// EnterRunning and ExitRunning only at the documented transition points.
type Indicator interface {
	EnterRunning()
	ExitRunning()
}

// Announcer surfaces a short user-visible acknowledgement.
type Announcer interface {
	Announce(msg string)
}

// Terminator receives the deferred self-termination request of NORMAL_STOP.
type Terminator interface {
	RequestTermination()
}

// Announcements.
const (
	AnnounceStarted = "started"
	AnnounceStopped = "stopped"
)

type nopHooks struct{}

func (nopHooks) EnterRunning()       {}
func (nopHooks) ExitRunning()        {}
func (nopHooks) Announce(string)     {}
func (nopHooks) RequestTermination() {}
