package status

import (
	"time"

	"git.home.luguber.info/inful/meterd/internal/capability"
)

// Kind tags an Event.
type Kind string

const (
	// KindStatus carries the state derived after a command.
	KindStatus Kind = "STATUS"
	// KindKilled carries the final state at teardown. It is never published
	// while the manager is running.
	KindKilled Kind = "KILLED"
	// KindException reports a manager call that panicked.
	KindException Kind = "EXCEPTION"
)

// Event is the single message type carried by a Channel.
type Event struct {
	Kind  Kind             `json:"kind"`
	State capability.State `json:"state"`
	At    time.Time        `json:"at"`
	// Verb is the command that produced the event, when there is one.
	Verb string `json:"verb,omitempty"`
}

// Status builds a STATUS event.
func Status(s capability.State, at time.Time) Event {
	return Event{Kind: KindStatus, State: s, At: at}
}

// Killed builds a KILLED event.
func Killed(s capability.State, at time.Time) Event {
	return Event{Kind: KindKilled, State: s, At: at}
}

// Exception builds an EXCEPTION event.
func Exception(s capability.State, at time.Time) Event {
	return Event{Kind: KindException, State: s, At: at}
}
