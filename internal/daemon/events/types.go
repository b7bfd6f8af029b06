package events

import (
	"time"

	"git.home.luguber.info/inful/meterd/internal/forward"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
	"git.home.luguber.info/inful/meterd/internal/status"
)

// Notification is implemented by every event the daemon publishes.
// Subscribing to Notification receives all of them.
type Notification interface {
	Topic() string
}

// StatusPublished mirrors an event delivered on the status channel.
type StatusPublished struct {
	Event status.Event `json:"event"`
}

func (StatusPublished) Topic() string { return "status" }

// CommandHandled is emitted after the controller handled a command.
type CommandHandled struct {
	Result lifecycle.Result `json:"result"`
	Source string           `json:"source,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func (CommandHandled) Topic() string { return "command" }

// ForwardRouted is emitted after a forward request was routed.
type ForwardRouted struct {
	Result forward.RouteResult `json:"result"`
	Error  string              `json:"error,omitempty"`
}

func (ForwardRouted) Topic() string { return "forward" }

// RunningTick is emitted by the running indicator on every refresh.
type RunningTick struct {
	RunningTime string    `json:"running_time"`
	Seconds     float64   `json:"seconds"`
	At          time.Time `json:"at"`
}

func (RunningTick) Topic() string { return "running" }

// Announcement carries a short user-visible acknowledgement.
type Announcement struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

func (Announcement) Topic() string { return "announce" }
