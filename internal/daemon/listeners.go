package daemon

import (
	"context"

	"git.home.luguber.info/inful/meterd/internal/daemon/events"
	"git.home.luguber.info/inful/meterd/internal/forward"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/protocol"
	"git.home.luguber.info/inful/meterd/internal/status"
)

// broadcastFor maps an event kind to its status broadcast action.
func broadcastFor(k status.Kind) string {
	switch k {
	case status.KindKilled:
		return protocol.BroadcastKilled
	case status.KindException:
		return protocol.BroadcastException
	default:
		return protocol.BroadcastStatus
	}
}

// StatusMessage renders e as the local status broadcast.
func StatusMessage(e status.Event) forward.Message {
	extras := forward.NewPayload()
	extras.Set(protocol.KeyStatus, e.State.String())
	return forward.Message{
		Action:   broadcastFor(e.Kind),
		Extras:   extras,
		Delivery: forward.DeliveryBroadcast,
	}
}

// attachStatusListeners registers the daemon's observers in a fixed order:
// log, journal, NATS, local broadcast, notification feed.
func (d *Daemon) attachStatusListeners() {
	reg := func(l status.Listener) { d.statusIDs = append(d.statusIDs, d.channel.Register(l)) }

	reg(status.ListenerFunc(func(e status.Event) {
		d.logger.Info("Status published",
			logfields.Event(string(e.Kind)),
			logfields.State(e.State.String()),
			logfields.Verb(e.Verb))
	}))
	if d.journal != nil {
		reg(d.journal)
	}
	if d.nats != nil {
		reg(d.nats)
	}
	reg(status.ListenerFunc(func(e status.Event) {
		if err := d.local.Dispatch(context.Background(), StatusMessage(e)); err != nil {
			d.logger.Warn("Status broadcast failed", logfields.Event(string(e.Kind)), logfields.Error(err))
		}
	}))
	reg(status.ListenerFunc(func(e status.Event) {
		d.notify(events.StatusPublished{Event: e})
	}))
}
