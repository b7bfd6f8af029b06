package daemon

import (
	"context"
	"encoding/json"
	"fmt"

	"git.home.luguber.info/inful/meterd/internal/forward"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/protocol"
	"git.home.luguber.info/inful/meterd/internal/transport/local"
)

// ControlActions are the broadcast actions the control receiver listens to.
var ControlActions = []string{
	lifecycle.VerbStart.Action(),
	lifecycle.VerbStop.Action(),
	lifecycle.VerbQuery.Action(),
}

// ensureControl registers the control receiver on the first command. It
// runs on the dispatch goroutine.
func (d *Daemon) ensureControl() {
	if d.controlID != 0 {
		return
	}
	d.controlID = d.local.RegisterBroadcast(local.ReceiverFunc(d.receive("control")), ControlActions...)
	d.logger.Info("Control receiver registered", logfields.Listener(uint64(d.controlID)))
}

func (d *Daemon) unregisterControl() {
	if d.controlID == 0 {
		return
	}
	d.local.Unregister(d.controlID)
	d.logger.Info("Control receiver unregistered", logfields.Listener(uint64(d.controlID)))
	d.controlID = 0
}

// bindComponent makes the configured component address deliverable: any
// message sent to it is treated as a lifecycle command.
func (d *Daemon) bindComponent() {
	if d.cfg.Daemon.Component == "" {
		return
	}
	comp, err := forward.ParseComponent(d.cfg.Daemon.Component)
	if err != nil {
		d.logger.Warn("Component address ignored", logfields.Component(d.cfg.Daemon.Component), logfields.Error(err))
		return
	}
	d.componentID = d.local.Bind(comp, local.ReceiverFunc(d.receive("service")))
}

// receive returns a receiver that turns messages into queued commands. It
// never blocks: delivery may happen on the dispatch goroutine itself.
func (d *Daemon) receive(source string) func(context.Context, forward.Message) {
	return func(_ context.Context, msg forward.Message) {
		cmd := CommandFromMessage(msg, source)
		if err := d.queue.Enqueue(source+":"+string(cmd.Verb), func(ctx context.Context) { d.handle(ctx, cmd) }); err != nil {
			d.logger.Warn("Dropped inbound command", logfields.Verb(string(cmd.Verb)), logfields.Source(source), logfields.Error(err))
		}
	}
}

// CommandFromMessage builds a lifecycle command from an inbound message.
// The config may be a string or a nested object; the data path and identity
// come from the lifecycle payload keys.
func CommandFromMessage(msg forward.Message, source string) lifecycle.Command {
	cmd := lifecycle.Command{
		ID:     msg.ID,
		Verb:   lifecycle.ParseVerb(msg.Action),
		Source: source,
	}
	if msg.Extras == nil {
		return cmd
	}
	if v, ok := msg.Extras.Get(protocol.KeyConfig); ok {
		cmd.Config = configText(v)
	}
	if v, ok := msg.Extras.Get(protocol.KeyDataPath); ok {
		cmd.DataPath = fmt.Sprint(v)
	}
	if v, ok := msg.Extras.Get(protocol.KeyUUID); ok {
		cmd.Identity = fmt.Sprint(v)
	}
	return cmd
}

func configText(v any) string {
	switch c := v.(type) {
	case string:
		return c
	case nil:
		return ""
	default:
		b, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(b)
	}
}
