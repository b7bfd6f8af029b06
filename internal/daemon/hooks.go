package daemon

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/meterd/internal/daemon/events"
	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// runningIndicator keeps the "measurement running" indicator fresh while
// the manager runs. All methods run on the dispatch goroutine.
type runningIndicator struct {
	d      *Daemon
	active bool
	since  time.Time
	job    uuid.UUID
}

func (i *runningIndicator) EnterRunning() {
	d := i.d
	if i.active {
		d.scheduler.Cancel(i.job)
	}
	i.active = true
	i.since = d.clock.Now()
	d.logger.Info("Measurement running indicator shown")

	id, err := d.scheduler.Every("indicator.refresh", d.cfg.Daemon.IndicatorFirst, d.cfg.Daemon.IndicatorInterval, func() {
		if err := d.queue.Enqueue("indicator.refresh", i.refresh); err != nil {
			d.logger.Debug("Indicator refresh skipped", logfields.Error(err))
		}
	})
	if err != nil {
		d.logger.Warn("Failed to schedule indicator refresh", logfields.Error(err))
		return
	}
	i.job = id
}

func (i *runningIndicator) ExitRunning() {
	d := i.d
	if !i.active {
		return
	}
	i.active = false
	d.scheduler.Cancel(i.job)
	i.job = uuid.Nil
	d.recorder.SetRunningSeconds(0)
	d.logger.Info("Measurement running indicator cleared")
}

// refresh ignores ticks that were queued before ExitRunning.
func (i *runningIndicator) refresh(context.Context) {
	if !i.active {
		return
	}
	d := i.d
	elapsed := d.clock.Since(i.since)
	rt := d.controller.RunningTime()
	d.recorder.SetRunningSeconds(elapsed.Seconds())
	d.logger.Info("Measurement running", logfields.RunningTime(rt))
	d.notify(events.RunningTick{RunningTime: rt, Seconds: elapsed.Seconds(), At: d.clock.Now()})
}

type announcer struct{ d *Daemon }

func (a announcer) Announce(msg string) {
	a.d.logger.Info("Announcement", slog.String("message", msg))
	a.d.notify(events.Announcement{Message: msg, At: a.d.clock.Now()})
}

// terminator defers self-termination so the final status can go out first.
type terminator struct{ d *Daemon }

func (t terminator) RequestTermination() {
	d := t.d
	delay := d.cfg.Daemon.SelfTerminateDelay
	_, err := d.scheduler.After("self-terminate", delay, func() {
		if err := d.queue.Enqueue("self-terminate", func(context.Context) { d.RequestStop("self-terminate") }); err != nil {
			d.logger.Debug("Self-termination not queued", logfields.Error(err))
		}
	})
	if err != nil {
		d.logger.Error("Failed to schedule self-termination, stopping now", logfields.Error(err))
		d.RequestStop("self-terminate")
		return
	}
	d.logger.Info("Self-termination scheduled", logfields.Duration(delay))
}
