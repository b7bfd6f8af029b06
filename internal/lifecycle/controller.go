// Package lifecycle serializes lifecycle commands into manager calls and
// publishes the derived manager state after each one.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/meterd/internal/capability"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/metrics"
	"git.home.luguber.info/inful/meterd/internal/status"
)

// DefaultSlowThreshold is the command duration above which a warning is logged.
const DefaultSlowThreshold = 2 * time.Second

// Publisher receives status events.
type Publisher interface {
	Publish(status.Event)
}

// Controller owns one manager for the life of the process. It is not safe
// for concurrent use: the daemon feeds it from a single dispatch goroutine.
type Controller struct {
	mgr        capability.Manager
	mode       Mode
	indicator  Indicator
	announcer  Announcer
	terminator Terminator
	publisher  Publisher
	recorder   metrics.Recorder
	tracer     trace.Tracer
	clock      clockwork.Clock
	logger     *slog.Logger
	slow       time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithMode sets the mode. The default is ModeNormal.
func WithMode(m Mode) Option { return func(c *Controller) { c.mode = m } }

func WithIndicator(i Indicator) Option { return func(c *Controller) { c.indicator = i } }

func WithAnnouncer(a Announcer) Option { return func(c *Controller) { c.announcer = a } }

func WithTerminator(t Terminator) Option { return func(c *Controller) { c.terminator = t } }

// WithPublisher sets the status sink. The default is a private channel with
// no listeners.
func WithPublisher(p Publisher) Option { return func(c *Controller) { c.publisher = p } }

func WithRecorder(r metrics.Recorder) Option { return func(c *Controller) { c.recorder = r } }

func WithTracer(t trace.Tracer) Option { return func(c *Controller) { c.tracer = t } }

func WithClock(clk clockwork.Clock) Option { return func(c *Controller) { c.clock = clk } }

func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// WithSlowThreshold sets the duration above which a command is logged as
// slow. Zero disables the warning.
func WithSlowThreshold(d time.Duration) Option { return func(c *Controller) { c.slow = d } }

// New returns a controller driving mgr. Unset hooks are no-ops and the
// default mode is normal.
func New(mgr capability.Manager, opts ...Option) *Controller {
	c := &Controller{
		mgr:        mgr,
		mode:       ModeNormal,
		indicator:  nopHooks{},
		announcer:  nopHooks{},
		terminator: nopHooks{},
		publisher:  status.NewChannel(nil),
		recorder:   metrics.NoopRecorder{},
		tracer:     otel.Tracer("meterd/lifecycle"),
		clock:      clockwork.NewRealClock(),
		logger:     slog.Default(),
		slow:       DefaultSlowThreshold,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the controller's mode.
func (c *Controller) Mode() Mode { return c.mode }

// Handle runs cmd to completion and publishes the derived state. It never
// panics on manager failures and never retries. The verb is resolved for the
// controller's mode first; see Mode.Resolve.
func (c *Controller) Handle(ctx context.Context, cmd Command) Result {
	started := c.clock.Now()
	requested := cmd.Verb
	cmd.Verb = c.mode.Resolve(cmd.Verb)
	_, span := c.tracer.Start(ctx, "lifecycle.Handle", trace.WithAttributes(
		attribute.String("meterd.verb", string(cmd.Verb)),
		attribute.String("meterd.source", cmd.Source),
	))
	defer span.End()

	x := &execution{c: c, res: Result{ID: cmd.ID, Verb: cmd.Verb}}
	if requested != cmd.Verb {
		x.res.Requested = requested
		span.SetAttributes(attribute.String("meterd.requested_verb", string(requested)))
	}
	switch {
	case !cmd.Verb.Known():
		x.fail(ferrors.UnknownVerbError("unknown command").
			WithContext("verb", string(cmd.Verb)).Build())
	case !c.mode.Allows(cmd.Verb):
		x.fail(ferrors.UnknownVerbError("command not available in this mode").
			WithContext("verb", string(cmd.Verb)).
			WithContext("mode", string(c.mode)).Build())
	default:
		x.run(cmd)
		if !x.res.Succeeded && x.res.Err == nil {
			x.fail(ferrors.CapabilityFailure("manager call failed").
				WithContext("verb", string(cmd.Verb)).
				WithContext("calls", x.res.Calls).Build())
		}
	}

	x.res.State = c.derive()
	x.res.Duration = c.clock.Since(started)

	e := status.Status(x.res.State, c.clock.Now())
	e.Verb = string(cmd.Verb)
	c.publish(e)

	c.observe(cmd, x.res, span)
	return x.res
}

// Teardown publishes KILLED with the final state unless the manager is still
// running. It reports the state and whether KILLED was published.
func (c *Controller) Teardown() (capability.State, bool) {
	st := c.derive()
	if st == capability.Running {
		c.logger.Info("Teardown while running, KILLED suppressed", logfields.State(st.String()))
		return st, false
	}
	c.publish(status.Killed(st, c.clock.Now()))
	c.logger.Info("Teardown", logfields.State(st.String()))
	return st, true
}

// State derives the current manager state.
func (c *Controller) State() capability.State { return c.derive() }

// RunningTime returns the manager's running time.
func (c *Controller) RunningTime() (rt string) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Manager running time panicked", slog.Any("panic", rec))
			rt = capability.NotAvailable
		}
	}()
	return c.mgr.RunningTime()
}

// Snapshot returns a read-only view of the manager. Nothing is published.
func (c *Controller) Snapshot() (s Snapshot) {
	s.Mode = c.mode
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Manager snapshot panicked", slog.Any("panic", rec))
		}
	}()
	s.Exists = c.mgr.Exists()
	s.Initialised = c.mgr.IsInitialised()
	s.Started = c.mgr.IsStarted()
	s.State = capability.Derive(c.mgr)
	s.Status = c.mgr.QueryStatus()
	s.RunningTime = c.mgr.RunningTime()
	return s
}

func (c *Controller) derive() (st capability.State) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("Manager state query panicked", slog.Any("panic", rec))
			st = capability.Missing
		}
	}()
	return capability.Derive(c.mgr)
}

func (c *Controller) publish(e status.Event) {
	c.publisher.Publish(e)
	c.recorder.IncStatusEvent(string(e.Kind))
	c.recorder.SetManagerState(int(e.State))
}

func (c *Controller) observe(cmd Command, res Result, span trace.Span) {
	result := metrics.ResultFor(res.Succeeded)
	if ferrors.HasCategory(res.Err, ferrors.CategoryConfig) || ferrors.HasCategory(res.Err, ferrors.CategoryUnknownVerb) {
		result = metrics.ResultRejected
	}
	c.recorder.IncCommand(string(cmd.Verb), result)
	c.recorder.ObserveCommandDuration(string(cmd.Verb), res.Duration)

	span.SetAttributes(
		attribute.String("meterd.state", res.State.String()),
		attribute.Bool("meterd.succeeded", res.Succeeded),
	)

	attrs := []any{
		logfields.Verb(string(cmd.Verb)),
		logfields.State(res.State.String()),
		logfields.OK(res.Succeeded),
		logfields.Duration(res.Duration),
	}
	if cmd.ID != "" {
		attrs = append(attrs, logfields.CommandID(cmd.ID))
	}
	if cmd.Source != "" {
		attrs = append(attrs, logfields.Source(cmd.Source))
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		c.logger.Warn("Command failed", append(attrs, logfields.Error(res.Err))...)
	} else {
		c.logger.Info("Command handled", attrs...)
	}
	if c.slow > 0 && res.Duration > c.slow {
		c.logger.Warn("Slow command stalled the dispatch queue", attrs...)
	}
}

// execution accumulates the result of one Handle call.
type execution struct {
	c   *Controller
	res Result
}

func (x *execution) run(cmd Command) {
	c := x.c
	switch cmd.Verb {
	case VerbCreate:
		cfg, ok := x.config(cmd)
		if !ok {
			return
		}
		x.res.Succeeded = x.create(cmd, cfg)
		if x.res.Succeeded {
			x.enterRunning()
			x.announce(AnnounceStarted)
		}

	case VerbInit:
		x.res.Succeeded = x.call("init", c.mgr.Init)

	case VerbStart:
		x.res.Succeeded = x.call("start", c.mgr.Start)
		if x.res.Succeeded {
			x.enterRunning()
		}

	case VerbNormalStart:
		if cmd.DataPath == "" || cmd.Identity == "" {
			x.fail(ferrors.ConfigError("data path and identity are required").
				WithContext("verb", string(cmd.Verb)).
				WithContext("has_path", cmd.DataPath != "").
				WithContext("has_identity", cmd.Identity != "").Build())
			return
		}
		cfg, ok := x.config(cmd)
		if !ok {
			return
		}
		// All three calls run regardless of earlier failures; only the
		// visible side effects are gated on the conjunction.
		created := x.create(cmd, cfg)
		initialised := x.call("init", c.mgr.Init)
		started := x.call("start", c.mgr.Start)
		x.res.Succeeded = created && initialised && started
		if x.res.Succeeded {
			x.enterRunning()
			x.announce(AnnounceStarted)
		}

	case VerbStop, VerbNormalStop:
		stopped := x.call("stop", c.mgr.Stop)
		if stopped {
			x.exitRunning()
		}
		// destroy runs unconditionally and only affects the reported result,
		// not the indicator teardown above.
		destroyed := x.call("destroy", c.mgr.Destroy)
		x.res.Succeeded = stopped && destroyed
		x.announce(AnnounceStopped)
		if cmd.Verb == VerbNormalStop {
			c.terminator.RequestTermination()
			x.res.SideEffects = append(x.res.SideEffects, EffectTerminate)
		}

	case VerbReset:
		cfg, ok := x.config(cmd)
		if !ok {
			return
		}
		wasStarted := x.flag("isStarted", c.mgr.IsStarted)
		x.res.Succeeded = x.call("reset", func() bool { return c.mgr.Reset(cfg) })
		if x.res.Succeeded && wasStarted {
			x.exitRunning()
		}

	case VerbDestroy:
		wasStarted := x.flag("isStarted", c.mgr.IsStarted)
		x.res.Succeeded = x.call("destroy", c.mgr.Destroy)
		if x.res.Succeeded && wasStarted {
			x.exitRunning()
		}

	case VerbQuery:
		exists := x.flag("exists", c.mgr.Exists)
		initialised := x.flag("isInitialised", c.mgr.IsInitialised)
		started := x.flag("isStarted", c.mgr.IsStarted)
		x.res.Status = x.text("query", c.mgr.QueryStatus)
		x.res.RunningTime = x.text("runningTime", c.mgr.RunningTime)
		x.res.Succeeded = true
		c.logger.Info("Manager query",
			slog.Bool("exists", exists),
			slog.Bool("initialised", initialised),
			slog.Bool("started", started),
			slog.String("status", x.res.Status),
			logfields.RunningTime(x.res.RunningTime))
	}
}

// config parses the command's config document. For verbs that do not need
// one an absent document yields a nil config.
func (x *execution) config(cmd Command) (capability.Config, bool) {
	if !cmd.Verb.NeedsConfig() && cmd.Config == "" {
		return nil, true
	}
	cfg, err := capability.ParseConfig(cmd.Config)
	if err != nil {
		x.fail(ferrors.WrapError(err, ferrors.CategoryConfig, "invalid config").
			WithContext("verb", string(cmd.Verb)).
			UserAction().Build())
		return nil, false
	}
	return cfg, true
}

func (x *execution) create(cmd Command, cfg capability.Config) bool {
	req := capability.CreateRequest{Config: cfg, DataPath: cmd.DataPath, Identity: cmd.Identity}
	return x.call("create", func() bool { return x.c.mgr.Create(req) })
}

func (x *execution) fail(err error) {
	if x.res.Err == nil {
		x.res.Err = err
	}
}

func (x *execution) call(op string, fn func() bool) bool {
	ok := false
	x.guard(op, func() { ok = fn() })
	x.res.Calls = append(x.res.Calls, Call{Op: op, OK: ok})
	x.c.recorder.IncCapabilityCall(op, ok)
	x.c.logger.Debug("Manager call", logfields.Op(op), logfields.OK(ok))
	return ok
}

func (x *execution) flag(op string, fn func() bool) bool {
	v := false
	x.guard(op, func() { v = fn() })
	return v
}

func (x *execution) text(op string, fn func() string) string {
	v := ""
	x.guard(op, func() { v = fn() })
	return v
}

// guard runs fn, converting a panic into a capability failure and an
// EXCEPTION event carrying the re-derived state.
func (x *execution) guard(op string, fn func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		x.c.logger.Error("Manager call panicked", logfields.Op(op), slog.Any("panic", rec))
		x.fail(ferrors.CapabilityFailure("manager call panicked").
			WithContext("op", op).
			WithContext("panic", fmt.Sprint(rec)).Build())
		e := status.Exception(x.c.derive(), x.c.clock.Now())
		e.Verb = string(x.res.Verb)
		x.c.publish(e)
	}()
	fn()
}

func (x *execution) enterRunning() {
	x.c.indicator.EnterRunning()
	x.res.SideEffects = append(x.res.SideEffects, EffectEnterRunning)
}

func (x *execution) exitRunning() {
	x.c.indicator.ExitRunning()
	x.res.SideEffects = append(x.res.SideEffects, EffectExitRunning)
}

func (x *execution) announce(msg string) {
	x.c.announcer.Announce(msg)
	x.res.SideEffects = append(x.res.SideEffects, EffectAnnounce)
}
