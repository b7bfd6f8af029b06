// Package daemon hosts the lifecycle controller and the forward router
// behind a single dispatch goroutine, and wires them to the local bus, NATS,
// the journal, timers and observers.
package daemon

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"git.home.luguber.info/inful/meterd/internal/capability"
	"git.home.luguber.info/inful/meterd/internal/config"
	"git.home.luguber.info/inful/meterd/internal/daemon/events"
	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/journal"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/metrics"
	"git.home.luguber.info/inful/meterd/internal/status"
	"git.home.luguber.info/inful/meterd/internal/transport/local"
	"git.home.luguber.info/inful/meterd/internal/transport/natsbus"
)

// Daemon is the process host.
type Daemon struct {
	cfg      *config.Config
	clock    clockwork.Clock
	logger   *slog.Logger
	level    *slog.LevelVar
	recorder metrics.Recorder
	tracer   trace.Tracer

	mgr        capability.Manager
	controller *lifecycle.Controller
	router     *forward.Router
	channel    *status.Channel
	local      *local.Bus
	events     *events.Bus
	queue      *Queue
	scheduler  *Scheduler
	indicator  *runningIndicator

	natsConn natsbus.Conn
	nats     *natsbus.Bus
	journal  *journal.Store
	origin   string

	// Owned by the dispatch goroutine.
	controlID   local.ID
	componentID local.ID
	statusIDs   []status.ID

	mu        sync.Mutex
	cancelRun context.CancelFunc
	stopAsked bool
	ready     chan struct{}
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithManager sets the manager capability. The default is an in-process
// reference manager.
func WithManager(m capability.Manager) Option { return func(d *Daemon) { d.mgr = m } }

func WithClock(c clockwork.Clock) Option { return func(d *Daemon) { d.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(d *Daemon) { d.logger = l } }

// WithLevel hands the daemon the level variable it adjusts on config reload.
func WithLevel(v *slog.LevelVar) Option { return func(d *Daemon) { d.level = v } }

func WithRecorder(r metrics.Recorder) Option { return func(d *Daemon) { d.recorder = r } }

func WithTracer(t trace.Tracer) Option { return func(d *Daemon) { d.tracer = t } }

// WithNATSConn uses conn instead of dialling the configured URL.
func WithNATSConn(conn natsbus.Conn) Option { return func(d *Daemon) { d.natsConn = conn } }

// WithJournal uses store instead of opening the configured path.
func WithJournal(store *journal.Store) Option { return func(d *Daemon) { d.journal = store } }

// New builds a daemon from cfg. Nothing runs until Run is called.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	d := &Daemon{
		cfg:      cfg,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		recorder: metrics.NoopRecorder{},
		origin:   uuid.NewString(),
		ready:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("git.home.luguber.info/inful/meterd")
	}
	if d.mgr == nil {
		d.mgr = capability.NewInProcess(capability.WithClock(d.clock), capability.WithLogger(d.logger))
	}

	mode, err := lifecycle.ParseMode(cfg.Daemon.Mode)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid daemon mode").Build()
	}

	if d.journal == nil && cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path, journal.WithClock(d.clock), journal.WithLogger(d.logger))
		if err != nil {
			return nil, err
		}
		d.journal = store
	}

	sched, err := NewScheduler(d.clock, d.logger)
	if err != nil {
		return nil, err
	}
	d.scheduler = sched
	d.queue = NewQueue(cfg.Daemon.QueueSize, d.logger)
	d.channel = status.NewChannel(d.logger)
	d.local = local.NewBus(d.logger)
	d.events = events.NewBus()
	d.indicator = &runningIndicator{d: d}

	d.router = forward.NewRouter(forward.DispatcherFunc(d.dispatch),
		forward.WithIDs(uuid.NewString),
		forward.WithRecorder(d.recorder),
		forward.WithTracer(d.tracer),
		forward.WithLogger(d.logger))

	d.controller = lifecycle.New(d.mgr,
		lifecycle.WithMode(mode),
		lifecycle.WithIndicator(d.indicator),
		lifecycle.WithAnnouncer(announcer{d: d}),
		lifecycle.WithTerminator(terminator{d: d}),
		lifecycle.WithPublisher(d.channel),
		lifecycle.WithRecorder(d.recorder),
		lifecycle.WithTracer(d.tracer),
		lifecycle.WithClock(d.clock),
		lifecycle.WithLogger(d.logger),
		lifecycle.WithSlowThreshold(cfg.Daemon.SlowCommand))

	return d, nil
}

// Run starts the daemon and blocks until ctx ends or self-termination is
// requested, then tears down.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	d.mu.Lock()
	d.cancelRun = cancel
	stopAsked := d.stopAsked
	d.mu.Unlock()
	if stopAsked {
		cancel()
	}

	if err := d.startNATS(ctx); err != nil {
		d.closeResources()
		return err
	}

	// Queued jobs must still drain after ctx ends; shutdown waits for them.
	go d.queue.Run(context.WithoutCancel(ctx))
	d.scheduler.Start()

	if _, err := Submit(ctx, d.queue, "startup", func(context.Context) struct{} {
		d.attachStatusListeners()
		d.bindComponent()
		return struct{}{}
	}); err != nil {
		d.logger.Error("Startup failed", logfields.Error(err))
	}

	d.logger.Info("Daemon started",
		logfields.Mode(string(d.controller.Mode())),
		slog.Bool("nats", d.nats != nil),
		slog.Bool("journal", d.journal != nil))
	close(d.ready)

	<-ctx.Done()
	return d.shutdown()
}

// Ready is closed once Run has finished starting up.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// RequestStop asks Run to return. It is safe to call before Run.
func (d *Daemon) RequestStop(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopAsked = true
	d.logger.Info("Stop requested", slog.String("reason", reason))
	if d.cancelRun != nil {
		d.cancelRun()
	}
}

func (d *Daemon) shutdown() error {
	d.logger.Info("Shutting down daemon")
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.CommandTimeout)
	defer cancel()

	// Let queued commands finish first; teardown then runs on this goroutine
	// so a full queue cannot skip it.
	var err error
	d.queue.Close()
	select {
	case <-d.queue.Done():
	case <-ctx.Done():
		err = ferrors.DaemonError("dispatch queue did not drain before teardown").
			WithContext("timeout", d.cfg.Daemon.CommandTimeout.String()).
			Build()
		d.logger.Warn("Dispatch queue did not drain before timeout")
	}

	st, killed := d.controller.Teardown()
	d.unregisterControl()
	if d.componentID != 0 {
		d.local.Unregister(d.componentID)
		d.componentID = 0
	}
	d.indicator.ExitRunning()
	if t, ok := d.mgr.(capability.Terminator); ok {
		t.Terminate()
	}
	d.logger.Info("Teardown complete", logfields.State(st.String()), slog.Bool("killed", killed))

	d.closeResources()
	return err
}

func (d *Daemon) closeResources() {
	if err := d.scheduler.Stop(); err != nil {
		d.logger.Debug("Scheduler stop", logfields.Error(err))
	}
	d.channel.Close()
	if d.nats != nil {
		if err := d.nats.Close(); err != nil {
			d.logger.Warn("NATS close failed", logfields.Error(err))
		}
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("Journal close failed", logfields.Error(err))
		}
	}
	d.events.Close()
}

// Command runs cmd on the dispatch goroutine and waits for its result. The
// returned error is about the queue, not the command; see Result.Err.
func (d *Daemon) Command(ctx context.Context, cmd lifecycle.Command) (lifecycle.Result, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	return Submit(ctx, d.queue, "command:"+string(cmd.Verb), func(jctx context.Context) lifecycle.Result {
		return d.handle(jctx, cmd)
	})
}

// Forward routes a forward request on the dispatch goroutine.
func (d *Daemon) Forward(ctx context.Context, verb string, payload *forward.Payload) (forward.RouteResult, error) {
	type routed struct {
		res forward.RouteResult
		err error
	}
	out, err := Submit(ctx, d.queue, "forward:"+verb, func(jctx context.Context) routed {
		res, err := d.router.Route(jctx, verb, payload)
		d.recordForward(jctx, res, err)
		return routed{res: res, err: err}
	})
	if err != nil {
		return forward.RouteResult{Verb: verb}, err
	}
	return out.res, out.err
}

// Snapshot reads the manager on the dispatch goroutine.
func (d *Daemon) Snapshot(ctx context.Context) (lifecycle.Snapshot, error) {
	return Submit(ctx, d.queue, "snapshot", func(context.Context) lifecycle.Snapshot {
		return d.controller.Snapshot()
	})
}

// History returns recent journal entries, newest first.
func (d *Daemon) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if d.journal == nil {
		return nil, ferrors.NewError(ferrors.CategoryNotFound, "journal is disabled").Build()
	}
	return d.journal.Recent(ctx, limit)
}

// Subscribe returns a feed of daemon notifications for topics, or for all
// topics when none are given, and its cancel func.
func (d *Daemon) Subscribe(buffer int, topics ...string) (<-chan events.Notification, func()) {
	return d.events.Subscribe(buffer, topics...)
}

// Local returns the in-process bus for receivers living in this process.
func (d *Daemon) Local() *local.Bus { return d.local }

// Status returns the status channel for additional listeners.
func (d *Daemon) Status() *status.Channel { return d.channel }

// ApplyConfig applies a reloaded configuration. Only the log level takes
// effect live; other changes are logged as needing a restart.
func (d *Daemon) ApplyConfig(_ context.Context, prev, next *config.Config) {
	if d.level != nil {
		d.level.Set(next.Logging.SlogLevel())
		d.logger.Info("Log level updated", slog.String("level", next.Logging.SlogLevel().String()))
	}
	if prev.RestartRequired(next) {
		d.logger.Warn("Configuration changes other than logging.level take effect after restart")
	}
}

// handle runs on the dispatch goroutine.
func (d *Daemon) handle(ctx context.Context, cmd lifecycle.Command) lifecycle.Result {
	d.ensureControl()
	if d.controller.Mode().Resolve(cmd.Verb) == lifecycle.VerbNormalStart {
		if cmd.DataPath == "" {
			cmd.DataPath = d.cfg.Daemon.DataPath
		}
		if cmd.Identity == "" {
			cmd.Identity = d.cfg.Daemon.Identity
		}
	}
	res := d.controller.Handle(ctx, cmd)

	if d.journal != nil {
		if err := d.journal.RecordCommand(ctx, res); err != nil {
			d.logger.Warn("Failed to journal command", logfields.Verb(string(res.Verb)), logfields.Error(err))
		}
	}
	n := events.CommandHandled{Result: res, Source: cmd.Source}
	if res.Err != nil {
		n.Error = res.Err.Error()
	}
	d.notify(n)
	return res
}

func (d *Daemon) recordForward(ctx context.Context, res forward.RouteResult, err error) {
	if d.journal != nil {
		if jerr := d.journal.RecordForward(ctx, res, err); jerr != nil {
			d.logger.Warn("Failed to journal forward", logfields.Verb(res.Verb), logfields.Error(jerr))
		}
	}
	n := events.ForwardRouted{Result: res}
	if err != nil {
		n.Error = err.Error()
	}
	d.notify(n)
}

func (d *Daemon) notify(n events.Notification) {
	if dropped := d.events.TryPublish(n); dropped > 0 {
		d.logger.Debug("Slow subscribers dropped a notification",
			logfields.Event(n.Topic()), slog.Int("dropped", dropped))
	}
}

// dispatch sends outbound messages to in-process receivers and, when
// configured, to NATS. Without NATS a missing local receiver is an error.
func (d *Daemon) dispatch(ctx context.Context, msg forward.Message) error {
	lerr := d.local.Dispatch(ctx, msg)
	if d.nats == nil {
		return lerr
	}
	if lerr != nil && !ferrors.HasCategory(lerr, ferrors.CategoryNotFound) {
		return lerr
	}
	return d.nats.Dispatch(ctx, msg)
}

func (d *Daemon) startNATS(ctx context.Context) error {
	if d.natsConn == nil {
		if !d.cfg.NATS.Enabled {
			return nil
		}
		conn, err := natsbus.Connect(ctx, d.cfg.NATS.URL, natsbus.ConnectOptions{
			Timeout:    d.cfg.NATS.ConnectTimeout,
			MaxElapsed: d.cfg.NATS.ConnectRetry,
		}, d.logger)
		if err != nil {
			return err
		}
		d.natsConn = conn
	}
	d.nats = natsbus.New(d.natsConn, d.cfg.NATS.SubjectPrefix,
		natsbus.WithIDs(uuid.NewString),
		natsbus.WithOrigin(d.origin),
		natsbus.WithLogger(d.logger))

	if err := d.nats.ServeCommands(ctx, d.natsCommand); err != nil {
		return err
	}
	if err := d.nats.ServeForwards(ctx, d.natsForward); err != nil {
		return err
	}
	return d.nats.ServeBroadcasts(ctx, func(ctx context.Context, msg forward.Message) {
		if err := d.local.Dispatch(ctx, msg); err != nil {
			d.logger.Debug("Remote broadcast not delivered locally", logfields.Action(msg.Action), logfields.Error(err))
		}
	})
}

func (d *Daemon) natsCommand(ctx context.Context, verb string, req natsbus.CommandRequest) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Daemon.CommandTimeout)
	defer cancel()
	res, err := d.Command(ctx, lifecycle.Command{
		Verb:     lifecycle.ParseVerb(verb),
		Config:   req.Config,
		DataPath: req.Path,
		Identity: req.Identity,
		Source:   "nats",
	})
	if err != nil {
		return nil, err
	}
	return res, res.Err
}

func (d *Daemon) natsForward(ctx context.Context, verb string, payload *forward.Payload) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Daemon.CommandTimeout)
	defer cancel()
	return d.Forward(ctx, verb, payload)
}
