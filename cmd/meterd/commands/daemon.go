package commands

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"git.home.luguber.info/inful/meterd/internal/api"
	"git.home.luguber.info/inful/meterd/internal/config"
	"git.home.luguber.info/inful/meterd/internal/daemon"
	"git.home.luguber.info/inful/meterd/internal/logfields"
	"git.home.luguber.info/inful/meterd/internal/metrics"
	"git.home.luguber.info/inful/meterd/internal/observability"
	"git.home.luguber.info/inful/meterd/internal/services"
)

const shutdownTimeout = 10 * time.Second

// DaemonCmd implements the 'daemon' command.
type DaemonCmd struct {
	Mode    string `help:"Override daemon.mode (normal or advanced)"`
	Addr    string `help:"Override http.addr"`
	NoWatch bool   `name:"no-watch" help:"Do not reload the configuration file on change"`
}

func (c *DaemonCmd) Run(g *Global, root *CLI) error {
	cfg, err := config.Load(root.Config)
	if err != nil {
		return err
	}
	if c.Mode != "" {
		cfg.Daemon.Mode = c.Mode
	}
	if c.Addr != "" {
		cfg.HTTP.Addr = c.Addr
	}
	if c.Mode != "" || c.Addr != "" {
		if err := config.ValidateConfig(cfg); err != nil {
			return err
		}
	}
	if !root.Verbose {
		g.Level.Set(cfg.Logging.SlogLevel())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	watchPath := root.Config
	if c.NoWatch {
		watchPath = ""
	}
	return RunDaemon(ctx, cfg, watchPath, g)
}

// RunDaemon runs the daemon and its HTTP surface until ctx ends or the
// daemon stops itself. configPath, when set, is watched for changes.
func RunDaemon(ctx context.Context, cfg *config.Config, configPath string, g *Global) error {
	logger := g.Logger
	logger.Info("Starting daemon", logfields.Mode(cfg.Daemon.Mode), slog.String("addr", cfg.HTTP.Addr))

	tracing := observability.SetupTracing(cfg.Tracing.Enabled, cfg.Tracing.SampleRatio, logger)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := tracing.Shutdown(sctx); err != nil {
			logger.Warn("Tracing shutdown failed", logfields.Error(err))
		}
	}()

	reg := prom.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewPrometheusRecorder(reg)

	d, err := daemon.New(cfg,
		daemon.WithLogger(logger),
		daemon.WithLevel(g.Level),
		daemon.WithRecorder(recorder),
		daemon.WithTracer(tracing.Tracer()))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch := services.NewServiceOrchestrator(logger)
	runner := services.NewRunnerService("daemon", d)
	srv := api.NewServer(cfg.HTTP.Addr, d,
		api.WithLogger(logger),
		api.WithMetricsHandler(metrics.HTTPHandler(reg)),
		api.WithReadHeaderTimeout(cfg.HTTP.ReadHeaderTimeout),
		api.WithRequestTimeout(cfg.Daemon.CommandTimeout),
		api.WithHealth(func() (bool, any) { return orch.Healthy(), orch.GetAllServiceInfo() }))
	httpSvc := services.NewHTTPServerService("http", cfg.HTTP.Addr, srv, func(err error) {
		logger.Error("HTTP server stopped", logfields.Error(err))
		cancel()
	}, "daemon")

	registered := []services.ManagedService{runner, httpSvc}
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, cfg, d.ApplyConfig, logger)
		if err != nil {
			logger.Warn("Config watcher unavailable", logfields.Path(configPath), logfields.Error(err))
		} else {
			registered = append(registered, services.NewWatcherService("config-watcher", watcher, "daemon"))
		}
	}
	for _, svc := range registered {
		if err := orch.RegisterService(svc); err != nil {
			return err
		}
	}

	if err := orch.StartAll(ctx); err != nil {
		return err
	}
	logger.Info("Daemon ready", slog.String("addr", httpSvc.Addr()))

	select {
	case <-ctx.Done():
	case <-runner.Done():
		logger.Info("Daemon stopped itself")
	}

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	stopErr := orch.StopAll(sctx)
	if err := runner.Err(); err != nil {
		return err
	}
	if stopErr != nil {
		return stopErr
	}
	logger.Info("Daemon stopped")
	return nil
}
