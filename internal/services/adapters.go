package services

import (
	"context"
	"net"
	"sync"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
)

// Runner is a blocking component with a readiness signal, such as the daemon.
type Runner interface {
	Run(ctx context.Context) error
	Ready() <-chan struct{}
}

// RunnerService adapts a Runner to the ManagedService interface.
type RunnerService struct {
	name   string
	runner Runner
	deps   []string

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewRunnerService creates a new runner service adapter.
func NewRunnerService(name string, r Runner, deps ...string) *RunnerService {
	return &RunnerService{name: name, runner: r, deps: deps, done: make(chan struct{})}
}

func (s *RunnerService) Name() string           { return s.name }
func (s *RunnerService) Dependencies() []string { return s.deps }

// Start launches Run and waits until the runner is ready or exits early.
func (s *RunnerService) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		err := s.runner.Run(runCtx)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()

	select {
	case <-s.runner.Ready():
		return nil
	case <-s.done:
		if err := s.Err(); err != nil {
			return err
		}
		return ferrors.DaemonError("service exited during start").WithContext("service", s.name).Build()
	case <-ctx.Done():
		cancel()
		return ferrors.WrapError(ctx.Err(), ferrors.CategoryDaemon, "service start timed out").
			WithContext("service", s.name).
			Build()
	}
}

// Stop cancels Run and waits for it to return.
func (s *RunnerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ferrors.WrapError(ctx.Err(), ferrors.CategoryDaemon, "service stop timed out").
			WithContext("service", s.name).
			Build()
	}
}

// Done is closed when Run has returned, including on self-termination.
func (s *RunnerService) Done() <-chan struct{} { return s.done }

// Err returns the error Run returned, if it has returned.
func (s *RunnerService) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *RunnerService) Health() HealthStatus {
	select {
	case <-s.done:
		return HealthStatusUnhealthy("stopped")
	default:
	}
	select {
	case <-s.runner.Ready():
		return HealthStatusHealthy()
	default:
		return HealthStatusUnhealthy("starting")
	}
}

// HTTPServer defines the interface expected by HTTPServerService.
type HTTPServer interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// HTTPServerService adapts an HTTP server to the ManagedService interface.
// The listener is bound during Start so address errors surface there.
type HTTPServerService struct {
	name   string
	addr   string
	server HTTPServer
	deps   []string
	onFail func(error)

	mu      sync.Mutex
	ln      net.Listener
	running bool
	err     error
}

// NewHTTPServerService creates a new HTTP server service adapter. onFail,
// when set, is called if the server stops serving on its own.
func NewHTTPServerService(name, addr string, server HTTPServer, onFail func(error), deps ...string) *HTTPServerService {
	return &HTTPServerService{name: name, addr: addr, server: server, onFail: onFail, deps: deps}
}

func (h *HTTPServerService) Name() string           { return h.name }
func (h *HTTPServerService) Dependencies() []string { return h.deps }

func (h *HTTPServerService) Start(context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "listen failed").
			WithContext("addr", h.addr).
			Build()
	}
	h.mu.Lock()
	h.ln, h.running = ln, true
	h.mu.Unlock()

	go func() {
		err := h.server.Serve(ln)
		h.mu.Lock()
		h.running, h.err = false, err
		h.mu.Unlock()
		if err != nil && h.onFail != nil {
			h.onFail(err)
		}
	}()
	return nil
}

func (h *HTTPServerService) Stop(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// Addr returns the bound address once started.
func (h *HTTPServerService) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return h.addr
	}
	return h.ln.Addr().String()
}

func (h *HTTPServerService) Health() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return HealthStatusHealthy()
	}
	if h.err != nil {
		return HealthStatusUnhealthy(h.err.Error())
	}
	return HealthStatusUnhealthy("server not running")
}

// Watcher defines the interface expected by WatcherService.
type Watcher interface {
	Start(ctx context.Context) error
	Stop() error
}

// WatcherService adapts a background watcher to the ManagedService interface.
type WatcherService struct {
	name    string
	watcher Watcher
	deps    []string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewWatcherService creates a new watcher service adapter.
func NewWatcherService(name string, w Watcher, deps ...string) *WatcherService {
	return &WatcherService{name: name, watcher: w, deps: deps}
}

func (w *WatcherService) Name() string           { return w.name }
func (w *WatcherService) Dependencies() []string { return w.deps }

// Start runs the watcher under a context that outlives the start timeout.
func (w *WatcherService) Start(ctx context.Context) error {
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := w.watcher.Start(wctx); err != nil {
		cancel()
		return err
	}
	w.mu.Lock()
	w.cancel, w.running = cancel, true
	w.mu.Unlock()
	return nil
}

func (w *WatcherService) Stop(context.Context) error {
	w.mu.Lock()
	cancel := w.cancel
	w.running = false
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return w.watcher.Stop()
}

func (w *WatcherService) Health() HealthStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return HealthStatusHealthy()
	}
	return HealthStatusUnhealthy("not watching")
}
