package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"git.home.luguber.info/inful/meterd/internal/daemon/events"
	"git.home.luguber.info/inful/meterd/internal/forward"
	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/journal"
	"git.home.luguber.info/inful/meterd/internal/lifecycle"
)

// Service is the part of the daemon the HTTP surface drives.
type Service interface {
	Command(ctx context.Context, cmd lifecycle.Command) (lifecycle.Result, error)
	Forward(ctx context.Context, verb string, payload *forward.Payload) (forward.RouteResult, error)
	Snapshot(ctx context.Context) (lifecycle.Snapshot, error)
	History(ctx context.Context, limit int) ([]journal.Entry, error)
	Subscribe(buffer int, topics ...string) (<-chan events.Notification, func())
}

// Server represents the API server.
type Server struct {
	Addr    string
	svc     Service
	router  *chi.Mux
	server  *http.Server
	errors  *ferrors.HTTPErrorAdapter
	logger  *slog.Logger
	metrics http.Handler
	health  HealthFunc

	requestTimeout time.Duration
	keepAlive      time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metrics = h } }

// HealthFunc reports overall health and a JSON-encodable detail.
type HealthFunc func() (healthy bool, detail any)

// WithHealth makes /health report fn instead of a static body.
func WithHealth(fn HealthFunc) Option { return func(s *Server) { s.health = fn } }

// WithReadHeaderTimeout bounds how long a client may take to send headers.
func WithReadHeaderTimeout(d time.Duration) Option {
	return func(s *Server) { s.server.ReadHeaderTimeout = d }
}

// WithRequestTimeout bounds non-streaming requests.
func WithRequestTimeout(d time.Duration) Option { return func(s *Server) { s.requestTimeout = d } }

// WithKeepAlive sets the interval of SSE comment frames.
func WithKeepAlive(d time.Duration) Option { return func(s *Server) { s.keepAlive = d } }

// NewServer creates a new API server.
func NewServer(addr string, svc Service, opts ...Option) *Server {
	s := &Server{
		Addr:           addr,
		svc:            svc,
		router:         chi.NewRouter(),
		logger:         slog.Default(),
		requestTimeout: 30 * time.Second,
		keepAlive:      15 * time.Second,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	s.errors = ferrors.NewHTTPErrorAdapter(s.logger)

	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.handleHealth)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		// The event stream is long-lived and stays outside the request timeout.
		r.Get("/events", s.handleEvents)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.requestTimeout))
			r.Use(CommandContext)
			r.Post("/commands/{verb}", s.handleCommand)
			r.Post("/forward/{verb}", s.handleForward)
			r.Get("/forward", s.handleForwardVerbs)
			r.Get("/status", s.handleStatus)
			r.Get("/history", s.handleHistory)
		})
	})
}

// Serve serves on ln until Shutdown. A clean shutdown returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "http server failed").Build()
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Response represents a standard API response.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error writes an error response through the error adapter.
func (s *Server) Error(w http.ResponseWriter, r *http.Request, err error) {
	s.errors.WriteErrorResponse(w, r, err)
}

// Success writes a success response.
func (s *Server) Success(w http.ResponseWriter, code int, data any) {
	writeJSON(w, code, Response{Success: true, Data: data})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health != nil {
		ok, detail := s.health()
		body := map[string]any{"status": "healthy", "services": detail}
		code := http.StatusOK
		if !ok {
			body["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, body)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
