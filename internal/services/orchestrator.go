package services

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/meterd/internal/foundation/errors"
	"git.home.luguber.info/inful/meterd/internal/logfields"
)

// ServiceStatus is the supervision state of one service.
type ServiceStatus string

const (
	StatusNotStarted ServiceStatus = "not_started"
	StatusStarting   ServiceStatus = "starting"
	StatusRunning    ServiceStatus = "running"
	StatusStopping   ServiceStatus = "stopping"
	StatusStopped    ServiceStatus = "stopped"
	StatusFailed     ServiceStatus = "failed"
)

// ServiceInfo is what /health reports per service.
type ServiceInfo struct {
	Name         string        `json:"name"`
	Status       ServiceStatus `json:"status"`
	Health       HealthStatus  `json:"health"`
	Dependencies []string      `json:"dependencies,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	StoppedAt    *time.Time    `json:"stopped_at,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
}

type record struct {
	svc       ManagedService
	status    ServiceStatus
	startedAt time.Time
	stoppedAt time.Time
	err       error
}

func (r *record) info(name string) ServiceInfo {
	info := ServiceInfo{Name: name, Status: r.status, Dependencies: r.svc.Dependencies()}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		info.StartedAt = &t
	}
	if !r.stoppedAt.IsZero() {
		t := r.stoppedAt
		info.StoppedAt = &t
	}
	if r.err != nil {
		info.LastError = r.err.Error()
	}
	return info
}

// ServiceOrchestrator starts services after their dependencies and stops
// them in the reverse order.
type ServiceOrchestrator struct {
	mu      sync.RWMutex
	records map[string]*record
	// lifecycle serializes StartAll and StopAll without blocking readers.
	lifecycle sync.Mutex

	startTimeout time.Duration
	stopTimeout  time.Duration
	logger       *slog.Logger
}

// NewServiceOrchestrator returns an orchestrator with 30s start and 10s
// stop timeouts per service.
func NewServiceOrchestrator(logger *slog.Logger) *ServiceOrchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ServiceOrchestrator{
		records:      make(map[string]*record),
		startTimeout: 30 * time.Second,
		stopTimeout:  10 * time.Second,
		logger:       logger,
	}
}

// WithTimeouts overrides the per-service start and stop timeouts.
func (so *ServiceOrchestrator) WithTimeouts(start, stop time.Duration) *ServiceOrchestrator {
	so.startTimeout, so.stopTimeout = start, stop
	return so
}

// RegisterService adds svc. Names must be unique and non-empty.
func (so *ServiceOrchestrator) RegisterService(svc ManagedService) error {
	name := svc.Name()
	if name == "" {
		return ferrors.ValidationError("service name cannot be empty").Build()
	}

	so.mu.Lock()
	defer so.mu.Unlock()
	if _, dup := so.records[name]; dup {
		return ferrors.ValidationError("service already registered").WithContext("service", name).Build()
	}
	so.records[name] = &record{svc: svc, status: StatusNotStarted}
	so.logger.Debug("Service registered", slog.String("service", name), slog.Any("dependencies", svc.Dependencies()))
	return nil
}

// StartAll starts every service in dependency order. If one fails, the
// services already started are stopped again.
func (so *ServiceOrchestrator) StartAll(ctx context.Context) error {
	so.lifecycle.Lock()
	defer so.lifecycle.Unlock()

	order, err := so.startOrder()
	if err != nil {
		return err
	}
	so.logger.Info("Starting services", slog.Any("order", order))
	for i, name := range order {
		if err := so.start(ctx, name); err != nil {
			_ = so.stopAll(ctx, order[:i])
			return err
		}
	}
	return nil
}

// StopAll stops every running service in reverse dependency order. Every
// service is attempted; the failures are reported together.
func (so *ServiceOrchestrator) StopAll(ctx context.Context) error {
	so.lifecycle.Lock()
	defer so.lifecycle.Unlock()

	order, err := so.startOrder()
	if err != nil {
		return err
	}
	if err := so.stopAll(ctx, order); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "some services failed to stop gracefully").Build()
	}
	return nil
}

// GetServiceInfo reports one service.
func (so *ServiceOrchestrator) GetServiceInfo(name string) (ServiceInfo, bool) {
	so.mu.RLock()
	r, ok := so.records[name]
	if !ok {
		so.mu.RUnlock()
		return ServiceInfo{}, false
	}
	info := r.info(name)
	so.mu.RUnlock()

	// Health may take the service's own locks.
	info.Health = r.svc.Health()
	return info, true
}

// GetAllServiceInfo reports every service, sorted by name.
func (so *ServiceOrchestrator) GetAllServiceInfo() []ServiceInfo {
	so.mu.RLock()
	names := slices.Sorted(maps.Keys(so.records))
	so.mu.RUnlock()

	infos := make([]ServiceInfo, 0, len(names))
	for _, name := range names {
		if info, ok := so.GetServiceInfo(name); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

// Healthy reports whether every service is running and reports healthy.
func (so *ServiceOrchestrator) Healthy() bool {
	for _, info := range so.GetAllServiceInfo() {
		if info.Status != StatusRunning || !info.Health.Healthy() {
			return false
		}
	}
	return true
}

// startOrder is a depth-first topological sort, visiting names in sorted
// order so the result is stable.
func (so *ServiceOrchestrator) startOrder() ([]string, error) {
	so.mu.RLock()
	defer so.mu.RUnlock()

	const (
		open = iota + 1
		done
	)
	mark := make(map[string]int, len(so.records))
	order := make([]string, 0, len(so.records))

	var visit func(name string) error
	visit = func(name string) error {
		switch mark[name] {
		case open:
			return ferrors.InternalError("circular service dependency").WithContext("service", name).Build()
		case done:
			return nil
		}
		r, ok := so.records[name]
		if !ok {
			return ferrors.InternalError("unknown service dependency").WithContext("service", name).Build()
		}
		mark[name] = open
		for _, dep := range r.svc.Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		mark[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range slices.Sorted(maps.Keys(so.records)) {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// transition moves name to status and returns the service.
func (so *ServiceOrchestrator) transition(name string, status ServiceStatus, err error) ManagedService {
	so.mu.Lock()
	defer so.mu.Unlock()
	r := so.records[name]
	r.status = status
	switch status {
	case StatusRunning:
		r.startedAt, r.err = time.Now(), nil
	case StatusStopped:
		r.stoppedAt = time.Now()
	case StatusFailed:
		r.err = err
	}
	return r.svc
}

func (so *ServiceOrchestrator) start(ctx context.Context, name string) error {
	svc := so.transition(name, StatusStarting, nil)

	sctx, cancel := context.WithTimeout(ctx, so.startTimeout)
	defer cancel()

	began := time.Now()
	if err := svc.Start(sctx); err != nil {
		so.transition(name, StatusFailed, err)
		return ferrors.WrapError(err, ferrors.CategoryDaemon, "failed to start service").
			WithContext("service", name).
			Build()
	}
	so.transition(name, StatusRunning, nil)
	so.logger.Info("Service started", slog.String("service", name), logfields.Duration(time.Since(began)))
	return nil
}

func (so *ServiceOrchestrator) stop(ctx context.Context, name string) error {
	so.mu.RLock()
	running := so.records[name].status == StatusRunning
	so.mu.RUnlock()
	if !running {
		return nil
	}
	svc := so.transition(name, StatusStopping, nil)

	sctx, cancel := context.WithTimeout(ctx, so.stopTimeout)
	defer cancel()

	began := time.Now()
	if err := svc.Stop(sctx); err != nil {
		so.transition(name, StatusFailed, err)
		so.logger.Error("Error stopping service", slog.String("service", name), logfields.Error(err))
		return err
	}
	so.transition(name, StatusStopped, nil)
	so.logger.Info("Service stopped", slog.String("service", name), logfields.Duration(time.Since(began)))
	return nil
}

// stopAll stops the services of startOrder from last to first.
func (so *ServiceOrchestrator) stopAll(ctx context.Context, startOrder []string) error {
	var errs []error
	for i := len(startOrder) - 1; i >= 0; i-- {
		if err := so.stop(ctx, startOrder[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
