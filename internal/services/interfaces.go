// Package services starts and stops the long-running parts of the meterd
// process in dependency order and reports their health.
package services

import (
	"context"
	"time"
)

// ManagedService defines the interface for services with lifecycle management.
type ManagedService interface {
	// Name returns the service name for logging and identification.
	Name() string

	// Start initializes and starts the service. It must return once the
	// service is serving; ctx only bounds the start itself.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the service.
	Stop(ctx context.Context) error

	// Health returns the current health status of the service.
	Health() HealthStatus

	// Dependencies returns the names of services this service depends on.
	Dependencies() []string
}

// HealthStatus represents the health of a managed service.
type HealthStatus struct {
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	CheckAt time.Time `json:"check_at"`
}

// Healthy reports whether h is the healthy status.
func (h HealthStatus) Healthy() bool { return h.Status == "healthy" }

// HealthStatusHealthy returns a healthy status stamped now.
func HealthStatusHealthy() HealthStatus {
	return HealthStatus{Status: "healthy", CheckAt: time.Now()}
}

// HealthStatusUnhealthy returns an unhealthy status with message.
func HealthStatusUnhealthy(message string) HealthStatus {
	return HealthStatus{Status: "unhealthy", Message: message, CheckAt: time.Now()}
}
