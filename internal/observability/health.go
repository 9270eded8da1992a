// Package observability provides health checks, metrics, and tracing for
// the launcher and its status endpoint.
package observability

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Status values
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// HealthChecker defines an interface for components that can report their health status
type HealthChecker interface {
	// HealthCheck returns nil if healthy, error if unhealthy
	HealthCheck(ctx context.Context) error
	Name() string
}

// ReadinessChecker defines an interface for components that can report their readiness status
type ReadinessChecker interface {
	// ReadinessCheck returns nil if ready, error if not ready
	ReadinessCheck(ctx context.Context) error
	Name() string
}

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// HealthResponse is the aggregate of a set of checks
type HealthResponse struct {
	Status     string         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Components []HealthStatus `json:"components"`
}

// HealthManager manages health and readiness checks
type HealthManager struct {
	logger            *zap.SugaredLogger
	healthCheckers    []HealthChecker
	readinessCheckers []ReadinessChecker
	timeout           time.Duration
}

// NewHealthManager creates a new health manager
func NewHealthManager(logger *zap.SugaredLogger) *HealthManager {
	return &HealthManager{
		logger:  logger,
		timeout: 5 * time.Second,
	}
}

// AddHealthChecker registers a health checker
func (hm *HealthManager) AddHealthChecker(checker HealthChecker) {
	hm.healthCheckers = append(hm.healthCheckers, checker)
}

// AddReadinessChecker registers a readiness checker
func (hm *HealthManager) AddReadinessChecker(checker ReadinessChecker) {
	hm.readinessCheckers = append(hm.readinessCheckers, checker)
}

// SetTimeout sets the timeout for health checks
func (hm *HealthManager) SetTimeout(timeout time.Duration) {
	hm.timeout = timeout
}

// CheckHealth runs every health checker.
func (hm *HealthManager) CheckHealth(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	checks := make([]namedCheck, len(hm.healthCheckers))
	for i, c := range hm.healthCheckers {
		checks[i] = namedCheck{c.Name(), c.HealthCheck}
	}
	return hm.run(ctx, checks, StatusHealthy, StatusUnhealthy)
}

// CheckReadiness runs every readiness checker.
func (hm *HealthManager) CheckReadiness(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, hm.timeout)
	defer cancel()

	checks := make([]namedCheck, len(hm.readinessCheckers))
	for i, c := range hm.readinessCheckers {
		checks[i] = namedCheck{c.Name(), c.ReadinessCheck}
	}
	return hm.run(ctx, checks, StatusReady, StatusNotReady)
}

type namedCheck struct {
	name string
	fn   func(context.Context) error
}

func (hm *HealthManager) run(ctx context.Context, checks []namedCheck, ok, bad string) HealthResponse {
	response := HealthResponse{
		Status:     ok,
		Timestamp:  time.Now(),
		Components: make([]HealthStatus, 0, len(checks)),
	}

	for _, c := range checks {
		start := time.Now()
		status := HealthStatus{Name: c.name, Status: ok}
		if err := c.fn(ctx); err != nil {
			status.Status = bad
			status.Error = err.Error()
			response.Status = bad
			hm.logger.Debugw("Check failed", "component", c.name, "error", err)
		}
		status.Latency = time.Since(start).String()
		response.Components = append(response.Components, status)
	}
	return response
}
