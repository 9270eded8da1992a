package observability

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"devlaunch/internal/config"
)

// Manager coordinates health, metrics and tracing for one launcher process
type Manager struct {
	logger  *zap.SugaredLogger
	health  *HealthManager
	metrics *MetricsManager
	tracing *TracingManager

	startTime time.Time
}

// NewManager creates the observability stack. Metrics and health are always
// available; spans are exported only when tracing is enabled.
func NewManager(logger *zap.SugaredLogger, cfg config.TracingConfig, version string) (*Manager, error) {
	tracing, err := NewTracingManager(logger, TracingConfig{
		Enabled:        cfg.Enabled,
		ServiceName:    "devlaunch",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	return &Manager{
		logger:    logger,
		health:    NewHealthManager(logger),
		metrics:   NewMetricsManager(logger),
		tracing:   tracing,
		startTime: time.Now(),
	}, nil
}

// Health returns the health manager
func (m *Manager) Health() *HealthManager { return m.health }

// Metrics returns the metrics manager
func (m *Manager) Metrics() *MetricsManager { return m.metrics }

// Tracing returns the tracing manager
func (m *Manager) Tracing() *TracingManager { return m.tracing }

// HTTPMiddleware chains metrics and tracing middleware
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	metrics := m.metrics.HTTPMiddleware()
	tracing := m.tracing.HTTPMiddleware()
	return func(next http.Handler) http.Handler {
		return metrics(tracing(next))
	}
}

// UpdateMetrics refreshes gauges derived from the clock
func (m *Manager) UpdateMetrics() {
	m.metrics.SetUptime(m.startTime)
}

// Close flushes tracing
func (m *Manager) Close(ctx context.Context) error {
	if err := m.tracing.Close(ctx); err != nil {
		m.logger.Errorw("Failed to close tracing manager", "error", err)
		return err
	}
	return nil
}
