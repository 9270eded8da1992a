package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"devlaunch/internal/negotiate"
)

// MetricsManager manages Prometheus metrics for launches. It implements the
// launcher's Recorder interface.
type MetricsManager struct {
	logger   *zap.SugaredLogger
	registry *prometheus.Registry

	uptime        prometheus.Gauge
	attempts      *prometheus.CounterVec
	conflicts     prometheus.Counter
	transitions   *prometheus.CounterVec
	negotiations  *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	currentPort   prometheus.Gauge
	ready         prometheus.Gauge
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	tunnelLookups *prometheus.CounterVec
}

// NewMetricsManager creates a new metrics manager
func NewMetricsManager(logger *zap.SugaredLogger) *MetricsManager {
	mm := &MetricsManager{
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	mm.initMetrics()
	mm.registerMetrics()
	return mm
}

func (mm *MetricsManager) initMetrics() {
	mm.uptime = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devlaunch_uptime_seconds",
		Help: "Time since the launcher started",
	})

	mm.attempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlaunch_attempts_total",
			Help: "Dev server launch attempts by outcome",
		},
		[]string{"outcome"},
	)

	mm.conflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "devlaunch_port_conflicts_total",
		Help: "Port conflicts reported by the dev server",
	})

	mm.transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlaunch_phase_transitions_total",
			Help: "Negotiation phase transitions",
		},
		[]string{"from_phase", "to_phase"},
	)

	mm.negotiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlaunch_negotiations_total",
			Help: "Completed negotiations by terminal phase",
		},
		[]string{"result"},
	)

	mm.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devlaunch_negotiation_duration_seconds",
			Help:    "Time from first launch to the terminal phase",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"result"},
	)

	mm.currentPort = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devlaunch_current_port",
		Help: "Port of the current or last attempt",
	})

	mm.ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "devlaunch_server_ready",
		Help: "1 while a dev server is ready",
	})

	mm.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlaunch_http_requests_total",
			Help: "Status endpoint requests",
		},
		[]string{"method", "path", "status"},
	)

	mm.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devlaunch_http_request_duration_seconds",
			Help:    "Status endpoint request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	mm.tunnelLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devlaunch_tunnel_lookups_total",
			Help: "Tunnel URL discovery attempts by result",
		},
		[]string{"result"},
	)
}

func (mm *MetricsManager) registerMetrics() {
	mm.registry.MustRegister(
		mm.uptime,
		mm.attempts,
		mm.conflicts,
		mm.transitions,
		mm.negotiations,
		mm.duration,
		mm.currentPort,
		mm.ready,
		mm.httpRequests,
		mm.httpDuration,
		mm.tunnelLookups,
	)

	mm.registry.MustRegister(collectors.NewGoCollector())
	mm.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// Handler returns an HTTP handler for the /metrics endpoint
func (mm *MetricsManager) Handler() http.Handler {
	return promhttp.HandlerFor(mm.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry for custom metrics
func (mm *MetricsManager) Registry() *prometheus.Registry {
	return mm.registry
}

// SetUptime sets the uptime metric
func (mm *MetricsManager) SetUptime(startTime time.Time) {
	mm.uptime.Set(time.Since(startTime).Seconds())
}

// ObserveTransition counts a phase change and tracks the active port.
func (mm *MetricsManager) ObserveTransition(t negotiate.Transition) {
	mm.transitions.WithLabelValues(string(t.From), string(t.To)).Inc()
	if t.Port > 0 {
		mm.currentPort.Set(float64(t.Port))
	}
	if t.Event == negotiate.EventConflict {
		mm.conflicts.Inc()
	}
	if t.To == negotiate.PhaseReady {
		mm.ready.Set(1)
	} else {
		mm.ready.Set(0)
	}
}

// ObserveAttempt counts a finished attempt.
func (mm *MetricsManager) ObserveAttempt(a negotiate.Attempt) {
	mm.attempts.WithLabelValues(string(a.Outcome)).Inc()
}

// ObserveResult records how the negotiation ended.
func (mm *MetricsManager) ObserveResult(s negotiate.State, elapsed time.Duration) {
	result := string(s.Phase)
	mm.negotiations.WithLabelValues(result).Inc()
	mm.duration.WithLabelValues(result).Observe(elapsed.Seconds())
	mm.currentPort.Set(float64(s.Attempt.Port))
}

// ServerStopped clears the ready gauge.
func (mm *MetricsManager) ServerStopped() {
	mm.ready.Set(0)
}

// RecordTunnelLookup counts a tunnel URL discovery result
func (mm *MetricsManager) RecordTunnelLookup(err error) {
	result := StatusSuccess
	if err != nil {
		result = StatusError
	}
	mm.tunnelLookups.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (mm *MetricsManager) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	mm.httpRequests.WithLabelValues(method, path, code).Inc()
	mm.httpDuration.WithLabelValues(method, path, code).Observe(duration.Seconds())
}

// WriteToTextfile writes the current metrics in the text exposition format,
// for node_exporter's textfile collector. The write is atomic.
func (mm *MetricsManager) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, mm.registry); err != nil {
		mm.logger.Warnw("Failed to write metrics textfile", "path", path, "error", err)
		return err
	}
	return nil
}

// HTTPMiddleware returns middleware that records HTTP metrics
func (mm *MetricsManager) HTTPMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(ww, r)
			mm.RecordHTTPRequest(r.Method, r.URL.Path, ww.statusCode, time.Since(start))
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the middleware
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
