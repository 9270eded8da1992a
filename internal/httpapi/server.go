// Package httpapi serves the launcher's local status endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"devlaunch/internal/observability"
	"devlaunch/internal/reqcontext"
	"devlaunch/internal/runtime"
	"devlaunch/internal/storage"
)

// Controller is the session the endpoint reports on.
type Controller interface {
	Status() runtime.Status
	ReadinessCheck() error
	SubscribeEvents(types ...runtime.EventType) chan runtime.Event
	UnsubscribeEvents(ch chan runtime.Event)
}

// HistoryLister lists stored launch history.
type HistoryLister interface {
	ListRuns(filter storage.RunFilter) ([]*storage.RunRecord, int, error)
}

// Server provides the status API on a chi router
type Server struct {
	controller    Controller
	history       HistoryLister
	logger        *zap.SugaredLogger
	router        *chi.Mux
	observability *observability.Manager
	heartbeat     time.Duration

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the status server. history and obs may be nil.
func NewServer(controller Controller, history HistoryLister, logger *zap.SugaredLogger, obs *observability.Manager) *Server {
	s := &Server{
		controller:    controller,
		history:       history,
		logger:        logger,
		router:        chi.NewRouter(),
		observability: obs,
		heartbeat:     30 * time.Second,
	}
	s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	if s.observability != nil {
		s.router.Use(s.observability.HTTPMiddleware())
	}
	s.router.Use(s.requestLoggingMiddleware())
	s.router.Use(middleware.Recoverer)
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.sessionHeaderMiddleware())

	s.router.Get("/healthz", s.handleHealthz)
	s.router.Get("/readyz", s.handleReadyz)
	if s.observability != nil {
		s.router.Handle("/metrics", s.observability.Metrics().Handler())
	}

	ui := newDashboardHandler(s.logger)
	s.router.Handle("/ui", ui)
	s.router.Handle("/ui/*", ui)
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusFound)
	})

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleGetStatus)
		r.Get("/history", s.handleGetHistory)
		r.Get("/events", s.handleSSEEvents)
	})
}

// Start listens on addr and serves until Shutdown. The bound address is
// returned so ":0" can be used.
func (s *Server) Start(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("Status server stopped", "error", err)
		}
	}()
	s.logger.Infow("Status endpoint listening", "addr", ln.Addr().String())
	return ln.Addr().String(), nil
}

// Shutdown stops the server started by Start
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.observability == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": observability.StatusHealthy})
		return
	}
	resp := s.observability.Health().CheckHealth(r.Context())
	status := http.StatusOK
	if resp.Status != observability.StatusHealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.observability == nil {
		if err := s.controller.ReadinessCheck(); err != nil {
			s.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}
	resp := s.observability.Health().CheckReadiness(r.Context())
	status := http.StatusOK
	if resp.Status != observability.StatusReady {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleGetStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.controller.Status())
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "history is not available")
		return
	}

	q := r.URL.Query()
	filter := storage.RunFilter{
		Profile: q.Get("profile"),
		Result:  q.Get("result"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
		filter.Offset = n
	}

	runs, total, err := s.history.ListRuns(filter)
	if err != nil {
		s.logger.Errorw("Failed to list history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list history")
		return
	}
	if runs == nil {
		runs = []*storage.RunRecord{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "total": total})
}

func (s *Server) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := w.(http.Flusher)
	fmt.Fprintf(w, ": connected\nretry: 5000\n\n")
	if canFlush {
		flusher.Flush()
	}

	events := s.controller.SubscribeEvents()
	defer s.controller.UnsubscribeEvents(events)

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	if err := s.writeSSEEvent(w, flusher, canFlush, "status", s.controller.Status()); err != nil {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if err := s.writeSSEEvent(w, flusher, canFlush, "ping", map[string]any{"timestamp": time.Now().Unix()}); err != nil {
				return
			}
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := s.writeSSEEvent(w, flusher, canFlush, string(evt.Type), evt); err != nil {
				s.logger.Debugw("Failed to write SSE event", "error", err)
				return
			}
		}
	}
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, canFlush bool, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	if canFlush {
		flusher.Flush()
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{"success": false, "error": message})
}

// sessionHeaderMiddleware tags every response with the session ID.
func (s *Server) sessionHeaderMiddleware() func(http.Handler) http.Handler {
	session := s.controller.Status().SessionID
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if session != "" {
				w.Header().Set(reqcontext.SessionIDHeader, session)
				r = r.WithContext(reqcontext.WithSessionID(r.Context(), session))
			}
			next.ServeHTTP(w, r)
		})
	}
}
