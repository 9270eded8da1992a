// Package runtime tracks one launcher session: the negotiation in flight,
// the dev server it produced, and the events subscribers watch.
package runtime

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"devlaunch/internal/negotiate"
)

// Phase is the lifecycle of the session around the negotiation.
type Phase string

const (
	PhaseNegotiating Phase = "negotiating"
	PhaseRunning     Phase = "running"
	PhaseStopping    Phase = "stopping"
	PhaseStopped     Phase = "stopped"
	PhaseFailed      Phase = "failed"
)

// Info identifies the session.
type Info struct {
	SessionID string `json:"session_id"`
	Profile   string `json:"profile"`
	Command   string `json:"command"`
}

// Status is the session as reported by the status endpoint.
type Status struct {
	Info
	Phase       Phase           `json:"phase"`
	Negotiation negotiate.State `json:"negotiation"`
	LocalURL    string          `json:"local_url,omitempty"`
	TunnelURL   string          `json:"tunnel_url,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	Uptime      string          `json:"uptime"`
	ExitCode    *int            `json:"exit_code,omitempty"`
}

// Runtime is safe for concurrent use. It implements the launcher's
// Recorder interface and feeds the event bus from it.
type Runtime struct {
	info      Info
	logger    *zap.Logger
	startedAt time.Time

	mu        sync.RWMutex
	phase     Phase
	machine   *negotiate.Machine
	final     *negotiate.State
	localURL  string
	tunnelURL string
	exitCode  *int

	bus eventBus
}

// New creates the runtime for a session.
func New(info Info, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		info:      info,
		logger:    logger,
		startedAt: time.Now(),
		phase:     PhaseNegotiating,
		bus:       eventBus{subs: make(map[chan Event]eventFilter)},
	}
}

// Info returns the session identity.
func (r *Runtime) Info() Info { return r.info }

// AttachMachine makes the machine's live state visible through Status.
func (r *Runtime) AttachMachine(m *negotiate.Machine) {
	r.mu.Lock()
	r.machine = m
	r.mu.Unlock()
}

// Phase returns the session phase.
func (r *Runtime) Phase() Phase {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.phase
}

// ObserveTransition publishes the phase change.
func (r *Runtime) ObserveTransition(t negotiate.Transition) {
	r.publishEvent(newEvent(EventTypePhaseChanged, map[string]any{
		"from":    string(t.From),
		"to":      string(t.To),
		"event":   string(t.Event),
		"attempt": t.Attempt,
		"port":    t.Port,
	}))
}

// ObserveAttempt publishes the attempt outcome.
func (r *Runtime) ObserveAttempt(a negotiate.Attempt) {
	payload := map[string]any{
		"attempt": a.Index,
		"port":    a.Port,
		"outcome": string(a.Outcome),
	}
	if a.ExitCode != nil {
		payload["exit_code"] = *a.ExitCode
	}
	r.publishEvent(newEvent(EventTypeAttemptFinished, payload))
}

// ObserveResult records the terminal negotiation state.
func (r *Runtime) ObserveResult(s negotiate.State, elapsed time.Duration) {
	r.mu.Lock()
	final := s
	r.final = &final
	if s.Phase == negotiate.PhaseReady {
		r.phase = PhaseRunning
	} else {
		r.phase = PhaseFailed
	}
	if s.TunnelURL != "" && r.tunnelURL == "" {
		r.tunnelURL = s.TunnelURL
	}
	r.mu.Unlock()

	r.publishEvent(newEvent(EventTypeNegotiationFinished, map[string]any{
		"result":      string(s.Phase),
		"port":        s.Attempt.Port,
		"attempts":    s.Attempt.Index,
		"duration_ms": elapsed.Milliseconds(),
	}))
}

// SetLocalURL records where the dev server can be reached locally.
func (r *Runtime) SetLocalURL(url string) {
	r.mu.Lock()
	r.localURL = url
	r.mu.Unlock()
}

// SetTunnelURL records the public URL and announces it.
func (r *Runtime) SetTunnelURL(url string) {
	r.mu.Lock()
	changed := r.tunnelURL != url
	r.tunnelURL = url
	r.mu.Unlock()
	if changed {
		r.logger.Info("Tunnel ready", zap.String("url", url))
		r.publishEvent(newEvent(EventTypeTunnelReady, map[string]any{"url": url}))
	}
}

// MarkStopping notes that shutdown has begun.
func (r *Runtime) MarkStopping() {
	r.mu.Lock()
	if r.phase == PhaseRunning || r.phase == PhaseNegotiating {
		r.phase = PhaseStopping
	}
	r.mu.Unlock()
}

// MarkStopped records the dev server's exit.
func (r *Runtime) MarkStopped(exitCode int) {
	r.mu.Lock()
	if r.phase != PhaseFailed {
		r.phase = PhaseStopped
	}
	r.exitCode = &exitCode
	r.mu.Unlock()
	r.publishEvent(newEvent(EventTypeServerStopped, map[string]any{"exit_code": exitCode}))
}

// Status returns a snapshot of the session.
func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Status{
		Info:      r.info,
		Phase:     r.phase,
		LocalURL:  r.localURL,
		TunnelURL: r.tunnelURL,
		StartedAt: r.startedAt,
		Uptime:    time.Since(r.startedAt).Round(time.Second).String(),
		ExitCode:  r.exitCode,
	}
	switch {
	case r.machine != nil:
		st.Negotiation = r.machine.Snapshot()
	case r.final != nil:
		st.Negotiation = *r.final
	}
	if st.TunnelURL == "" {
		st.TunnelURL = st.Negotiation.TunnelURL
	}
	return st
}

// ReadinessCheck returns nil while the dev server is running.
func (r *Runtime) ReadinessCheck() error {
	if p := r.Phase(); p != PhaseRunning {
		return fmt.Errorf("dev server is %s", p)
	}
	return nil
}
