// Package negotiate holds the port negotiation state machine. It is a pure
// value machine: callers feed it classified output and process events, and
// act on the phase it reports. It never starts or stops processes itself.
package negotiate

import (
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"devlaunch/internal/classify"
)

// Outcome is the terminal result of one attempt.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeConflict  Outcome = "conflict"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// Attempt is one launch of the dev server.
type Attempt struct {
	Index     int       `json:"index"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	ExitCode  *int      `json:"exit_code,omitempty"`
}

// State is a snapshot of a negotiation.
type State struct {
	Phase         Phase     `json:"phase"`
	Attempt       Attempt   `json:"attempt"`
	MaxAttempts   int       `json:"max_attempts"`
	ConflictPort  int       `json:"conflict_port,omitempty"`
	SuggestedPort int       `json:"suggested_port,omitempty"`
	ReadySeen     bool      `json:"ready_seen"`
	TunnelURL     string    `json:"tunnel_url,omitempty"`
	History       []Attempt `json:"history"`
	LastError     string    `json:"last_error,omitempty"`
}

// CandidatePort is the port the next attempt would use: the suggestion when
// known, otherwise the port after the conflicting one.
func (s State) CandidatePort() int {
	if s.SuggestedPort > 0 {
		return s.SuggestedPort
	}
	if s.ConflictPort > 0 {
		return s.ConflictPort + 1
	}
	return s.Attempt.Port + 1
}

// Transition represents a phase change with metadata
type Transition struct {
	From      Phase
	To        Phase
	Event     Event
	Attempt   int
	Port      int
	Timestamp time.Time
}

// Machine drives one negotiation. It is safe to read Snapshot from other
// goroutines while a single owner feeds events.
type Machine struct {
	mu        sync.RWMutex
	state     State
	lastErr   error
	logger    *zap.Logger
	now       func() time.Time
	observers []func(Transition)
}

// NewMachine returns a machine in PhaseStarting for attempt 1 on initialPort.
func NewMachine(initialPort, maxAttempts int, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Machine{
		state: State{
			Phase:       PhaseStarting,
			Attempt:     Attempt{Index: 1, Port: initialPort, Outcome: OutcomePending},
			MaxAttempts: maxAttempts,
		},
		logger: logger,
		now:    time.Now,
	}
}

// OnTransition registers fn to be called after every phase change. Observers
// run synchronously on the caller's goroutine.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := m.state
	s.History = append([]Attempt(nil), m.state.History...)
	return s
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Phase
}

// Err returns the cause recorded by the last failure, if any.
func (m *Machine) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Launched records that the child for the current attempt is running.
func (m *Machine) Launched() {
	m.apply(EventLaunched, func(s *State) Phase {
		if s.Phase != PhaseStarting {
			return s.Phase
		}
		s.Attempt.StartedAt = m.now()
		return PhaseStreaming
	})
}

// SpawnFailed records that the child could not be started.
func (m *Machine) SpawnFailed(err error) {
	m.apply(EventSpawnFailed, func(s *State) Phase {
		if s.Phase != PhaseStarting {
			return s.Phase
		}
		m.lastErr = err
		s.LastError = errString(err)
		m.finishAttempt(s, OutcomeFailed, nil)
		return PhaseFailed
	})
}

// Observe feeds one classified signal.
func (m *Machine) Observe(sig classify.Signal) {
	switch sig.Kind {
	case classify.ConflictDetected:
		m.apply(EventConflict, func(s *State) Phase {
			if s.Phase != PhaseStreaming && s.Phase != PhaseConflictPending {
				return s.Phase
			}
			port := sig.Port
			if port == 0 {
				port = s.Attempt.Port
			}
			s.ConflictPort = port
			return PhaseConflictPending
		})

	case classify.AlternatePortSuggested:
		m.apply(EventSuggestion, func(s *State) Phase {
			// A suggestion only matters once a conflict has been reported.
			if s.Phase == PhaseConflictPending {
				s.SuggestedPort = sig.Port
			}
			return s.Phase
		})

	case classify.InputRequired:
		m.apply(EventInputRequired, m.promptIfResolvable)

	case classify.TunnelURL:
		m.apply(EventTunnelURL, func(s *State) Phase {
			if IsTerminal(s.Phase) && s.Phase != PhaseReady {
				return s.Phase
			}
			s.TunnelURL = sig.URL
			if s.Phase == PhaseStreaming {
				s.ReadySeen = true
				m.finishAttempt(s, OutcomeSucceeded, nil)
				return PhaseReady
			}
			return s.Phase
		})

	case classify.Ready:
		m.apply(EventReady, func(s *State) Phase {
			if s.Phase != PhaseStreaming {
				return s.Phase
			}
			s.ReadySeen = true
			m.finishAttempt(s, OutcomeSucceeded, nil)
			return PhaseReady
		})
	}
}

// Stalled reports that the child has gone quiet. A pending conflict with a
// known suggestion is then treated as waiting for input.
func (m *Machine) Stalled() {
	m.apply(EventStalled, m.promptIfResolvable)
}

func (m *Machine) promptIfResolvable(s *State) Phase {
	if s.Phase == PhaseConflictPending && s.ConflictPort > 0 && s.SuggestedPort > 0 {
		return PhaseAwaitingDecision
	}
	return s.Phase
}

// Decide resolves an awaiting decision. accepted covers both automatic
// remediation and operator acceptance.
func (m *Machine) Decide(accepted bool) {
	event := EventDeclined
	if accepted {
		event = EventAccepted
	}
	m.apply(event, func(s *State) Phase {
		if s.Phase != PhaseAwaitingDecision {
			return s.Phase
		}
		m.finishAttempt(s, OutcomeConflict, nil)
		if accepted {
			return PhaseRestarting
		}
		return PhaseDeclined
	})
}

// StreamEnded records that the child's output ended or the child exited.
// exitCode is nil when unknown. After an unresolved conflict the machine
// falls back to a restart; otherwise the attempt failed.
func (m *Machine) StreamEnded(exitCode *int, ioErr error) {
	m.apply(EventStreamEnded, func(s *State) Phase {
		switch s.Phase {
		case PhaseConflictPending, PhaseAwaitingDecision:
			m.finishAttempt(s, OutcomeConflict, exitCode)
			return PhaseRestarting
		case PhaseStreaming:
			if ioErr != nil {
				m.lastErr = ioErr
				s.LastError = errString(ioErr)
			}
			m.finishAttempt(s, OutcomeFailed, exitCode)
			return PhaseFailed
		default:
			return s.Phase
		}
	})
}

// Restart moves to the next attempt on the candidate port, or to
// PhaseExhausted when the ceiling is reached.
func (m *Machine) Restart() {
	m.apply(EventRestart, func(s *State) Phase {
		if s.Phase != PhaseRestarting {
			return s.Phase
		}
		next := s.CandidatePort()
		if s.Attempt.Index >= s.MaxAttempts || next > 65535 {
			return PhaseExhausted
		}
		s.Attempt = Attempt{Index: s.Attempt.Index + 1, Port: next, Outcome: OutcomePending}
		s.ConflictPort = 0
		s.SuggestedPort = 0
		s.ReadySeen = false
		s.TunnelURL = ""
		return PhaseStarting
	})
}

// Fail moves a non-terminal negotiation to PhaseFailed.
func (m *Machine) Fail(err error) {
	m.apply(EventFail, func(s *State) Phase {
		if IsTerminal(s.Phase) {
			return s.Phase
		}
		m.lastErr = err
		s.LastError = errString(err)
		m.finishAttempt(s, OutcomeFailed, nil)
		return PhaseFailed
	})
}

// Abort moves a non-terminal negotiation to PhaseAborted.
func (m *Machine) Abort() {
	m.apply(EventAbort, func(s *State) Phase {
		if IsTerminal(s.Phase) {
			return s.Phase
		}
		m.finishAttempt(s, OutcomeAborted, nil)
		return PhaseAborted
	})
}

// finishAttempt closes the current attempt once and appends it to History.
func (m *Machine) finishAttempt(s *State, outcome Outcome, exitCode *int) {
	if s.Attempt.Outcome != OutcomePending {
		return
	}
	s.Attempt.Outcome = outcome
	s.Attempt.EndedAt = m.now()
	s.Attempt.ExitCode = exitCode
	s.History = append(s.History, s.Attempt)
}

// apply runs fn under the lock and performs the transition it returns.
func (m *Machine) apply(event Event, fn func(*State) Phase) {
	m.mu.Lock()
	from := m.state.Phase
	before := m.state
	to := fn(&m.state)

	if to == from {
		m.mu.Unlock()
		m.logger.Debug("Event handled without phase change",
			zap.String("event", string(event)),
			zap.String("phase", string(from)),
			zap.Int("attempt", m.state.Attempt.Index))
		return
	}

	if !CanTransition(from, to) {
		m.state = before
		m.mu.Unlock()
		m.logger.Error("Invalid phase transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("event", string(event)))
		return
	}

	m.state.Phase = to
	t := Transition{
		From:      from,
		To:        to,
		Event:     event,
		Attempt:   m.state.Attempt.Index,
		Port:      m.state.Attempt.Port,
		Timestamp: m.now(),
	}
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	m.logger.Info("Phase transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("event", string(event)),
		zap.Int("attempt", t.Attempt),
		zap.Int("port", t.Port))

	for _, fn := range observers {
		fn(t)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
