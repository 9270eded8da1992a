package negotiate

// Phase is the position of a negotiation in its lifecycle.
type Phase string

const (
	// PhaseStarting means a child is about to be started for the current attempt
	PhaseStarting Phase = "starting"

	// PhaseStreaming means the child is running and its output is being classified
	PhaseStreaming Phase = "streaming"

	// PhaseConflictPending means a port conflict was reported for the current attempt
	PhaseConflictPending Phase = "conflict_pending"

	// PhaseAwaitingDecision means the dev server is asking whether to use another port
	PhaseAwaitingDecision Phase = "awaiting_decision"

	// PhaseRestarting means the current child is being replaced
	PhaseRestarting Phase = "restarting"

	// PhaseReady means the dev server is serving
	PhaseReady Phase = "ready"

	// PhaseExhausted means the attempt ceiling was reached
	PhaseExhausted Phase = "exhausted"

	// PhaseDeclined means the operator refused the alternate port
	PhaseDeclined Phase = "declined"

	// PhaseFailed means the child could not start or exited without a conflict
	PhaseFailed Phase = "failed"

	// PhaseAborted means the run was cancelled
	PhaseAborted Phase = "aborted"
)

// Event names the input that caused a transition.
type Event string

const (
	EventLaunched      Event = "launched"
	EventSpawnFailed   Event = "spawn_failed"
	EventConflict      Event = "conflict"
	EventSuggestion    Event = "suggestion"
	EventInputRequired Event = "input_required"
	EventStalled       Event = "stalled"
	EventReady         Event = "ready"
	EventTunnelURL     Event = "tunnel_url"
	EventAccepted      Event = "accepted"
	EventDeclined      Event = "declined"
	EventStreamEnded   Event = "stream_ended"
	EventRestart       Event = "restart"
	EventFail          Event = "fail"
	EventAbort         Event = "abort"
)

// Info provides metadata about each phase
type Info struct {
	Name        Phase
	Description string
	Terminal    bool
	IsError     bool
	UserMessage string
}

// GetInfo returns metadata for a given phase
func GetInfo(phase Phase) Info {
	infoMap := map[Phase]Info{
		PhaseStarting: {
			Name:        PhaseStarting,
			Description: "Starting dev server process",
			UserMessage: "Starting dev server...",
		},
		PhaseStreaming: {
			Name:        PhaseStreaming,
			Description: "Watching dev server output",
			UserMessage: "Waiting for dev server...",
		},
		PhaseConflictPending: {
			Name:        PhaseConflictPending,
			Description: "Dev server reported a port conflict",
			UserMessage: "Port in use, looking for an alternative...",
		},
		PhaseAwaitingDecision: {
			Name:        PhaseAwaitingDecision,
			Description: "Dev server offered an alternate port",
			UserMessage: "Waiting for a decision on the alternate port",
		},
		PhaseRestarting: {
			Name:        PhaseRestarting,
			Description: "Restarting dev server on another port",
			UserMessage: "Restarting on another port...",
		},
		PhaseReady: {
			Name:        PhaseReady,
			Description: "Dev server is ready",
			UserMessage: "Dev server is running",
			Terminal:    true,
		},
		PhaseExhausted: {
			Name:        PhaseExhausted,
			Description: "Maximum attempts reached",
			UserMessage: "Could not find a free port - stop the other server or pick another port",
			Terminal:    true,
			IsError:     true,
		},
		PhaseDeclined: {
			Name:        PhaseDeclined,
			Description: "Alternate port declined",
			UserMessage: "Alternate port declined",
			Terminal:    true,
			IsError:     true,
		},
		PhaseFailed: {
			Name:        PhaseFailed,
			Description: "Dev server failed",
			UserMessage: "Dev server failed to start - check the output above",
			Terminal:    true,
			IsError:     true,
		},
		PhaseAborted: {
			Name:        PhaseAborted,
			Description: "Interrupted",
			UserMessage: "Interrupted",
			Terminal:    true,
			IsError:     true,
		},
	}

	if info, exists := infoMap[phase]; exists {
		return info
	}

	return Info{
		Name:        phase,
		Description: string(phase),
		UserMessage: string(phase),
	}
}

// IsTerminal reports whether no further transitions can leave phase.
func IsTerminal(phase Phase) bool {
	return GetInfo(phase).Terminal
}

// CanTransition checks if a transition from one phase to another is valid
func CanTransition(from, to Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseStarting: {
			PhaseStreaming,
			PhaseFailed, // spawn failure
			PhaseAborted,
		},
		PhaseStreaming: {
			PhaseConflictPending,
			PhaseReady,
			PhaseFailed,
			PhaseAborted,
		},
		PhaseConflictPending: {
			PhaseAwaitingDecision,
			PhaseRestarting, // exited after conflict
			PhaseFailed,
			PhaseAborted,
		},
		PhaseAwaitingDecision: {
			PhaseRestarting,
			PhaseDeclined,
			PhaseFailed,
			PhaseAborted,
		},
		PhaseRestarting: {
			PhaseStarting,
			PhaseExhausted,
			PhaseFailed,
			PhaseAborted,
		},
		PhaseReady:     {},
		PhaseExhausted: {},
		PhaseDeclined:  {},
		PhaseFailed:    {},
		PhaseAborted:   {},
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
