package storage

import (
	"time"

	"devlaunch/internal/negotiate"
)

// DefaultHistoryLimit is how many runs are kept after each save.
const DefaultHistoryLimit = 200

// HistoryRecorder persists the outcome of a negotiation when it ends.
type HistoryRecorder struct {
	Manager     *Manager
	SessionID   string
	Profile     string
	Command     string
	Interactive bool
	// Keep bounds the stored history; zero means DefaultHistoryLimit
	Keep int

	started time.Time
	saved   *RunRecord
}

// ObserveTransition notes when the negotiation started.
func (h *HistoryRecorder) ObserveTransition(t negotiate.Transition) {
	if h.started.IsZero() {
		h.started = t.Timestamp
	}
}

// ObserveAttempt is a no-op; attempts are taken from the final state.
func (h *HistoryRecorder) ObserveAttempt(negotiate.Attempt) {}

// ObserveResult writes the run record. Storage errors are logged, never
// returned, so history cannot change the launch outcome.
func (h *HistoryRecorder) ObserveResult(s negotiate.State, elapsed time.Duration) {
	started := h.started
	if started.IsZero() {
		started = time.Now().Add(-elapsed)
	}
	initial := s.Attempt.Port
	if len(s.History) > 0 {
		initial = s.History[0].Port
	}

	record := &RunRecord{
		SessionID:   h.SessionID,
		Profile:     h.Profile,
		Command:     h.Command,
		InitialPort: initial,
		FinalPort:   s.Attempt.Port,
		Result:      string(s.Phase),
		Error:       s.LastError,
		Attempts:    append([]negotiate.Attempt(nil), s.History...),
		TunnelURL:   s.TunnelURL,
		Interactive: h.Interactive,
		StartedAt:   started.UTC(),
		DurationMs:  elapsed.Milliseconds(),
	}
	if err := h.Manager.SaveRun(record); err != nil {
		h.Manager.logger.Warnw("Failed to save launch history", "error", err)
		return
	}
	h.saved = record

	keep := h.Keep
	if keep == 0 {
		keep = DefaultHistoryLimit
	}
	if _, err := h.Manager.PruneExcessRuns(keep); err != nil {
		h.Manager.logger.Warnw("Failed to prune launch history", "error", err)
	}
}

// Saved returns the record written by ObserveResult, or nil.
func (h *HistoryRecorder) Saved() *RunRecord {
	return h.saved
}
