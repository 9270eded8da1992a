package launcher

import (
	"errors"
	"fmt"
	"strings"

	"devlaunch/internal/negotiate"
)

// ErrorCode identifies categories of terminal negotiation errors
type ErrorCode string

const (
	ErrorCodeSpawnFailure ErrorCode = "SPAWN_FAILURE"
	ErrorCodeExhausted    ErrorCode = "EXHAUSTED"
	ErrorCodeDeclined     ErrorCode = "DECLINED"
	ErrorCodeFailed       ErrorCode = "FAILED"
	ErrorCodeAborted      ErrorCode = "ABORTED"
)

// Sentinels matched by errors.Is against an *Error of the same code.
var (
	ErrSpawnFailure = errors.New("dev server could not be started")
	ErrExhausted    = errors.New("maximum attempts reached")
	ErrDeclined     = errors.New("alternate port declined")
	ErrFailed       = errors.New("dev server failed")
	ErrAborted      = errors.New("launch aborted")
)

var sentinels = map[ErrorCode]error{
	ErrorCodeSpawnFailure: ErrSpawnFailure,
	ErrorCodeExhausted:    ErrExhausted,
	ErrorCodeDeclined:     ErrDeclined,
	ErrorCodeFailed:       ErrFailed,
	ErrorCodeAborted:      ErrAborted,
}

// Error is the terminal result of a negotiation that did not reach ready.
// Port and Attempts always describe the last attempt made.
type Error struct {
	Code     ErrorCode
	Port     int
	Attempts int
	// ExitCode of the last child, when it exited on its own
	ExitCode *int
	Cause    error
	// Suggestion provides actionable guidance for resolving the error
	Suggestion string
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s (port %d, attempt %d)", e.Code, sentinels[e.Code], e.Port, e.Attempts)
	if e.ExitCode != nil {
		fmt.Fprintf(&b, "; exit code %d", *e.ExitCode)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "; cause: %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying error for errors.Is/As compatibility
func (e *Error) Unwrap() error { return e.Cause }

// Is matches the sentinel for e.Code.
func (e *Error) Is(target error) bool {
	return sentinels[e.Code] == target
}

// errorFromState builds the terminal error for a failed negotiation.
func errorFromState(s negotiate.State, cause error) *Error {
	e := &Error{
		Port:     s.Attempt.Port,
		Attempts: s.Attempt.Index,
		ExitCode: s.Attempt.ExitCode,
		Cause:    cause,
	}
	switch s.Phase {
	case negotiate.PhaseExhausted:
		e.Code = ErrorCodeExhausted
		e.Suggestion = fmt.Sprintf("Stop the process using port %d or pass --port", s.Attempt.Port)
	case negotiate.PhaseDeclined:
		e.Code = ErrorCodeDeclined
		e.Suggestion = "Free the port and run again, or accept the alternate port"
	case negotiate.PhaseAborted:
		e.Code = ErrorCodeAborted
	default:
		e.Code = ErrorCodeFailed
		e.Suggestion = "Check the dev server output above"
	}
	return e
}
