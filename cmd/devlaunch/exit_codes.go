package main

import (
	"context"
	"errors"

	"devlaunch/internal/cli/output"
	"devlaunch/internal/launcher"
)

// Exit codes observed by shells and wrapper scripts

const (
	// ExitCodeSuccess indicates normal program termination
	ExitCodeSuccess = 0

	// ExitCodeGeneralError indicates any failure other than an interrupt
	ExitCodeGeneralError = 1

	// ExitCodeInterrupted indicates the operator interrupted the launch (128 + SIGINT)
	ExitCodeInterrupted = 130
)

// exitCodeFor maps a command error onto the process exit code.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}
	if errors.Is(err, launcher.ErrAborted) || errors.Is(err, context.Canceled) {
		return ExitCodeInterrupted
	}
	var se output.StructuredError
	if errors.As(err, &se) && se.Code == output.ErrCodeInterrupted {
		return ExitCodeInterrupted
	}
	return ExitCodeGeneralError
}

// exitCodeDescription returns a human-readable description of the exit code
func exitCodeDescription(code int) string {
	switch code {
	case ExitCodeSuccess:
		return "Success"
	case ExitCodeGeneralError:
		return "General error"
	case ExitCodeInterrupted:
		return "Interrupted by the operator"
	default:
		return "Unknown error"
	}
}
