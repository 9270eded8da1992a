package output

// StructuredError is a CLI error with a stable code and a suggested fix.
type StructuredError struct {
	// Code is a machine-readable error identifier (e.g., "PORTS_EXHAUSTED")
	Code string `json:"code" yaml:"code"`

	Message string `json:"message" yaml:"message"`

	// Guidance explains why this error occurred
	Guidance string `json:"guidance,omitempty" yaml:"guidance,omitempty"`

	// RecoveryCommand suggests a command to fix the issue
	RecoveryCommand string `json:"recovery_command,omitempty" yaml:"recovery_command,omitempty"`

	Context map[string]any `json:"context,omitempty" yaml:"context,omitempty"`

	// SessionID correlates the error with log lines and history records
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`
}

// Error implements the error interface for StructuredError.
func (e StructuredError) Error() string {
	return e.Message
}

// Error codes reported by devlaunch commands
const (
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeProfileNotFound     = "PROFILE_NOT_FOUND"
	ErrCodeToolMissing         = "TOOL_MISSING"
	ErrCodeInstallFailed       = "INSTALL_FAILED"
	ErrCodeSpawnFailure        = "SPAWN_FAILURE"
	ErrCodePortsExhausted      = "PORTS_EXHAUSTED"
	ErrCodeDeclined            = "DECLINED"
	ErrCodeLaunchFailed        = "LAUNCH_FAILED"
	ErrCodeInterrupted         = "INTERRUPTED"
	ErrCodeHistoryUnavailable  = "HISTORY_UNAVAILABLE"
	ErrCodeInvalidOutputFormat = "INVALID_OUTPUT_FORMAT"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeOperationFailed     = "OPERATION_FAILED"
)

// NewStructuredError creates a new StructuredError with the given code and message.
func NewStructuredError(code, message string) StructuredError {
	return StructuredError{
		Code:    code,
		Message: message,
	}
}

// WithGuidance adds guidance to the error.
func (e StructuredError) WithGuidance(guidance string) StructuredError {
	e.Guidance = guidance
	return e
}

// WithRecoveryCommand adds a recovery command suggestion.
func (e StructuredError) WithRecoveryCommand(cmd string) StructuredError {
	e.RecoveryCommand = cmd
	return e
}

// WithContext adds context data to the error.
func (e StructuredError) WithContext(key string, value any) StructuredError {
	ctx := make(map[string]any, len(e.Context)+1)
	for k, v := range e.Context {
		ctx[k] = v
	}
	ctx[key] = value
	e.Context = ctx
	return e
}

// WithSessionID tags the error with the launcher session.
func (e StructuredError) WithSessionID(id string) StructuredError {
	e.SessionID = id
	return e
}

// FromError converts a standard error to a StructuredError.
func FromError(err error, code string) StructuredError {
	if se, ok := err.(StructuredError); ok {
		return se
	}
	return StructuredError{
		Code:    code,
		Message: err.Error(),
	}
}
