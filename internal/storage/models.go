package storage

import (
	"encoding/json"
	"time"

	"devlaunch/internal/negotiate"
)

// Bucket names for bbolt database
const (
	RunsBucket = "runs"
	MetaBucket = "meta"
)

// Meta keys
const SchemaVersionKey = "schema"

// CurrentSchemaVersion is bumped whenever RunRecord changes incompatibly
const CurrentSchemaVersion = 1

// RunRecord is one launcher invocation: every attempt it made and how the
// negotiation ended.
type RunRecord struct {
	ID          string              `json:"id"`                   // ULID
	SessionID   string              `json:"session_id,omitempty"` // CLI session for log correlation
	Profile     string              `json:"profile"`              // Profile name
	Command     string              `json:"command,omitempty"`    // Command template
	InitialPort int                 `json:"initial_port"`         // Port of the first attempt
	FinalPort   int                 `json:"final_port"`           // Port of the last attempt
	Result      string              `json:"result"`               // Terminal phase
	Error       string              `json:"error,omitempty"`      // Last error, if any
	Attempts    []negotiate.Attempt `json:"attempts"`             // Attempt history in order
	TunnelURL   string              `json:"tunnel_url,omitempty"` // Public URL if one was seen
	Interactive bool                `json:"interactive"`          // Whether the operator could be asked
	StartedAt   time.Time           `json:"started_at"`           // When the first attempt was requested
	DurationMs  int64               `json:"duration_ms"`          // Time until the terminal phase
	Metadata    map[string]string   `json:"metadata,omitempty"`   // Free-form context
}

// Succeeded reports whether the run reached a ready server.
func (r *RunRecord) Succeeded() bool {
	return r.Result == string(negotiate.PhaseReady)
}

// MarshalBinary implements encoding.BinaryMarshaler for BBolt storage
func (r *RunRecord) MarshalBinary() ([]byte, error) {
	return json.Marshal(r)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for BBolt storage
func (r *RunRecord) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, r)
}

// RunFilter selects history records
type RunFilter struct {
	Profile string    // Only this profile
	Result  string    // Only this terminal phase
	Since   time.Time // Runs started at or after this time
	Limit   int       // Max records to return (default 20, max 500)
	Offset  int       // Pagination offset
}

// Validate clamps pagination values
func (f *RunFilter) Validate() {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether r passes the filter
func (f *RunFilter) Matches(r *RunRecord) bool {
	if f.Profile != "" && r.Profile != f.Profile {
		return false
	}
	if f.Result != "" && r.Result != f.Result {
		return false
	}
	if !f.Since.IsZero() && r.StartedAt.Before(f.Since) {
		return false
	}
	return true
}
