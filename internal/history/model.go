package history

import (
	"errors"
	"time"
)

// Status is the outcome of one analysis.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded" // model output parsed into a record
	StatusUnparsed  Status = "unparsed"  // model answered, placeholder returned
	StatusFailed    Status = "failed"    // upload or inference error
)

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("analysis not found")

// Analysis is the audit entry of one /analyze call.
type Analysis struct {
	ID          string     `json:"id"`
	Filename    string     `json:"filename"`
	StoredPath  string     `json:"stored_path"`
	MimeType    string     `json:"mime_type"`
	Status      Status     `json:"status"`
	RawResponse string     `json:"raw_response,omitempty"`
	ErrorCode   string     `json:"error_code,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}

// Outcome is what Complete records for a finished analysis.
type Outcome struct {
	Status      Status
	RawResponse string
	ErrorCode   string
	CompletedAt time.Time
	Duration    time.Duration
}

// Store defines persistence for analyses.
type Store interface {
	Create(a *Analysis) error
	Complete(id string, out Outcome) error
	Get(id string) (*Analysis, error)
	Close() error
}
