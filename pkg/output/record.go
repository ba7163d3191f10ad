// Package output provides JSONL output for plagiarism checks and job
// watches.
//
// Output is structured as typed record envelopes containing check
// submissions, job progress, results, notifications and errors. Each line is
// a self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/plagctl/pkg/similarity"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: plagctl.<type>.v<version>
const (
	// TypeCheck identifies file submission records.
	TypeCheck = "plagctl.check.v1"

	// TypeProgress identifies job progress records.
	TypeProgress = "plagctl.job.progress.v1"

	// TypeResult identifies completed check results.
	TypeResult = "plagctl.result.v1"

	// TypeNotification identifies user-visible polling notifications.
	TypeNotification = "plagctl.job.notification.v1"

	// TypeError identifies error records.
	TypeError = "plagctl.error.v1"

	// TypeSummary identifies final batch summary records.
	TypeSummary = "plagctl.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "plagctl.job.progress.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// JobID is the backend job id, or the local correlation id for
	// synchronous checks and batch runs.
	JobID string `json:"job_id"`

	// Backend is the API base URL the records were produced against.
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// CheckRecord is the data payload for a submitted file.
type CheckRecord struct {
	// File is the local path that was uploaded.
	File string `json:"file"`

	// Mode is "sync" when the backend answered with a result, "async" when
	// it queued a job.
	Mode string `json:"mode"`

	// JobID is the backend job id for async submissions.
	JobID string `json:"job_id,omitempty"`

	// Size is the uploaded file size in bytes.
	Size int64 `json:"size"`
}

// Check modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// ProgressRecord is the data payload for job progress updates.
//
// One record is emitted per poll that changed the observed state.
type ProgressRecord struct {
	// Phase is the poller phase (polling, completed, timed_out, ...).
	Phase string `json:"phase"`

	// Status is the last backend status (pending, processing, done, ...).
	Status string `json:"status,omitempty"`

	// Progress is the last reported progress percentage in [0,100].
	Progress float64 `json:"progress"`

	// Attempts is the number of fetches performed so far.
	Attempts int `json:"attempts"`

	// ConsecutiveErrors is the current run of transport failures.
	ConsecutiveErrors int `json:"consecutive_errors,omitempty"`

	// Elapsed is the time since polling started.
	Elapsed time.Duration `json:"elapsed_ns"`
}

// ResultRecord is the data payload for a finished check.
type ResultRecord struct {
	// File is the checked file name as reported by the backend.
	File string `json:"file"`

	// ResultID is the id of the result in the local result store.
	ResultID string `json:"result_id,omitempty"`

	// OverallSimilarity is the overall similarity percentage.
	OverallSimilarity float64 `json:"overall_similarity"`

	// Level is the plagiarism level reported by the backend.
	Level similarity.Level `json:"level"`

	// Plagiarized mirrors the backend is_plagiarized flag.
	Plagiarized bool `json:"plagiarized"`

	// Matches is the number of matching corpus documents.
	Matches int `json:"matches"`

	// TopMatch is the title of the most similar source, if any.
	TopMatch string `json:"top_match,omitempty"`
}

// NotificationRecord is the data payload for notifications raised when
// polling halts.
type NotificationRecord struct {
	Kind    string `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire batch,
// allowing partial results when some files fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// File is the local file related to this error, if applicable.
	File string `json:"file,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	// ErrCodeValidation indicates the file was rejected before upload.
	ErrCodeValidation = "VALIDATION"

	// ErrCodeAuth indicates the session is missing or expired.
	ErrCodeAuth = "AUTH_EXPIRED"

	// ErrCodeNotFound indicates the job or resource was not found.
	ErrCodeNotFound = "NOT_FOUND"

	// ErrCodeThrottled indicates rate limiting.
	ErrCodeThrottled = "THROTTLED"

	// ErrCodeRejected indicates the backend refused the request (4xx).
	ErrCodeRejected = "REJECTED"

	// ErrCodeTimeout indicates the polling budget was exhausted.
	ErrCodeTimeout = "TIMEOUT"

	// ErrCodeConnectionLost indicates repeated transport failures.
	ErrCodeConnectionLost = "CONNECTION_LOST"

	// ErrCodeBackendFailure indicates the backend reported the job failed.
	ErrCodeBackendFailure = "BACKEND_FAILURE"

	// ErrCodeCancelled indicates the job was cancelled.
	ErrCodeCancelled = "CANCELLED"

	// ErrCodeBackendUnavailable indicates the backend could not be reached
	// or answered with a server error.
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted at the end of a batch check with aggregate
// statistics.
type SummaryRecord struct {
	// Files is the number of files selected.
	Files int `json:"files"`

	// Completed is the number of files with a result.
	Completed int `json:"completed"`

	// Failed is the number of files that produced an error.
	Failed int `json:"failed"`

	// HighestLevel is the most severe plagiarism level seen.
	HighestLevel similarity.Level `json:"highest_level,omitempty"`

	// Duration is the total batch duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
