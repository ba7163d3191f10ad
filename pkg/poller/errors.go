package poller

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoJob is returned when an operation needs a job id and none is set.
var ErrNoJob = errors.New("no job to poll")

// TimeoutError reports that the polling budget was exhausted.
type TimeoutError struct {
	JobID     string
	StartedAt time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s: polling timed out (started %s)", e.JobID, e.StartedAt.UTC().Format(time.RFC3339))
}

// ConnectionLostError reports that too many consecutive fetches failed.
type ConnectionLostError struct {
	JobID    string
	Failures int
	Err      error
}

func (e *ConnectionLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s: connection lost after %d consecutive failures: %v", e.JobID, e.Failures, e.Err)
	}
	return fmt.Sprintf("job %s: connection lost after %d consecutive failures", e.JobID, e.Failures)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// BackendFailure carries the failure message reported by the backend.
type BackendFailure struct {
	JobID   string
	Message string
}

func (e *BackendFailure) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Message)
}

// CancelledError reports that the backend cancelled the job.
type CancelledError struct {
	JobID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("job %s was cancelled", e.JobID)
}

// IsTimeout returns true if err is a polling timeout.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// IsConnectionLost returns true if err reports lost connectivity.
func IsConnectionLost(err error) bool {
	var ce *ConnectionLostError
	return errors.As(err, &ce)
}

// IsBackendFailure returns true if err is a backend-reported failure.
func IsBackendFailure(err error) bool {
	var bf *BackendFailure
	return errors.As(err, &bf)
}

// IsCancelled returns true if err reports a backend cancellation.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

var errNilSnapshot = errors.New("empty job status response")
