// Package poller tracks an asynchronous backend job by polling its status
// endpoint on a fixed cadence.
//
// The package is split in two layers:
//   - Transition: a pure function of (config, state, event) that returns the
//     next state and the effects the runtime must perform.
//   - Poller: the runtime that owns one polling loop, drives Transition from
//     a Clock, performs fetches and publishes state to subscribers.
package poller

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status is the job status reported by the backend.
//
// NOTE: These values are the backend wire contract of GET /jobs/{id}/status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus normalizes and validates a wire status value.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}

// Phase is the lifecycle phase of the poller itself.
type Phase string

const (
	PhaseIdle               Phase = "idle"
	PhasePolling            Phase = "polling"
	PhaseCompleted          Phase = "completed"
	PhaseFailed             Phase = "failed"
	PhaseTimedOut           Phase = "timed_out"
	PhaseConnectionLost     Phase = "connection_lost"
	PhaseCancelledByBackend Phase = "cancelled_by_backend"
)

// Terminal reports whether no further automatic ticking happens in p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseTimedOut, PhaseConnectionLost, PhaseCancelledByBackend:
		return true
	default:
		return false
	}
}

// Error values stored in State.Error for poller-originated terminal states.
const (
	ErrorTimeout        = "timeout"
	ErrorConnectionLost = "connection lost"
	ErrorCancelled      = "cancelled"
	ErrorGenericFailure = "processing failed"
)

// Snapshot is one status payload fetched for a job.
type Snapshot struct {
	JobID    string          `json:"job_id"`
	Status   Status          `json:"status"`
	Progress float64         `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// State is the poller state for a single job.
//
// State is owned by the Poller; consumers receive copies.
type State struct {
	JobID    string          `json:"job_id,omitempty"`
	Phase    Phase           `json:"phase"`
	Status   Status          `json:"status"`
	Progress float64         `json:"progress"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Active   bool            `json:"active"`

	StartedAt         time.Time `json:"started_at"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	Attempts          int       `json:"attempts"`

	// LastFetchErr is the most recent transport failure, if any.
	LastFetchErr error `json:"-"`
}

// Terminal reports whether the state is in a terminal phase.
func (s State) Terminal() bool {
	return s.Phase.Terminal()
}

// Err maps a terminal phase to a typed error. Completed and non-terminal
// states return nil.
func (s State) Err() error {
	switch s.Phase {
	case PhaseTimedOut:
		return &TimeoutError{JobID: s.JobID, StartedAt: s.StartedAt}
	case PhaseConnectionLost:
		return &ConnectionLostError{JobID: s.JobID, Failures: s.ConsecutiveErrors, Err: s.LastFetchErr}
	case PhaseFailed:
		return &BackendFailure{JobID: s.JobID, Message: s.Error}
	case PhaseCancelledByBackend:
		return &CancelledError{JobID: s.JobID}
	default:
		return nil
	}
}

// Config controls polling cadence and failure thresholds.
type Config struct {
	// Interval is the fixed delay between fetch attempts.
	// Default: 2s
	Interval time.Duration

	// MaxDuration is the wall-clock budget measured from StartedAt.
	// Default: 5m
	MaxDuration time.Duration

	// MaxConsecutiveErrors is the number of back-to-back transport failures
	// tolerated before the poller gives up.
	// Default: 3
	MaxConsecutiveErrors int
}

// DefaultConfig returns the default polling configuration.
func DefaultConfig() Config {
	return Config{
		Interval:             2 * time.Second,
		MaxDuration:          5 * time.Minute,
		MaxConsecutiveErrors: 3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = def.Interval
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = def.MaxDuration
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = def.MaxConsecutiveErrors
	}
	return c
}

// NotificationKind identifies a user-visible notification.
type NotificationKind string

const (
	NotifyTimeout        NotificationKind = "timeout"
	NotifyBackendFailure NotificationKind = "backend_failure"
	NotifyConnectionLost NotificationKind = "connection_lost"
)

// Notification is emitted once when polling halts for a reason the user
// must see.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	JobID   string           `json:"job_id"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
}

// Notifier receives user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(n Notification)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notification) { f(n) }
