package jobregistry

import (
	"time"

	"github.com/3leaps/plagctl/pkg/poller"
)

// JobState is the local lifecycle state of a submitted check job.
//
// NOTE: These values are persisted in job.json and are part of the stable
// on-disk contract.
type JobState string

const (
	JobStateSubmitted      JobState = "submitted"
	JobStatePolling        JobState = "polling"
	JobStateCompleted      JobState = "completed"
	JobStateFailed         JobState = "failed"
	JobStateTimedOut       JobState = "timed_out"
	JobStateConnectionLost JobState = "connection_lost"
	JobStateCancelled      JobState = "cancelled"
	JobStateUnknown        JobState = "unknown"
)

// Terminal reports whether no watcher will advance the job any further.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateTimedOut, JobStateConnectionLost, JobStateCancelled:
		return true
	default:
		return false
	}
}

// ClientHalted reports whether the job stopped because of a local polling
// limit (deadline or lost connection) rather than a backend outcome.
func (s JobState) ClientHalted() bool {
	return s == JobStateTimedOut || s == JobStateConnectionLost
}

// StateForPhase maps a poller phase to the persisted state.
func StateForPhase(p poller.Phase) JobState {
	switch p {
	case poller.PhaseIdle:
		return JobStateSubmitted
	case poller.PhasePolling:
		return JobStatePolling
	case poller.PhaseCompleted:
		return JobStateCompleted
	case poller.PhaseFailed:
		return JobStateFailed
	case poller.PhaseTimedOut:
		return JobStateTimedOut
	case poller.PhaseConnectionLost:
		return JobStateConnectionLost
	case poller.PhaseCancelledByBackend:
		return JobStateCancelled
	default:
		return JobStateUnknown
	}
}

// JobRecord is the persistent record written to job.json.
//
// The schema is designed for backward-compatible extension (additive fields).
type JobRecord struct {
	JobID    string   `json:"job_id"`
	Filename string   `json:"filename"`
	FilePath string   `json:"file_path,omitempty"`
	BaseURL  string   `json:"base_url,omitempty"`
	State    JobState `json:"state"`

	// Status and Progress mirror the last fetched backend snapshot.
	Status   poller.Status `json:"status,omitempty"`
	Progress float64       `json:"progress"`
	Error    string        `json:"error,omitempty"`
	Attempts int           `json:"attempts,omitempty"`

	// ResultID is the result store id once the job completed.
	ResultID string `json:"result_id,omitempty"`

	// PID is set while a background watcher owns the job.
	PID int `json:"pid,omitempty"`

	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	StdoutPath    string     `json:"stdout_path,omitempty"`
	StderrPath    string     `json:"stderr_path,omitempty"`
}

// Apply copies a poller state into the record.
func (r *JobRecord) Apply(st poller.State, now time.Time) {
	r.State = StateForPhase(st.Phase)
	if st.Status != "" {
		r.Status = st.Status
	}
	r.Progress = st.Progress
	r.Error = st.Error
	r.Attempts = st.Attempts
	if r.StartedAt == nil && !st.StartedAt.IsZero() {
		started := st.StartedAt.UTC()
		r.StartedAt = &started
	}
	hb := now.UTC()
	r.LastHeartbeat = &hb
	switch {
	case !r.State.Terminal():
		r.EndedAt = nil
	case r.EndedAt == nil:
		ended := now.UTC()
		r.EndedAt = &ended
	}
}
