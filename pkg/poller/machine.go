package poller

import "time"

// Event is an input to Transition.
type Event interface {
	isEvent()
}

// Started begins polling a job.
type Started struct {
	JobID string
	At    time.Time
}

// Tick is one firing of the fixed-interval scheduler.
//
// Busy marks a tick that fired while a fetch is still in flight. A busy tick
// only checks the deadline and never requests a fetch.
type Tick struct {
	At   time.Time
	Busy bool
}

// FetchSucceeded delivers a fetched snapshot. At is the time the fetch
// returned; a zero At skips the deadline check.
type FetchSucceeded struct {
	Snapshot Snapshot
	At       time.Time
}

// FetchFailed delivers a transport failure. At is the time the fetch
// returned; a zero At skips the deadline check.
type FetchFailed struct {
	Err error
	At  time.Time
}

// RetryRequested re-arms polling for the current job.
type RetryRequested struct {
	At time.Time
}

// Disposed detaches the state from its job.
type Disposed struct{}

func (Started) isEvent()        {}
func (Tick) isEvent()           {}
func (FetchSucceeded) isEvent() {}
func (FetchFailed) isEvent()    {}
func (RetryRequested) isEvent() {}
func (Disposed) isEvent()       {}

// Effect is work the runtime must perform after a transition.
type Effect interface {
	isEffect()
}

// FetchEffect asks the runtime to fetch the job status once.
type FetchEffect struct {
	JobID string
}

// StopEffect asks the runtime to stop the ticking loop.
type StopEffect struct{}

// NotifyEffect asks the runtime to emit a user-visible notification.
type NotifyEffect struct {
	Notification Notification
}

func (FetchEffect) isEffect()  {}
func (StopEffect) isEffect()   {}
func (NotifyEffect) isEffect() {}

// Transition computes the next state for event ev.
//
// Transition is pure: it never reads the clock and never performs I/O.
// Events that do not apply to the current phase (for example a fetch result
// arriving after a terminal transition) leave the state unchanged.
func Transition(cfg Config, s State, ev Event) (State, []Effect) {
	cfg = cfg.withDefaults()

	switch e := ev.(type) {
	case Started:
		if e.JobID == "" {
			return State{Phase: PhaseIdle, Status: StatusPending}, []Effect{StopEffect{}}
		}
		return polling(e.JobID, e.At), nil

	case RetryRequested:
		if s.JobID == "" {
			return s, nil
		}
		return polling(s.JobID, e.At), nil

	case Tick:
		if s.Phase != PhasePolling || !s.Active {
			return s, nil
		}
		if expired(cfg, s, e.At) {
			return timedOut(s)
		}
		if e.Busy {
			return s, nil
		}
		s.Attempts++
		return s, []Effect{FetchEffect{JobID: s.JobID}}

	case FetchSucceeded:
		if s.Phase != PhasePolling || !s.Active {
			return s, nil
		}
		if expired(cfg, s, e.At) {
			return timedOut(s)
		}
		snap := e.Snapshot
		s.ConsecutiveErrors = 0
		s.LastFetchErr = nil
		s.Status = snap.Status
		s.Progress = snap.Progress

		switch snap.Status {
		case StatusDone:
			s.Result = snap.Result
			s.Phase = PhaseCompleted
			s.Active = false
			return s, []Effect{StopEffect{}}
		case StatusFailed:
			msg := snap.Error
			if msg == "" {
				msg = ErrorGenericFailure
			}
			s.Error = msg
			s.Phase = PhaseFailed
			s.Active = false
			return s, []Effect{
				StopEffect{},
				NotifyEffect{Notification: Notification{
					Kind:    NotifyBackendFailure,
					JobID:   s.JobID,
					Title:   "Lỗi xử lý",
					Message: msg,
				}},
			}
		case StatusCancelled:
			s.Error = ErrorCancelled
			s.Phase = PhaseCancelledByBackend
			s.Active = false
			return s, []Effect{StopEffect{}}
		default:
			return s, nil
		}

	case FetchFailed:
		if s.Phase != PhasePolling || !s.Active {
			return s, nil
		}
		if expired(cfg, s, e.At) {
			s.LastFetchErr = e.Err
			return timedOut(s)
		}
		s.ConsecutiveErrors++
		s.LastFetchErr = e.Err
		if s.ConsecutiveErrors >= cfg.MaxConsecutiveErrors {
			s.Status = StatusFailed
			s.Error = ErrorConnectionLost
			s.Phase = PhaseConnectionLost
			s.Active = false
			return s, []Effect{
				StopEffect{},
				NotifyEffect{Notification: Notification{
					Kind:    NotifyConnectionLost,
					JobID:   s.JobID,
					Title:   "Lỗi kết nối",
					Message: "Không thể kết nối với server",
				}},
			}
		}
		return s, nil

	case Disposed:
		s.Active = false
		if !s.Phase.Terminal() {
			s.Phase = PhaseIdle
		}
		return s, []Effect{StopEffect{}}
	}

	return s, nil
}

func polling(jobID string, at time.Time) State {
	return State{
		JobID:     jobID,
		Phase:     PhasePolling,
		Status:    StatusPending,
		Active:    true,
		StartedAt: at,
	}
}

// expired reports whether the polling budget is spent at the given time.
// The deadline wins over any fetch outcome observed after it.
func expired(cfg Config, s State, now time.Time) bool {
	return !now.IsZero() && now.Sub(s.StartedAt) >= cfg.MaxDuration
}

func timedOut(s State) (State, []Effect) {
	s.Status = StatusFailed
	s.Error = ErrorTimeout
	s.Phase = PhaseTimedOut
	s.Active = false
	return s, []Effect{
		StopEffect{},
		NotifyEffect{Notification: Notification{
			Kind:    NotifyTimeout,
			JobID:   s.JobID,
			Title:   "Timeout",
			Message: "Quá thời gian chờ xử lý",
		}},
	}
}
