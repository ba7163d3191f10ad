package poller

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func hasEffect[T Effect](effects []Effect) bool {
	for _, e := range effects {
		if _, ok := e.(T); ok {
			return true
		}
	}
	return false
}

func notifications(effects []Effect) []Notification {
	var out []Notification
	for _, e := range effects {
		if n, ok := e.(NotifyEffect); ok {
			out = append(out, n.Notification)
		}
	}
	return out
}

func started(t *testing.T, cfg Config) State {
	t.Helper()
	s, effects := Transition(cfg, State{}, Started{JobID: "job-1", At: t0})
	require.Empty(t, effects)
	return s
}

func TestTransition_Started(t *testing.T) {
	s := started(t, DefaultConfig())

	assert.Equal(t, "job-1", s.JobID)
	assert.Equal(t, PhasePolling, s.Phase)
	assert.Equal(t, StatusPending, s.Status)
	assert.True(t, s.Active)
	assert.Equal(t, 0, s.ConsecutiveErrors)
	assert.Equal(t, t0, s.StartedAt)
	assert.Zero(t, s.Progress)
	assert.Nil(t, s.Result)
	assert.Empty(t, s.Error)
}

func TestTransition_StartedWithoutJobStaysIdle(t *testing.T) {
	s, effects := Transition(DefaultConfig(), State{}, Started{At: t0})

	assert.Equal(t, PhaseIdle, s.Phase)
	assert.False(t, s.Active)
	assert.True(t, hasEffect[StopEffect](effects))
}

func TestTransition_TickRequestsFetch(t *testing.T) {
	s := started(t, DefaultConfig())

	s, effects := Transition(DefaultConfig(), s, Tick{At: at(0)})

	require.Len(t, effects, 1)
	assert.Equal(t, FetchEffect{JobID: "job-1"}, effects[0])
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, PhasePolling, s.Phase)
}

func TestTransition_DoneCompletes(t *testing.T) {
	cfg := DefaultConfig()
	s := started(t, cfg)
	s, _ = Transition(cfg, s, Tick{At: at(0)})

	result := json.RawMessage(`{"overall_similarity":42}`)
	s, effects := Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{
		JobID: "job-1", Status: StatusDone, Progress: 100, Result: result,
	}})

	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, StatusDone, s.Status)
	assert.JSONEq(t, string(result), string(s.Result))
	assert.False(t, s.Active)
	assert.True(t, hasEffect[StopEffect](effects))
	assert.Empty(t, notifications(effects))
	assert.NoError(t, s.Err())

	// No further fetches after a terminal transition.
	s, effects = Transition(cfg, s, Tick{At: at(2000)})
	assert.Empty(t, effects)
	assert.Equal(t, PhaseCompleted, s.Phase)
}

func TestTransition_BackendFailure(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    string
	}{
		{name: "server message", message: "OCR failed", want: "OCR failed"},
		{name: "generic fallback", message: "", want: ErrorGenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			s := started(t, cfg)
			s, _ = Transition(cfg, s, Tick{At: at(0)})

			s, effects := Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{
				Status: StatusFailed, Progress: 30, Error: tt.message,
			}})

			assert.Equal(t, PhaseFailed, s.Phase)
			assert.Equal(t, tt.want, s.Error)
			assert.False(t, s.Active)
			assert.True(t, hasEffect[StopEffect](effects))

			notes := notifications(effects)
			require.Len(t, notes, 1)
			assert.Equal(t, NotifyBackendFailure, notes[0].Kind)
			assert.Equal(t, tt.want, notes[0].Message)
			assert.True(t, IsBackendFailure(s.Err()))
		})
	}
}

func TestTransition_CancelledByBackend(t *testing.T) {
	cfg := DefaultConfig()
	s := started(t, cfg)
	s, _ = Transition(cfg, s, Tick{At: at(0)})

	s, effects := Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusCancelled}})

	assert.Equal(t, PhaseCancelledByBackend, s.Phase)
	assert.Equal(t, ErrorCancelled, s.Error)
	assert.False(t, s.Active)
	assert.True(t, hasEffect[StopEffect](effects))
	assert.Empty(t, notifications(effects))
	assert.True(t, IsCancelled(s.Err()))
}

func TestTransition_ProgressIsNotAssumedMonotonic(t *testing.T) {
	cfg := DefaultConfig()
	s := started(t, cfg)

	for i, p := range []float64{50, 20, 140, -5} {
		s, _ = Transition(cfg, s, Tick{At: at(i * 2000)})
		s, _ = Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusProcessing, Progress: p}})
	}

	assert.Equal(t, float64(-5), s.Progress)
	assert.Equal(t, PhasePolling, s.Phase)
}

func TestTransition_ProgressStoredAsReported(t *testing.T) {
	cfg := DefaultConfig()

	for _, p := range []float64{120, -3, 42.5} {
		s := started(t, cfg)
		s, _ = Transition(cfg, s, Tick{At: at(0)})
		s, _ = Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusProcessing, Progress: p}})
		assert.Equal(t, p, s.Progress)
	}
}

func TestTransition_DeadlineWinsOverLateFetchResult(t *testing.T) {
	cfg := Config{Interval: 2 * time.Second, MaxDuration: 6 * time.Second, MaxConsecutiveErrors: 3}

	tests := []struct {
		name string
		ev   Event
	}{
		{"success", FetchSucceeded{Snapshot: Snapshot{Status: StatusDone, Progress: 100, Result: []byte(`{"overall_similarity":12}`)}, At: at(9000)}},
		{"failure", FetchFailed{Err: errors.New("dial tcp: refused"), At: at(6000)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := started(t, cfg)
			s, _ = Transition(cfg, s, Tick{At: at(0)})

			s, effects := Transition(cfg, s, tt.ev)

			assert.Equal(t, PhaseTimedOut, s.Phase)
			assert.Equal(t, StatusFailed, s.Status)
			assert.Equal(t, ErrorTimeout, s.Error)
			assert.Nil(t, s.Result)
			assert.True(t, hasEffect[StopEffect](effects))
			notes := notifications(effects)
			require.Len(t, notes, 1)
			assert.Equal(t, NotifyTimeout, notes[0].Kind)
		})
	}
}

func TestTransition_FetchResultBeforeDeadlineApplies(t *testing.T) {
	cfg := Config{Interval: 2 * time.Second, MaxDuration: 6 * time.Second, MaxConsecutiveErrors: 3}
	s := started(t, cfg)
	s, _ = Transition(cfg, s, Tick{At: at(0)})

	s, _ = Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusDone, Progress: 100, Result: []byte(`{"overall_similarity":12}`)}, At: at(5999)})

	assert.Equal(t, PhaseCompleted, s.Phase)
	require.NotNil(t, s.Result)
}

func TestTransition_BusyTickOnlyChecksDeadline(t *testing.T) {
	cfg := Config{Interval: 2 * time.Second, MaxDuration: 6 * time.Second, MaxConsecutiveErrors: 3}
	s := started(t, cfg)
	s, _ = Transition(cfg, s, Tick{At: at(0)})

	s, effects := Transition(cfg, s, Tick{At: at(2000), Busy: true})
	assert.Empty(t, effects)
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, PhasePolling, s.Phase)

	s, effects = Transition(cfg, s, Tick{At: at(6000), Busy: true})
	assert.Equal(t, PhaseTimedOut, s.Phase)
	assert.True(t, hasEffect[StopEffect](effects))
	assert.False(t, hasEffect[FetchEffect](effects))
}

func TestTransition_ErrorsBelowThresholdResetOnSuccess(t *testing.T) {
	cfg := Config{Interval: 2 * time.Second, MaxDuration: time.Minute, MaxConsecutiveErrors: 3}
	s := started(t, cfg)

	s, _ = Transition(cfg, s, Tick{At: at(0)})
	s, effects := Transition(cfg, s, FetchFailed{Err: errors.New("dial tcp: refused")})
	assert.Empty(t, effects)
	s, _ = Transition(cfg, s, Tick{At: at(2000)})
	s, _ = Transition(cfg, s, FetchFailed{Err: errors.New("503")})
	assert.Equal(t, 2, s.ConsecutiveErrors)
	assert.Equal(t, PhasePolling, s.Phase)

	s, _ = Transition(cfg, s, Tick{At: at(4000)})
	s, _ = Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusProcessing, Progress: 10}})
	assert.Equal(t, 0, s.ConsecutiveErrors)
	assert.Nil(t, s.LastFetchErr)
	assert.Equal(t, PhasePolling, s.Phase)
	assert.True(t, s.Active)
}

func TestTransition_ScenarioTimeoutPreemptsFetch(t *testing.T) {
	cfg := Config{Interval: 2000 * time.Millisecond, MaxDuration: 6000 * time.Millisecond, MaxConsecutiveErrors: 3}
	s := started(t, cfg)

	for i, p := range []float64{10, 40, 70} {
		var effects []Effect
		s, effects = Transition(cfg, s, Tick{At: at(i * 2000)})
		require.True(t, hasEffect[FetchEffect](effects), "tick %d should fetch", i)
		s, _ = Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusProcessing, Progress: p}})
		assert.Equal(t, p, s.Progress)
	}

	s, effects := Transition(cfg, s, Tick{At: at(6000)})

	assert.False(t, hasEffect[FetchEffect](effects), "timeout check must pre-empt the fetch")
	assert.True(t, hasEffect[StopEffect](effects))
	assert.Equal(t, PhaseTimedOut, s.Phase)
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, ErrorTimeout, s.Error)
	assert.False(t, s.Active)
	assert.Equal(t, 3, s.Attempts)

	notes := notifications(effects)
	require.Len(t, notes, 1)
	assert.Equal(t, NotifyTimeout, notes[0].Kind)
	assert.True(t, IsTimeout(s.Err()))
}

func TestTransition_ScenarioConnectionLost(t *testing.T) {
	cfg := Config{Interval: 2000 * time.Millisecond, MaxDuration: 60 * time.Second, MaxConsecutiveErrors: 3}
	s := started(t, cfg)
	fetchErr := errors.New("connection reset by peer")

	var effects []Effect
	for i := 0; i < 3; i++ {
		s, effects = Transition(cfg, s, Tick{At: at(i * 2000)})
		require.True(t, hasEffect[FetchEffect](effects))
		s, effects = Transition(cfg, s, FetchFailed{Err: fetchErr})
	}

	assert.Equal(t, PhaseConnectionLost, s.Phase)
	assert.Equal(t, StatusFailed, s.Status)
	assert.Equal(t, ErrorConnectionLost, s.Error)
	assert.False(t, s.Active)
	assert.True(t, hasEffect[StopEffect](effects))
	require.Len(t, notifications(effects), 1)

	err := s.Err()
	assert.True(t, IsConnectionLost(err))
	assert.ErrorIs(t, err, fetchErr)

	// No fetch at t=6000.
	_, effects = Transition(cfg, s, Tick{At: at(6000)})
	assert.Empty(t, effects)
}

func TestTransition_RetryResetsState(t *testing.T) {
	cfg := Config{Interval: time.Second, MaxDuration: 3 * time.Second, MaxConsecutiveErrors: 3}
	s := started(t, cfg)
	s, _ = Transition(cfg, s, Tick{At: at(0)})
	s, _ = Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusProcessing, Progress: 55}})
	s, _ = Transition(cfg, s, Tick{At: at(1000)})
	s, _ = Transition(cfg, s, FetchFailed{Err: errors.New("boom")})
	s, _ = Transition(cfg, s, Tick{At: at(3000)})
	require.Equal(t, PhaseTimedOut, s.Phase)

	s, effects := Transition(cfg, s, RetryRequested{At: at(10000)})

	assert.Empty(t, effects)
	assert.Equal(t, "job-1", s.JobID)
	assert.Equal(t, PhasePolling, s.Phase)
	assert.Equal(t, StatusPending, s.Status)
	assert.Zero(t, s.Progress)
	assert.Empty(t, s.Error)
	assert.Nil(t, s.Result)
	assert.Equal(t, 0, s.ConsecutiveErrors)
	assert.Equal(t, at(10000), s.StartedAt)
	assert.True(t, s.Active)

	// The new budget is measured from the retry.
	_, effects = Transition(cfg, s, Tick{At: at(11000)})
	assert.True(t, hasEffect[FetchEffect](effects))
}

func TestTransition_RetryWithoutJobIsNoop(t *testing.T) {
	s := State{Phase: PhaseIdle, Status: StatusPending}

	next, effects := Transition(DefaultConfig(), s, RetryRequested{At: t0})

	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestTransition_ResultsAfterDisposeAreIgnored(t *testing.T) {
	cfg := DefaultConfig()
	s := started(t, cfg)
	s, _ = Transition(cfg, s, Tick{At: at(0)})

	s, effects := Transition(cfg, s, Disposed{})
	assert.False(t, s.Active)
	assert.Equal(t, PhaseIdle, s.Phase)
	assert.True(t, hasEffect[StopEffect](effects))

	next, effects := Transition(cfg, s, FetchSucceeded{Snapshot: Snapshot{Status: StatusDone, Result: json.RawMessage(`{}`)}})
	assert.Equal(t, s, next)
	assert.Empty(t, effects)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()

	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Minute, cfg.MaxDuration)
	assert.Equal(t, 3, cfg.MaxConsecutiveErrors)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    Status
		wantErr bool
	}{
		{in: "pending", want: StatusPending},
		{in: " Processing ", want: StatusProcessing},
		{in: "DONE", want: StatusDone},
		{in: "failed", want: StatusFailed},
		{in: "cancelled", want: StatusCancelled},
		{in: "queued", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStatus(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
