package output

import (
	"context"
	"errors"
	"time"

	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/poller"
	"github.com/3leaps/plagctl/pkg/validate"
)

// ClassifyError maps an error from validation, the API client or the poller
// to an ErrorRecord code.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case validate.IsValidationError(err):
		return ErrCodeValidation
	case api.IsAuthExpired(err):
		return ErrCodeAuth
	case poller.IsTimeout(err):
		return ErrCodeTimeout
	case poller.IsConnectionLost(err):
		return ErrCodeConnectionLost
	case poller.IsBackendFailure(err):
		return ErrCodeBackendFailure
	case poller.IsCancelled(err), errors.Is(err, context.Canceled):
		return ErrCodeCancelled
	case api.IsNotFound(err):
		return ErrCodeNotFound
	case errors.Is(err, api.ErrRateLimited):
		return ErrCodeThrottled
	case errors.Is(err, api.ErrBadRequest), errors.Is(err, api.ErrForbidden):
		return ErrCodeRejected
	case api.IsServerError(err), api.IsTransport(err):
		return ErrCodeBackendUnavailable
	default:
		return ErrCodeInternal
	}
}

// NewErrorRecord builds an ErrorRecord for err.
func NewErrorRecord(err error, file string) *ErrorRecord {
	rec := &ErrorRecord{
		Code:    ClassifyError(err),
		Message: err.Error(),
		File:    file,
	}
	var te *api.TransportError
	if errors.As(err, &te) {
		rec.Message = te.UserMessage()
		if te.StatusCode != 0 {
			rec.Details = map[string]any{"status": te.StatusCode, "request_id": te.RequestID}
		}
	}
	return rec
}

// NewProgressRecord converts a poller state observed at now.
func NewProgressRecord(st poller.State, now time.Time) *ProgressRecord {
	rec := &ProgressRecord{
		Phase:             string(st.Phase),
		Status:            string(st.Status),
		Progress:          st.Progress,
		Attempts:          st.Attempts,
		ConsecutiveErrors: st.ConsecutiveErrors,
	}
	if !st.StartedAt.IsZero() && now.After(st.StartedAt) {
		rec.Elapsed = now.Sub(st.StartedAt)
	}
	return rec
}

// NewResultRecord summarizes a check result.
func NewResultRecord(res *api.CheckResult, resultID string) *ResultRecord {
	rec := &ResultRecord{
		File:              res.Filename,
		ResultID:          resultID,
		OverallSimilarity: res.OverallSimilarity,
		Level:             res.PlagiarismLevel,
		Plagiarized:       res.IsPlagiarized,
		Matches:           len(res.Matches),
	}
	var best float64 = -1
	for _, m := range res.Matches {
		if m.Similarity > best {
			best = m.Similarity
			rec.TopMatch = m.Title
		}
	}
	return rec
}

// NewNotificationRecord converts a poller notification.
func NewNotificationRecord(n poller.Notification) *NotificationRecord {
	return &NotificationRecord{Kind: string(n.Kind), Title: n.Title, Message: n.Message}
}
