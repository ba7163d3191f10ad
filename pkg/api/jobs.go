package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	schemasassets "github.com/3leaps/plagctl/internal/assets/schemas"
	"github.com/3leaps/plagctl/pkg/poller"
	"github.com/fulmenhq/gofulmen/schema"
)

// maxStatusBody caps the size of a job status payload (results included).
const maxStatusBody = 8 * 1024 * 1024

var (
	statusValidatorOnce sync.Once
	statusValidator     *schema.Validator
	statusValidatorErr  error
)

// JobStatus fetches GET /jobs/{jobId}/status once.
//
// Connection failures, non-2xx statuses and bodies that fail schema
// validation or decoding are all returned as *TransportError. JobStatus
// satisfies poller.Fetcher.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*poller.Snapshot, error) {
	id, err := pathID(jobID)
	if err != nil {
		return nil, err
	}

	resp, requestID, err := c.do(ctx, request{
		op:     "JobStatus",
		method: http.MethodGet,
		path:   "jobs/" + id + "/status",
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStatusBody))
	if err != nil {
		return nil, &TransportError{Op: "JobStatus", StatusCode: resp.StatusCode, RequestID: requestID, Err: err}
	}

	snap, err := decodeJobStatus(jobID, body)
	if err != nil {
		return nil, &TransportError{
			Op:         "JobStatus",
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Err:        fmt.Errorf("%w: %v", ErrInvalidResponse, err),
		}
	}
	return snap, nil
}

// decodeJobStatus validates and decodes a job status payload.
//
// result is kept only for done; error only for failed.
func decodeJobStatus(jobID string, body []byte) (*poller.Snapshot, error) {
	if err := validateJobStatus(body); err != nil {
		return nil, err
	}

	var wire jobStatusWire
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("decode job status: %w", err)
	}

	status, err := poller.ParseStatus(wire.Status)
	if err != nil {
		return nil, err
	}

	snap := &poller.Snapshot{
		JobID:  wire.JobID,
		Status: status,
	}
	if snap.JobID == "" {
		snap.JobID = jobID
	}
	if wire.Progress != nil {
		snap.Progress = *wire.Progress
	}
	switch status {
	case poller.StatusDone:
		if len(wire.Result) > 0 && string(wire.Result) != "null" {
			snap.Result = wire.Result
		}
	case poller.StatusFailed:
		if wire.Error != nil {
			snap.Error = strings.TrimSpace(*wire.Error)
		}
	}
	return snap, nil
}

// validateJobStatus checks body against the embedded job status schema.
func validateJobStatus(body []byte) error {
	v, err := jobStatusValidator()
	if err != nil {
		return err
	}
	diags, err := v.ValidateJSON(body)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	var problems []string
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			if d.Pointer != "" {
				problems = append(problems, d.Pointer+": "+d.Message)
			} else {
				problems = append(problems, d.Message)
			}
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("job status does not match schema: %s", strings.Join(problems, "; "))
	}
	return nil
}

func jobStatusValidator() (*schema.Validator, error) {
	statusValidatorOnce.Do(func() {
		if len(schemasassets.JobStatusSchema) == 0 {
			statusValidatorErr = fmt.Errorf("embedded job-status schema is empty")
			return
		}
		statusValidator, statusValidatorErr = schema.NewValidator(schemasassets.JobStatusSchema)
		if statusValidatorErr != nil {
			statusValidatorErr = fmt.Errorf("failed to compile job-status schema: %w", statusValidatorErr)
		}
	})
	return statusValidator, statusValidatorErr
}

// CancelJob asks the backend to cancel a pending or processing job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	id, err := pathID(jobID)
	if err != nil {
		return err
	}
	return c.sendJSON(ctx, "CancelJob", http.MethodPost, "check/"+id+"/cancel", nil, nil, nil)
}

// RetryJob asks the backend to re-queue a failed job. The returned accept
// carries the job id to poll, which may differ from jobID.
func (c *Client) RetryJob(ctx context.Context, jobID string) (*JobAccepted, error) {
	id, err := pathID(jobID)
	if err != nil {
		return nil, err
	}
	var out JobAccepted
	if err := c.sendJSON(ctx, "RetryJob", http.MethodPost, "check/"+id+"/retry", nil, nil, &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

var _ poller.Fetcher = (*Client)(nil)
