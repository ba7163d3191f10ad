package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/3leaps/plagctl/pkg/validate"
)

// Check uploads a local file to POST /plagiarism/check.
//
// The file is validated before any network call; validation failures are
// returned as *validate.ValidationError. The backend either answers with a
// full result or accepts the check for asynchronous processing, in which case
// CheckResponse.Job carries the job id to poll.
func (c *Client) Check(ctx context.Context, path string, opts validate.Options) (*CheckResponse, error) {
	if err := validate.PathWithOptions(path, opts); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return c.CheckReader(ctx, filepath.Base(path), f)
}

// CheckReader uploads content read from r under the given file name. The
// caller is responsible for validation.
func (c *Client) CheckReader(ctx context.Context, name string, r io.Reader) (*CheckResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	resp, requestID, err := c.do(ctx, request{
		op:          "Check",
		method:      http.MethodPost,
		path:        "plagiarism/check",
		body:        &buf,
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: "Check", StatusCode: resp.StatusCode, RequestID: requestID, Err: err}
	}

	out, err := decodeCheckResponse(resp.StatusCode, body)
	if err != nil {
		return nil, &TransportError{
			Op:         "Check",
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Err:        fmt.Errorf("%w: %v", ErrInvalidResponse, err),
		}
	}
	return out, nil
}

// decodeCheckResponse distinguishes a synchronous result from an
// asynchronous accept. A 202, or a body with a job_id and no similarity, is
// an accept.
func decodeCheckResponse(status int, body []byte) (*CheckResponse, error) {
	var probe struct {
		JobID             string   `json:"job_id"`
		OverallSimilarity *float64 `json:"overall_similarity"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}

	if status == http.StatusAccepted || (probe.JobID != "" && probe.OverallSimilarity == nil) {
		var job JobAccepted
		if err := json.Unmarshal(body, &job); err != nil {
			return nil, err
		}
		if job.JobID == "" {
			return nil, fmt.Errorf("accepted response without job_id")
		}
		return &CheckResponse{Job: &job}, nil
	}

	result, err := DecodeCheckResult(body)
	if err != nil {
		return nil, err
	}
	return &CheckResponse{Result: result}, nil
}

// DecodeCheckResult decodes a result payload, as returned synchronously or
// embedded in a done job status.
func DecodeCheckResult(raw []byte) (*CheckResult, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, fmt.Errorf("empty check result")
	}
	var result CheckResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode check result: %w", err)
	}
	if result.Matches == nil {
		result.Matches = []SourceMatch{}
	}
	return &result, nil
}
