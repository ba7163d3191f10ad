// Package api is the HTTP client for the plagiarism-check backend.
//
// Every operation returns either a decoded value or an error; failures to get
// a usable response are reported as *TransportError. The client never
// retries. A 401 from any endpoint clears the session and yields an error
// matching ErrAuthExpired.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/plagctl/pkg/session"
)

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8000/api/v1"

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 * 1024

// Config configures a Client.
type Config struct {
	// BaseURL is the API root including the version prefix.
	// Default: http://localhost:8000/api/v1
	BaseURL string

	// Timeout bounds each request.
	// Default: 30s
	Timeout time.Duration

	// RateLimit is the maximum requests per second (0 = unlimited).
	RateLimit float64

	// UserAgent is sent with every request.
	UserAgent string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Client talks to the backend REST API.
//
// Client is safe for concurrent use.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	session   *session.Store
	limiter   *rate.Limiter
	logger    *zap.Logger
	userAgent string
}

// New creates a client. store may be nil for unauthenticated use.
func New(cfg Config, store *session.Store, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base url %q: scheme must be http or https", raw)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	if store == nil {
		store = session.NewMemoryStore(session.Session{})
	}

	c := &Client{
		baseURL:   base,
		http:      &http.Client{Timeout: timeout},
		session:   store,
		logger:    zap.NewNop(),
		userAgent: cfg.UserAgent,
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Session returns the session store used for authentication.
func (c *Client) Session() *session.Store {
	return c.session
}

// request describes one API call.
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	accept      string
}

// do sends r and returns a 2xx response. The caller must close the body.
func (c *Client) do(ctx context.Context, r request) (*http.Response, string, error) {
	requestID := uuid.NewString()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, requestID, &TransportError{Op: r.op, RequestID: requestID, Err: err}
		}
	}

	u := c.baseURL.JoinPath(r.path)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), r.body)
	if err != nil {
		return nil, requestID, &TransportError{Op: r.op, RequestID: requestID, Err: err}
	}
	accept := r.accept
	if accept == "" {
		accept = "application/json"
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Request-ID", requestID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token, err := c.session.Token(); err == nil {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("API request failed",
			zap.String("op", r.op),
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return nil, requestID, &TransportError{Op: r.op, RequestID: requestID, Err: err}
	}

	c.logger.Debug("API request",
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.String("request_id", requestID))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, requestID, nil
	}

	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	code, msg := parseErrorBody(body)

	if resp.StatusCode == http.StatusUnauthorized {
		if err := c.session.Clear(); err != nil {
			c.logger.Warn("Failed to clear session after 401", zap.Error(err))
		}
	}

	return nil, requestID, &TransportError{
		Op:         r.op,
		StatusCode: resp.StatusCode,
		Code:       code,
		Message:    msg,
		RequestID:  requestID,
		Err:        statusError(resp.StatusCode),
	}
}

// getJSON issues a GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, op, path string, query url.Values, out any) error {
	return c.sendJSON(ctx, op, http.MethodGet, path, query, nil, out)
}

// sendJSON issues a request with an optional JSON body and decodes the JSON
// response into out (when out is non-nil).
func (c *Client) sendJSON(ctx context.Context, op, method, path string, query url.Values, in, out any) error {
	r := request{op: op, method: method, path: path, query: query}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		r.body = bytes.NewReader(b)
		r.contentType = "application/json"
	}

	resp, requestID, err := c.do(ctx, r)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &TransportError{
			Op:         op,
			StatusCode: resp.StatusCode,
			RequestID:  requestID,
			Err:        fmt.Errorf("%w: decode body: %v", ErrInvalidResponse, err),
		}
	}
	return nil
}

// parseErrorBody extracts a code and message from an error response body.
func parseErrorBody(body []byte) (code, message string) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", ""
	}

	var eb errorBody
	if err := json.Unmarshal(trimmed, &eb); err != nil {
		return "", strings.TrimSpace(string(trimmed))
	}
	if eb.Error != nil {
		return eb.Error.Code, eb.Error.Message
	}
	if len(eb.Detail) == 0 {
		return "", ""
	}

	var text string
	if err := json.Unmarshal(eb.Detail, &text); err == nil {
		return "", text
	}
	var detail errorDetail
	if err := json.Unmarshal(eb.Detail, &detail); err == nil && (detail.Code != "" || detail.Message != "") {
		return detail.Code, detail.Message
	}
	// Request validation errors: [{"loc": [...], "msg": "..."}]
	var list []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(eb.Detail, &list); err == nil && len(list) > 0 {
		return "", list[0].Msg
	}
	return "", string(eb.Detail)
}

// pathID escapes an identifier used as a path segment.
func pathID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New("id is required")
	}
	return url.PathEscape(id), nil
}
