package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for API operations.
var (
	// ErrAuthExpired indicates the backend rejected the session token (401).
	// The client has already cleared the local session.
	ErrAuthExpired = errors.New("session expired, please log in again")

	// ErrNotFound indicates the requested resource does not exist (404).
	ErrNotFound = errors.New("resource not found")

	// ErrForbidden indicates the user lacks permission or quota (403).
	ErrForbidden = errors.New("forbidden")

	// ErrBadRequest indicates the backend rejected the request (4xx).
	ErrBadRequest = errors.New("request rejected")

	// ErrRateLimited indicates the backend throttled the request (429).
	ErrRateLimited = errors.New("request throttled")

	// ErrServer indicates a backend-side failure (5xx).
	ErrServer = errors.New("server error")

	// ErrInvalidResponse indicates a 2xx response whose body could not be used.
	ErrInvalidResponse = errors.New("invalid response")
)

// TransportError wraps any failure to obtain a usable response: connection
// errors, non-2xx statuses and undecodable bodies.
type TransportError struct {
	// Op is the client operation that failed (e.g., "JobStatus").
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Code is the machine-readable error code from the backend, if any.
	Code string

	// Message is the human-readable message from the backend, if any.
	Message string

	// RequestID is the X-Request-ID sent with the request.
	RequestID string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("api %s: %d %s: %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("api %s: %d %s: %v", e.Op, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	default:
		return fmt.Sprintf("api %s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// UserMessage returns the backend message when present, else the error text.
func (e *TransportError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error()
}

// IsAuthExpired returns true if the backend rejected the session.
func IsAuthExpired(err error) bool {
	return errors.Is(err, ErrAuthExpired)
}

// IsNotFound returns true if the resource does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsServerError returns true for 5xx responses.
func IsServerError(err error) bool {
	return errors.Is(err, ErrServer)
}

// IsTransport returns true if err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// statusError maps a non-2xx HTTP status to a sentinel.
func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrAuthExpired
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code >= 500:
		return ErrServer
	default:
		return ErrBadRequest
	}
}
