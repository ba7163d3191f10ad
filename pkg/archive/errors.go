package archive

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// Sentinel errors for archive operations.
var (
	// ErrNotFound indicates the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrAccessDenied indicates insufficient permissions.
	ErrAccessDenied = errors.New("access denied")

	// ErrBucketNotFound indicates the bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrInvalidCredentials indicates authentication failed.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnavailable indicates the storage service is unavailable.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrThrottled indicates the request was rate limited.
	ErrThrottled = errors.New("request throttled")
)

// Error wraps storage errors with context.
type Error struct {
	// Op is the operation that failed (e.g., "Put", "Get").
	Op string

	Bucket string
	Key    string

	// Err is a sentinel when the failure was classified, else the SDK error.
	Err error

	// Cause is the original SDK error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	detail := e.Err.Error()
	if e.Cause != nil && e.Cause != e.Err {
		detail += ": " + e.Cause.Error()
	}
	if e.Key != "" {
		return fmt.Sprintf("s3 %s: %s/%s: %s", e.Op, e.Bucket, e.Key, detail)
	}
	return fmt.Sprintf("s3 %s: %s: %s", e.Op, e.Bucket, detail)
}

// Unwrap returns the classified error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound returns true if the error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAccessDenied returns true if the error indicates insufficient permissions.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsInvalidCredentials returns true if the error indicates authentication failed.
func IsInvalidCredentials(err error) bool {
	return errors.Is(err, ErrInvalidCredentials)
}

func wrapError(op, bucket, key string, err error) error {
	return &Error{Op: op, Bucket: bucket, Key: key, Err: classify(err), Cause: err}
}

// classify maps S3 SDK errors to sentinels. Unrecognized errors are
// returned unchanged.
func classify(err error) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey):
		return ErrNotFound
	case errors.As(err, &noSuchBucket):
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return ErrNotFound
		case "NoSuchBucket":
			return ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			return ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			return ErrThrottled
		case "ServiceUnavailable", "InternalError":
			return ErrUnavailable
		}
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "NoSuchBucket"):
		return ErrBucketNotFound
	case strings.Contains(msg, "NoSuchKey"), strings.Contains(msg, "StatusCode: 404"):
		return ErrNotFound
	case strings.Contains(msg, "AccessDenied"), strings.Contains(msg, "StatusCode: 403"):
		return ErrAccessDenied
	case strings.Contains(msg, "StatusCode: 503"):
		return ErrUnavailable
	}
	return err
}
