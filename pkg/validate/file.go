// Package validate checks candidate upload files before any network call.
package validate

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// MaxFileSize is the largest accepted upload (20 MiB).
const MaxFileSize int64 = 20 * 1024 * 1024

// AllowedExtensions lists the accepted file extensions, lowercase with the
// leading dot, in display order.
var AllowedExtensions = []string{".pdf", ".docx", ".txt", ".tex"}

// Reason identifies which rule rejected a file.
type Reason string

const (
	ReasonMissing     Reason = "missing"
	ReasonUnsupported Reason = "unsupported_format"
	ReasonTooLarge    Reason = "too_large"
	ReasonEmpty       Reason = "empty"
)

// ValidationError reports a rejected file. Message is the user-facing text.
type ValidationError struct {
	Name    string
	Reason  Reason
	Message string
}

func (e *ValidationError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// IsValidationError returns true if err is a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Options overrides validation limits. Zero values use the defaults.
type Options struct {
	MaxSize int64
}

func (o Options) maxSize() int64 {
	if o.MaxSize > 0 {
		return o.MaxSize
	}
	return MaxFileSize
}

// File validates a file by name and byte size.
//
// Rules are applied in order and the first failure wins: presence, extension,
// size limit, non-empty.
func File(name string, size int64) error {
	return FileWithOptions(name, size, Options{})
}

// FileWithOptions is File with explicit limits.
func FileWithOptions(name string, size int64, opts Options) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Reason: ReasonMissing, Message: "Vui lòng chọn file"}
	}

	if !allowedExtension(Extension(name)) {
		return &ValidationError{
			Name:    name,
			Reason:  ReasonUnsupported,
			Message: "Định dạng không hỗ trợ. Chỉ chấp nhận: " + strings.Join(AllowedExtensions, ", "),
		}
	}

	limit := opts.maxSize()
	if size > limit {
		return &ValidationError{
			Name:   name,
			Reason: ReasonTooLarge,
			Message: fmt.Sprintf("File quá lớn (%.1fMB). Tối đa %sMB",
				float64(size)/(1024*1024), megabytes(limit)),
		}
	}

	if size == 0 {
		return &ValidationError{Name: name, Reason: ReasonEmpty, Message: "File rỗng"}
	}

	return nil
}

// megabytes formats n bytes in MiB with at most one decimal, dropping a
// trailing ".0".
func megabytes(n int64) string {
	mb := math.Round(float64(n)/(1024*1024)*10) / 10
	return strconv.FormatFloat(mb, 'f', -1, 64)
}

// Path stats a local file and validates it.
func Path(path string) error {
	return PathWithOptions(path, Options{})
}

// PathWithOptions is Path with explicit limits.
func PathWithOptions(path string, opts Options) error {
	if strings.TrimSpace(path) == "" {
		return FileWithOptions("", 0, opts)
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ValidationError{Name: path, Reason: ReasonMissing, Message: "Vui lòng chọn file"}
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return &ValidationError{Name: path, Reason: ReasonMissing, Message: "Vui lòng chọn file"}
	}
	return FileWithOptions(filepath.Base(path), info.Size(), opts)
}

// Extension returns the lowercase extension of name including the dot, taken
// from the text after the last ".". Names without a dot return "".
func Extension(name string) string {
	base := filepath.Base(name)
	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return ""
	}
	return strings.ToLower(base[idx:])
}

func allowedExtension(ext string) bool {
	for _, a := range AllowedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}
