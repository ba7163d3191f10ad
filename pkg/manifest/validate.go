package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fulmenhq/gofulmen/schema"

	schemasassets "github.com/3leaps/plagctl/internal/assets/schemas"
)

// SchemaID is the schema identifier for check manifests.
const SchemaID = "plagctl/v1.0.0/check-manifest"

// Validation errors
var (
	// ErrSchemaNotFound indicates the schema file could not be located.
	ErrSchemaNotFound = errors.New("manifest schema not found")

	// ErrValidationFailed indicates the manifest failed schema validation.
	ErrValidationFailed = errors.New("manifest validation failed")
)

var (
	validatorOnce sync.Once
	validator     *schema.Validator
	validatorErr  error
)

// ValidationError represents a single validation issue.
type ValidationError struct {
	// Path is the JSON pointer to the problematic field (e.g., "/files/includes").
	Path string

	// Message describes the validation failure.
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var b strings.Builder
	b.WriteString("manifest validation failed with ")
	b.WriteString(fmt.Sprintf("%d errors:\n", len(e)))
	for i, err := range e {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("  - ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error type.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks a manifest built in code against the JSON schema and the
// batch rules. Use ValidateRaw on input documents so unknown fields are
// caught.
func Validate(m *Manifest) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to serialize manifest for validation: %w", err)
	}

	if err := ValidateRaw(data); err != nil {
		return err
	}
	return checkRules(m)
}

// checkRules enforces constraints the schema cannot express: glob syntax,
// poll cadence against the deadline, and the export file type.
func checkRules(m *Manifest) error {
	var errs ValidationErrors

	for i, p := range m.Files.Includes {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			errs = append(errs, ValidationError{
				Path:    "/files/includes/" + strconv.Itoa(i),
				Message: fmt.Sprintf("invalid glob pattern %q", p),
			})
		}
	}
	for i, p := range m.Files.Excludes {
		if !doublestar.ValidatePattern(filepath.ToSlash(p)) {
			errs = append(errs, ValidationError{
				Path:    "/files/excludes/" + strconv.Itoa(i),
				Message: fmt.Sprintf("invalid glob pattern %q", p),
			})
		}
	}

	if m.Poll.Interval != "" && m.Poll.MaxDuration != "" {
		interval, ierr := time.ParseDuration(m.Poll.Interval)
		maxDuration, merr := time.ParseDuration(m.Poll.MaxDuration)
		if ierr == nil && merr == nil && interval >= maxDuration {
			errs = append(errs, ValidationError{
				Path:    "/poll/interval",
				Message: fmt.Sprintf("interval %s must be shorter than max_duration %s", interval, maxDuration),
			})
		}
	}

	if m.Output.Export != "" {
		switch strings.ToLower(filepath.Ext(m.Output.Export)) {
		case ".xlsx", ".csv":
		default:
			errs = append(errs, ValidationError{
				Path:    "/output/export",
				Message: fmt.Sprintf("export file %q must end in .xlsx or .csv", m.Output.Export),
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errs
}

// ValidateRaw checks raw JSON data against the embedded check manifest
// schema. It returns ValidationErrors listing every error-level diagnostic.
func ValidateRaw(jsonData []byte) error {
	v, err := getValidator()
	if err != nil {
		return err
	}

	diags, err := v.ValidateJSON(jsonData)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if len(diags) == 0 {
		return nil
	}

	var errs ValidationErrors
	for _, d := range diags {
		if d.Severity == schema.SeverityError {
			errs = append(errs, ValidationError{
				Path:    d.Pointer,
				Message: d.Message,
			})
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return errs
}

func getValidator() (*schema.Validator, error) {
	validatorOnce.Do(func() {
		if len(schemasassets.CheckManifestSchema) == 0 {
			validatorErr = fmt.Errorf("%w: embedded check-manifest schema is empty", ErrSchemaNotFound)
			return
		}
		validator, validatorErr = schema.NewValidator(schemasassets.CheckManifestSchema)
		if validatorErr != nil {
			validatorErr = fmt.Errorf("failed to compile manifest schema: %w", validatorErr)
		}
	})
	return validator, validatorErr
}
