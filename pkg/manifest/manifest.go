// Package manifest provides loading and validation of plagctl batch check
// manifests.
//
// A check manifest is a YAML or JSON file that selects local documents to
// submit, and configures polling, output and optional archiving of the
// results to S3.
//
// Manifests are validated against a JSON Schema to ensure correctness before
// execution. The schema enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	name: k65-theses
//	files:
//	  root: ./submissions
//	  includes:
//	    - "**/*.pdf"
//	    - "**/*.docx"
//	  excludes:
//	    - "**/drafts/**"
//	check:
//	  concurrency: 2
//	poll:
//	  interval: 2s
//	  max_duration: 5m
//	output:
//	  format: jsonl
//	  fail_on: high
//	archive:
//	  destination: s3://thesis-reports/k65/
//	  region: ap-southeast-1
package manifest

import (
	"fmt"
	"time"

	"github.com/3leaps/plagctl/pkg/poller"
	"github.com/3leaps/plagctl/pkg/similarity"
)

// Manifest represents a validated batch check manifest.
//
// Required fields are Version and Files. Everything else is optional with
// defaults applied during loading.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Name labels the batch in output and archive keys. Optional.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Files selects the documents to check.
	Files FilesConfig `json:"files" yaml:"files"`

	// Check configures submission behavior (optional).
	Check CheckConfig `json:"check,omitempty" yaml:"check,omitempty"`

	// Poll overrides the polling configuration for async jobs (optional).
	Poll PollConfig `json:"poll,omitempty" yaml:"poll,omitempty"`

	// Output configures rendering and export (optional).
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`

	// Archive uploads reports to object storage after the batch (optional).
	Archive *ArchiveConfig `json:"archive,omitempty" yaml:"archive,omitempty"`
}

// FilesConfig selects local files by glob patterns.
type FilesConfig struct {
	// Root is the directory patterns are evaluated against. Relative roots
	// resolve against the manifest's directory. Default: ".".
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// Includes is a list of glob patterns for files to check.
	// At least one pattern is required.
	Includes []string `json:"includes" yaml:"includes"`

	// Excludes is a list of glob patterns for files to skip. Optional.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// IncludeHidden includes hidden files (starting with .). Default: false.
	IncludeHidden bool `json:"include_hidden,omitempty" yaml:"include_hidden,omitempty"`
}

// CheckConfig configures how files are submitted.
type CheckConfig struct {
	// Concurrency is the number of files checked at once.
	// Range: 1-8. Default: 1.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`

	// Detach records async jobs and hands them to background watchers
	// instead of polling in the foreground.
	Detach bool `json:"detach,omitempty" yaml:"detach,omitempty"`
}

// PollConfig overrides polling cadence and thresholds.
//
// Durations use Go syntax restricted by the schema ("500ms", "2s", "5m").
type PollConfig struct {
	Interval             string `json:"interval,omitempty" yaml:"interval,omitempty"`
	MaxDuration          string `json:"max_duration,omitempty" yaml:"max_duration,omitempty"`
	MaxConsecutiveErrors int    `json:"max_consecutive_errors,omitempty" yaml:"max_consecutive_errors,omitempty"`
}

// OutputConfig configures rendering and export.
type OutputConfig struct {
	// Format is one of text, json, yaml, jsonl. Default: text.
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Export writes the batch results to an .xlsx or .csv file. Optional.
	Export string `json:"export,omitempty" yaml:"export,omitempty"`

	// FailOn makes the batch fail when any result reaches this level.
	// Values: none, low, medium, high. Default: none.
	FailOn string `json:"fail_on,omitempty" yaml:"fail_on,omitempty"`
}

// ArchiveConfig configures uploading reports to S3 or an S3-compatible
// store.
type ArchiveConfig struct {
	// Destination is an s3://bucket/prefix URI.
	Destination string `json:"destination" yaml:"destination"`

	// Region is the AWS region (e.g., "ap-southeast-1"). Optional.
	Region string `json:"region,omitempty" yaml:"region,omitempty"`

	// Endpoint is a custom endpoint URL for S3-compatible storage. Optional.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// Profile is the AWS credential profile name. Optional.
	Profile string `json:"profile,omitempty" yaml:"profile,omitempty"`
}

// Default values for optional configuration fields.
const (
	// DefaultVersion is the current manifest schema version.
	DefaultVersion = "1.0"

	// DefaultRoot is the default file selection root.
	DefaultRoot = "."

	// DefaultConcurrency is the default number of files checked at once.
	DefaultConcurrency = 1

	// DefaultFormat is the default output format.
	DefaultFormat = "text"

	// DefaultFailOn disables the level gate.
	DefaultFailOn = "none"
)

// ApplyDefaults fills in default values for optional fields.
//
// This should be called after loading and validating the manifest to ensure
// all optional fields have sensible values.
func (m *Manifest) ApplyDefaults() {
	if m.Files.Root == "" {
		m.Files.Root = DefaultRoot
	}
	if m.Check.Concurrency == 0 {
		m.Check.Concurrency = DefaultConcurrency
	}
	if m.Output.Format == "" {
		m.Output.Format = DefaultFormat
	}
	if m.Output.FailOn == "" {
		m.Output.FailOn = DefaultFailOn
	}
}

// PollerConfig overlays the manifest poll settings on base.
func (p PollConfig) PollerConfig(base poller.Config) (poller.Config, error) {
	cfg := base
	if p.Interval != "" {
		d, err := time.ParseDuration(p.Interval)
		if err != nil {
			return cfg, fmt.Errorf("poll.interval: %w", err)
		}
		cfg.Interval = d
	}
	if p.MaxDuration != "" {
		d, err := time.ParseDuration(p.MaxDuration)
		if err != nil {
			return cfg, fmt.Errorf("poll.max_duration: %w", err)
		}
		cfg.MaxDuration = d
	}
	if p.MaxConsecutiveErrors > 0 {
		cfg.MaxConsecutiveErrors = p.MaxConsecutiveErrors
	}
	return cfg, nil
}

// FailLevel returns the level gate, or "" when the gate is disabled.
func (o OutputConfig) FailLevel() similarity.Level {
	if o.FailOn == "" || o.FailOn == DefaultFailOn {
		return ""
	}
	return similarity.Level(o.FailOn)
}
