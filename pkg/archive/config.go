// Package archive stores check reports in AWS S3 or S3-compatible storage.
package archive

import (
	"net/url"
	"strings"
)

// Config configures an Archiver.
//
// Authentication priority (AWS SDK v2 default chain):
//  1. Explicit AccessKeyID/SecretAccessKey (if provided)
//  2. Environment variables (AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY)
//  3. Shared credentials/config files with Profile
//  4. Instance or task role
//
// For S3-compatible stores (MinIO, Wasabi) set Endpoint and usually
// ForcePathStyle.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// Prefix is prepended to every key. A trailing slash is added when
	// missing.
	Prefix string

	// Region is the AWS region. Defaults to us-east-1 for AWS when neither
	// config nor environment set one; no default with a custom Endpoint.
	Region string

	// Endpoint is a custom endpoint URL for S3-compatible stores.
	Endpoint string

	// Profile is the AWS profile name to use from shared config.
	Profile string

	// AccessKeyID is an explicit access key. If set, SecretAccessKey must also be set.
	AccessKeyID string

	// SecretAccessKey is an explicit secret key. Required if AccessKeyID is set.
	SecretAccessKey string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "archive config: " + e.Field + ": " + e.Message
}

// ParseDestination splits an s3://bucket/prefix URI.
func ParseDestination(uri string) (bucket, prefix string, err error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return "", "", &ConfigError{Field: "Destination", Message: err.Error()}
	}
	if u.Scheme != "s3" {
		return "", "", &ConfigError{Field: "Destination", Message: "expected s3://bucket/prefix, got " + uri}
	}
	if u.Host == "" {
		return "", "", &ConfigError{Field: "Destination", Message: "bucket name is required"}
	}
	return u.Host, normalizePrefix(u.Path), nil
}

// IsDestination reports whether s looks like an s3:// URI.
func IsDestination(s string) bool {
	return strings.HasPrefix(s, "s3://")
}

func normalizePrefix(p string) string {
	p = strings.TrimLeft(p, "/")
	if p != "" && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// resolveRegion applies the fallback region after SDK loading. The SDK has
// already folded in the explicit region, environment and profile.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
