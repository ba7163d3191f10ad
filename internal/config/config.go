// Package config loads plagctl configuration from defaults, config files,
// environment variables and runtime overrides.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/3leaps/plagctl/pkg/match"
	"github.com/3leaps/plagctl/pkg/poller"
)

// AppIdentity names the application for paths and environment variables.
type AppIdentity struct {
	BinaryName string
	EnvPrefix  string
	ConfigName string
	Vendor     string
}

// DefaultIdentity is the identity of the plagctl binary.
var DefaultIdentity = AppIdentity{
	BinaryName: "plagctl",
	EnvPrefix:  "PLAGCTL",
	ConfigName: "plagctl",
	Vendor:     "3leaps",
}

// Config is the resolved configuration.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	Poll    PollConfig    `mapstructure:"poll"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Check   CheckConfig   `mapstructure:"check"`
	History HistoryConfig `mapstructure:"history"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
	Server  ServerConfig  `mapstructure:"server"`
	Health  HealthConfig  `mapstructure:"health"`

	// DataDir holds the session, result cache and job registry.
	DataDir string `mapstructure:"data_dir"`

	// ReadOnly refuses commands that delete or change backend state.
	ReadOnly bool `mapstructure:"readonly"`
}

// APIConfig configures the backend client.
type APIConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
}

// PollConfig configures job status polling.
type PollConfig struct {
	Interval             time.Duration `mapstructure:"interval"`
	MaxDuration          time.Duration `mapstructure:"max_duration"`
	MaxConsecutiveErrors int           `mapstructure:"max_consecutive_errors"`
}

// PollerConfig converts to poller.Config.
func (p PollConfig) PollerConfig() poller.Config {
	return poller.Config{
		Interval:             p.Interval,
		MaxDuration:          p.MaxDuration,
		MaxConsecutiveErrors: p.MaxConsecutiveErrors,
	}
}

// ByteSize is a size decoded from strings like "20MiB".
type ByteSize int64

func (b ByteSize) String() string {
	return match.FormatSize(int64(b))
}

// UploadConfig configures client-side upload validation.
type UploadConfig struct {
	MaxSize ByteSize `mapstructure:"max_size"`
}

// CheckConfig configures batch checks.
type CheckConfig struct {
	Concurrency int      `mapstructure:"concurrency"`
	Extensions  []string `mapstructure:"extensions"`
}

// HistoryConfig configures history listing.
type HistoryConfig struct {
	PageSize int `mapstructure:"page_size"`
}

// ArchiveConfig is the default report archive.
type ArchiveConfig struct {
	Destination    string `mapstructure:"destination"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"`
	Profile        string `mapstructure:"profile"`
	ForcePathStyle bool   `mapstructure:"force_path_style"`
}

// LoggingConfig configures the CLI logger.
type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	Profile string `mapstructure:"profile"`
}

// ServerConfig configures `plagctl serve`.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Async           bool          `mapstructure:"async"`
	RequireAuth     bool          `mapstructure:"require_auth"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks cross-field constraints viper cannot express.
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url: expected http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout: must be positive")
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit: must not be negative")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval: must be positive")
	}
	if c.Poll.MaxDuration < c.Poll.Interval {
		return fmt.Errorf("poll.max_duration: must be at least poll.interval (%s)", c.Poll.Interval)
	}
	if c.Poll.MaxConsecutiveErrors < 1 {
		return fmt.Errorf("poll.max_consecutive_errors: must be at least 1")
	}
	if c.Upload.MaxSize < 0 {
		return fmt.Errorf("upload.max_size: must not be negative")
	}
	if c.Check.Concurrency < 1 || c.Check.Concurrency > 8 {
		return fmt.Errorf("check.concurrency: must be between 1 and 8")
	}
	if c.History.PageSize < 1 || c.History.PageSize > 100 {
		return fmt.Errorf("history.page_size: must be between 1 and 100")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: out of range")
	}
	return nil
}
