package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plagctl/internal/config"
)

func TestSetVersionInfo(t *testing.T) {
	// Save original values
	origVersion := versionInfo.Version
	origCommit := versionInfo.Commit
	origBuildDate := versionInfo.BuildDate
	defer func() {
		versionInfo.Version = origVersion
		versionInfo.Commit = origCommit
		versionInfo.BuildDate = origBuildDate
	}()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestGetAppIdentity(t *testing.T) {
	t.Run("returns nil before init", func(t *testing.T) {
		// Save and restore
		orig := appIdentity
		appIdentity = nil
		defer func() { appIdentity = orig }()

		result := GetAppIdentity()
		assert.Nil(t, result)
	})

	t.Run("returns identity after set", func(t *testing.T) {
		// If appIdentity is already set from other tests, verify it returns
		if appIdentity != nil {
			result := GetAppIdentity()
			assert.NotNil(t, result)
			assert.Equal(t, appIdentity, result)
		}
	})
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)

	// Verify client defaults
	assert.Equal(t, "http://localhost:8000/api/v1", v.GetString("api.base_url"))
	assert.Equal(t, "2s", v.GetString("poll.interval"))
	assert.Equal(t, "5m", v.GetString("poll.max_duration"))
	assert.Equal(t, 3, v.GetInt("poll.max_consecutive_errors"))

	// Verify server defaults
	assert.Equal(t, "localhost", v.GetString("server.host"))
	assert.Equal(t, 8000, v.GetInt("server.port"))
	assert.Equal(t, "30s", v.GetString("server.read_timeout"))
	assert.Equal(t, "30s", v.GetString("server.write_timeout"))
	assert.Equal(t, "120s", v.GetString("server.idle_timeout"))
	assert.Equal(t, "10s", v.GetString("server.shutdown_timeout"))

	// Verify logging defaults
	assert.Equal(t, "info", v.GetString("logging.level"))
	assert.Equal(t, "structured", v.GetString("logging.profile"))

	// Verify health defaults
	assert.True(t, v.GetBool("health.enabled"))
}

func TestFlagOverrides(t *testing.T) {
	newCmd := func() *cobra.Command {
		c := &cobra.Command{Use: "test"}
		c.Flags().StringVar(&flagAPIURL, "api-url", "", "")
		c.Flags().StringVar(&flagDataDir, "data-dir", "", "")
		c.Flags().StringVar(&flagLogLevel, "log-level", "", "")
		return c
	}

	tests := []struct {
		name string
		args []string
		want map[string]any
	}{
		{
			name: "no flags",
			args: nil,
			want: map[string]any{},
		},
		{
			name: "api url is trimmed",
			args: []string{"--api-url", " http://example.test/api/v1 "},
			want: map[string]any{"api": map[string]any{"base_url": "http://example.test/api/v1"}},
		},
		{
			name: "data dir and log level",
			args: []string{"--data-dir", "/tmp/plag", "--log-level", "debug"},
			want: map[string]any{
				"data_dir": "/tmp/plag",
				"logging":  map[string]any{"level": "debug"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCmd()
			require.NoError(t, c.ParseFlags(tt.args))
			assert.Equal(t, tt.want, flagOverrides(c))
		})
	}
}
