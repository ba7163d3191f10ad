package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findRepoRootForTest(t *testing.T) string {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	dir := cwd
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	t.Fatalf("could not locate repo root containing go.mod from %s", cwd)
	return ""
}

// isolate points user config lookups at an empty directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	return home
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("CIBoundaryHint", func(t *testing.T) {
		repoRoot := findRepoRootForTest(t)
		isolate(t)
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", repoRoot)

		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
	})

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "http://localhost:8000/api/v1", cfg.API.BaseURL)
		assert.Equal(t, 30*time.Second, cfg.API.Timeout)
		assert.Equal(t, 5.0, cfg.API.RateLimit)

		assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
		assert.Equal(t, 5*time.Minute, cfg.Poll.MaxDuration)
		assert.Equal(t, 3, cfg.Poll.MaxConsecutiveErrors)

		assert.Equal(t, ByteSize(20*1024*1024), cfg.Upload.MaxSize)
		assert.Equal(t, 1, cfg.Check.Concurrency)
		assert.Equal(t, []string{".pdf", ".docx", ".txt", ".tex"}, cfg.Check.Extensions)
		assert.Equal(t, 10, cfg.History.PageSize)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 30*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.True(t, cfg.Health.Enabled)
		assert.NotEmpty(t, cfg.DataDir)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
			"api": map[string]any{
				"base_url": "https://plag.example.edu/api/v1",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "https://plag.example.edu/api/v1", cfg.API.BaseURL)

		assert.Equal(t, "structured", cfg.Logging.Profile)
		assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("PLAGCTL_PORT", "3000")
		t.Setenv("PLAGCTL_LOG_LEVEL", "warn")
		t.Setenv("PLAGCTL_HEALTH_ENABLED", "false")
		t.Setenv("PLAGCTL_MAX_UPLOAD_SIZE", "5MB")
		t.Setenv("PLAGCTL_POLL_MAX_ERRORS", "7")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Health.Enabled)
		assert.Equal(t, ByteSize(5_000_000), cfg.Upload.MaxSize)
		assert.Equal(t, 7, cfg.Poll.MaxConsecutiveErrors)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("PLAGCTL_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{"server": map[string]any{"port": 5000}})
		require.NoError(t, err)

		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("UserConfigFile", func(t *testing.T) {
		home := isolate(t)
		dir := filepath.Join(home, ".config", "plagctl")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(
			"api:\n  base_url: https://campus.example.edu/api/v1\npoll:\n  interval: 500ms\n"), 0o644))

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, "https://campus.example.edu/api/v1", cfg.API.BaseURL)
		assert.Equal(t, 500*time.Millisecond, cfg.Poll.Interval)
	})

	t.Run("InvalidValues", func(t *testing.T) {
		isolate(t)
		tests := []struct {
			name      string
			overrides map[string]any
			wantErr   string
		}{
			{name: "bad url", overrides: map[string]any{"api": map[string]any{"base_url": "ftp://x"}}, wantErr: "api.base_url"},
			{name: "zero interval", overrides: map[string]any{"poll": map[string]any{"interval": "0s"}}, wantErr: "poll.interval"},
			{name: "budget below interval", overrides: map[string]any{"poll": map[string]any{"max_duration": "1s"}}, wantErr: "poll.max_duration"},
			{name: "too many workers", overrides: map[string]any{"check": map[string]any{"concurrency": 9}}, wantErr: "check.concurrency"},
			{name: "bad size", overrides: map[string]any{"upload": map[string]any{"max_size": "lots"}}, wantErr: "invalid size"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := Load(ctx, tt.overrides)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			})
		}
	})
}

func TestLoadCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	retrieved := GetConfig()
	require.NotNil(t, retrieved)
	assert.Equal(t, cfg.Server.Port, retrieved.Server.Port)
	assert.Equal(t, cfg.API.BaseURL, retrieved.API.BaseURL)
	assert.Equal(t, &DefaultIdentity, GetIdentity())
}

func TestEnvSpecs(t *testing.T) {
	isolate(t)
	_, err := Load(context.Background())
	require.NoError(t, err)

	specs := getEnvSpecs()
	assert.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		names[spec.Name] = true
		assert.Contains(t, spec.Name, "PLAGCTL_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}

	for _, want := range []string{"PLAGCTL_API_URL", "PLAGCTL_LOG_LEVEL", "PLAGCTL_POLL_INTERVAL", "PLAGCTL_PORT", "PLAGCTL_DATA_DIR"} {
		assert.True(t, names[want], "%s must be mapped", want)
	}
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("PLAGCTL_READ_TIMEOUT", "45s")
	t.Setenv("PLAGCTL_SHUTDOWN_TIMEOUT", "5m")
	t.Setenv("PLAGCTL_POLL_MAX_DURATION", "90s")

	cfg, err := Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 90*time.Second, cfg.Poll.MaxDuration)
	assert.Equal(t, 90*time.Second, cfg.Poll.PollerConfig().MaxDuration)
}

func TestConfigReload(t *testing.T) {
	isolate(t)
	ctx := context.Background()

	cfg1, err := Load(ctx)
	require.NoError(t, err)
	initialPort := cfg1.Server.Port

	cfg2, err := Load(ctx, map[string]any{"server": map[string]any{"port": initialPort + 1000}})
	require.NoError(t, err)
	assert.Equal(t, initialPort+1000, cfg2.Server.Port)
	assert.Equal(t, cfg2.Server.Port, GetConfig().Server.Port)
}

// resetAppIdentity resets package state for isolated tests.
// Must only be used in tests.
func resetAppIdentity() {
	configMu.Lock()
	defer configMu.Unlock()
	appIdentity = nil
	appConfig = nil
}

func TestGetUserConfigPathsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getUserConfigPaths())
}

func TestGetEnvSpecsNilIdentity(t *testing.T) {
	resetAppIdentity()
	defer func() { _, _ = Load(context.Background()) }()

	assert.Empty(t, getEnvSpecs())
}

func TestFindProjectRootCIBoundaryEdgeCases(t *testing.T) {
	repoRoot := findRepoRootForTest(t)

	t.Run("CITrueButEmptyBoundaryVars", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", "")
		t.Setenv("GITHUB_WORKSPACE", "")
		t.Setenv("CI_PROJECT_DIR", "")
		t.Setenv("WORKSPACE", "")

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, repoRoot, root)
	})

	t.Run("CITrueWithRelativeBoundary", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", "./relative/path")

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, repoRoot, root)
	})

	t.Run("CITrueWithNonexistentBoundary", func(t *testing.T) {
		t.Setenv("CI", "true")
		t.Setenv("FULMEN_WORKSPACE_ROOT", "/nonexistent/path/that/does/not/exist")

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, repoRoot, root)
	})

	t.Run("GitHubActionsEnvVar", func(t *testing.T) {
		t.Setenv("GITHUB_ACTIONS", "true")
		t.Setenv("GITHUB_WORKSPACE", repoRoot)

		root, err := findProjectRoot()
		require.NoError(t, err)
		assert.Equal(t, repoRoot, root)
	})
}

func TestCIBoundary(t *testing.T) {
	base := t.TempDir()
	inside := filepath.Join(base, "a", "b")
	require.NoError(t, os.MkdirAll(inside, 0o755))

	for _, name := range ciBoundaryVars {
		t.Setenv(name, "")
	}

	t.Setenv("FULMEN_WORKSPACE_ROOT", base)
	assert.Equal(t, filepath.Clean(base), ciBoundary(inside))

	t.Setenv("FULMEN_WORKSPACE_ROOT", inside)
	assert.Equal(t, "", ciBoundary(base))
}

func TestFlatten(t *testing.T) {
	got := flatten("", map[string]any{
		"a": 1,
		"b": map[string]any{"c": "x", "d": map[string]any{"e": true}},
	})
	assert.Equal(t, map[string]any{"a": 1, "b.c": "x", "b.d.e": true}, got)
}
