package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/plagctl/internal/server"
	"github.com/3leaps/plagctl/internal/server/handlers"
)

func TestSignalHealthChecker(t *testing.T) {
	checker := signalHealthChecker{}

	t.Run("always returns nil", func(t *testing.T) {
		err := checker.CheckHealth(context.Background())
		assert.NoError(t, err)
	})
}

func TestDataDirHealthChecker(t *testing.T) {
	t.Run("creates missing directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data")
		require.NoError(t, dataDirHealthChecker{dir: dir}.CheckHealth(context.Background()))

		st, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, st.IsDir())
	})

	t.Run("returns error when not configured", func(t *testing.T) {
		err := dataDirHealthChecker{}.CheckHealth(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "data dir not configured")
	})

	t.Run("returns error when path is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

		err := dataDirHealthChecker{dir: filepath.Join(file, "sub")}.CheckHealth(context.Background())
		require.Error(t, err)
	})
}

func TestIdentityHealthChecker(t *testing.T) {
	tests := []struct {
		name       string
		binaryName string
		envPrefix  string
		configName string
		wantErr    bool
		errContain string
	}{
		{
			name:       "all fields valid",
			binaryName: "plagctl",
			envPrefix:  "PLAGCTL",
			configName: "plagctl",
			wantErr:    false,
		},
		{
			name:       "missing binary name",
			binaryName: "",
			envPrefix:  "PLAGCTL",
			configName: "plagctl",
			wantErr:    true,
			errContain: "missing binary name",
		},
		{
			name:       "missing env prefix",
			binaryName: "plagctl",
			envPrefix:  "",
			configName: "plagctl",
			wantErr:    true,
			errContain: "missing env prefix",
		},
		{
			name:       "missing config name",
			binaryName: "plagctl",
			envPrefix:  "PLAGCTL",
			configName: "",
			wantErr:    true,
			errContain: "missing config name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := identityHealthChecker{
				binaryName: tt.binaryName,
				envPrefix:  tt.envPrefix,
				configName: tt.configName,
			}

			err := checker.CheckHealth(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContain)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServeHealthChecks(t *testing.T) {
	blocked := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	tests := []struct {
		name       string
		dataDir    string
		envPrefix  string
		corpus     []handlers.BackendOption
		wantCode   int
		wantChecks map[string]string
	}{
		{
			name:      "all checks pass",
			dataDir:   filepath.Join(t.TempDir(), "data"),
			envPrefix: "PLAGCTL",
			wantCode:  http.StatusOK,
			wantChecks: map[string]string{
				"corpus": "healthy", "identity": "healthy", "data_dir": "healthy", "signals": "healthy",
			},
		},
		{
			name:      "unusable data dir",
			dataDir:   filepath.Join(blocked, "data"),
			envPrefix: "PLAGCTL",
			wantCode:  http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"corpus": "healthy", "data_dir": "unhealthy",
			},
		},
		{
			name:      "incomplete identity and empty corpus",
			dataDir:   filepath.Join(t.TempDir(), "data"),
			corpus:    []handlers.BackendOption{handlers.WithCorpus()},
			wantCode:  http.StatusServiceUnavailable,
			wantChecks: map[string]string{
				"corpus": "unhealthy", "identity": "unhealthy", "data_dir": "healthy",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := server.New("127.0.0.1", 0,
				server.WithBackend(handlers.NewBackend(tt.corpus...)),
				server.WithVersion("1.4.0"),
				server.WithHealthChecker("signals", signalHealthChecker{}),
				server.WithHealthChecker("identity", identityHealthChecker{
					binaryName: "plagctl",
					envPrefix:  tt.envPrefix,
					configName: "plagctl",
				}),
				server.WithHealthChecker("data_dir", dataDirHealthChecker{dir: tt.dataDir}),
			)

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			require.Equal(t, tt.wantCode, rec.Code, rec.Body.String())

			var body struct {
				Checks map[string]string `json:"checks"`
				Error  struct {
					Details struct {
						Checks map[string]string `json:"checks"`
					} `json:"details"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			checks := body.Checks
			if tt.wantCode != http.StatusOK {
				checks = body.Error.Details.Checks
			}
			for name, want := range tt.wantChecks {
				assert.Equal(t, want, checks[name], name)
			}
		})
	}
}
