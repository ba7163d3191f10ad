package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/config"
	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/jobregistry"
	"github.com/3leaps/plagctl/pkg/resultstore"
	"github.com/3leaps/plagctl/pkg/session"
	"github.com/3leaps/plagctl/pkg/validate"
)

// currentConfig returns the loaded configuration, loading defaults when a
// command runs without the root pre-run (tests, direct calls).
func currentConfig(ctx context.Context) (*config.Config, error) {
	if cfg := config.GetConfig(); cfg != nil {
		return cfg, nil
	}
	return config.Load(ctx)
}

func openSession(cfg *config.Config) (*session.Store, error) {
	store := session.NewStore(cfg.DataDir)
	if err := store.Init(); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return store, nil
}

// newClient builds an API client bound to the persisted session.
func newClient(ctx context.Context) (*api.Client, error) {
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store, err := openSession(cfg)
	if err != nil {
		return nil, exitError(exitFileRead, "Failed to load session", err)
	}
	client, err := api.New(api.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.API.Timeout,
		RateLimit: cfg.API.RateLimit,
		UserAgent: "plagctl/" + versionInfo.Version,
	}, store, api.WithLogger(observability.CLILogger))
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid API configuration", err)
	}
	return client, nil
}

func uploadOptions(cfg *config.Config) validate.Options {
	return validate.Options{MaxSize: int64(cfg.Upload.MaxSize)}
}

func resultsPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, resultstore.DefaultFileName)
}

func openResults(ctx context.Context, cfg *config.Config) (*resultstore.Store, error) {
	store, err := resultstore.Open(ctx, resultstore.Config{Path: resultsPath(cfg)})
	if err != nil {
		return nil, exitError(exitFileWrite, "Failed to open result cache", err)
	}
	return store, nil
}

func jobsRootDir(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "jobs")
}

func jobStore(cfg *config.Config) *jobregistry.Store {
	return jobregistry.NewStore(jobsRootDir(cfg))
}

func closeResults(store *resultstore.Store) {
	if err := store.Close(); err != nil {
		observability.CLILogger.Debug("Failed to close result cache", zap.Error(err))
	}
}
