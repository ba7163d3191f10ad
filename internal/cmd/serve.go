package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/config"
	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/internal/server"
	"github.com/3leaps/plagctl/internal/server/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local stub backend",
	Long: `Run an in-memory plagiarism backend that implements the REST API used by
plagctl. It scores uploads against a small built-in corpus and is meant for
demos, integration tests and offline development.

Examples:
  plagctl serve
  plagctl serve --port 8000 --async
  plagctl check essay.txt --api-url http://localhost:8000/api/v1`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveHost        string
	servePort        int
	serveAsync       bool
	serveRequireAuth bool
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (default: server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (default: server.port)")
	serveCmd.Flags().BoolVar(&serveAsync, "async", false, "Queue checks as jobs instead of answering synchronously")
	serveCmd.Flags().BoolVar(&serveRequireAuth, "require-auth", false, "Require a bearer token on every endpoint")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	if cfg.Logging.Profile == "structured" {
		observability.InitStructuredLogger("plagctl-serve")
	}

	host, port := cfg.Server.Host, cfg.Server.Port
	if serveHost != "" {
		host = serveHost
	}
	if cmd.Flags().Changed("port") {
		port = servePort
	}

	var backendOpts []handlers.BackendOption
	if serveAsync || cfg.Server.Async {
		backendOpts = append(backendOpts, handlers.WithAsyncChecks())
	}
	if serveRequireAuth || cfg.Server.RequireAuth {
		backendOpts = append(backendOpts, handlers.WithRequireAuth())
	}

	identity := GetAppIdentity()
	if identity == nil {
		identity = &config.DefaultIdentity
	}

	srv := server.New(host, port,
		server.WithBackend(handlers.NewBackend(backendOpts...)),
		server.WithLogger(observability.CLILogger),
		server.WithVersion(versionInfo.Version),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
		server.WithHealthRoutes(cfg.Health.Enabled),
		server.WithHealthChecker("signals", signalHealthChecker{}),
		server.WithHealthChecker("identity", identityHealthChecker{
			binaryName: identity.BinaryName,
			envPrefix:  identity.EnvPrefix,
			configName: identity.ConfigName,
		}),
		server.WithHealthChecker("data_dir", dataDirHealthChecker{dir: cfg.DataDir}),
	)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	observability.CLILogger.Info("Stub backend ready",
		zap.String("url", fmt.Sprintf("http://%s%s", srv.Addr(), server.APIPrefix)),
		zap.Bool("async", serveAsync || cfg.Server.Async),
		zap.Bool("require_auth", serveRequireAuth || cfg.Server.RequireAuth))

	if err := srv.ListenAndServe(ctx, cfg.Server.ShutdownTimeout); err != nil {
		return exitError(exitUnavailable, "Server failed", err)
	}
	return nil
}

// signalHealthChecker is healthy while the process is serving; shutdown is
// driven by the signal context.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error {
	return nil
}

// identityHealthChecker verifies the resolved app identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("identity: missing binary name")
	case c.envPrefix == "":
		return errors.New("identity: missing env prefix")
	case c.configName == "":
		return errors.New("identity: missing config name")
	}
	return nil
}

// dataDirHealthChecker verifies the data directory is usable.
type dataDirHealthChecker struct {
	dir string
}

func (c dataDirHealthChecker) CheckHealth(context.Context) error {
	if c.dir == "" {
		return errors.New("data dir not configured")
	}
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	return nil
}
