// Package cmd implements the plagctl command tree.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/config"
	"github.com/3leaps/plagctl/internal/observability"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "none",
	BuildDate: "unknown",
}

// SetVersionInfo records build metadata injected by main.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var appIdentity *config.AppIdentity

// GetAppIdentity returns the identity resolved during startup, or nil when
// configuration has not been loaded.
func GetAppIdentity() *config.AppIdentity {
	return appIdentity
}

var (
	flagAPIURL   string
	flagDataDir  string
	flagLogLevel string
	flagOutput   string
	flagVerbose  bool
	flagReadOnly bool
)

var rootCmd = &cobra.Command{
	Use:   "plagctl",
	Short: "Check documents for plagiarism against a reference corpus",
	Long: `plagctl submits documents to a plagiarism-detection backend, follows
asynchronous check jobs until they finish, and renders the similarity
report: overall score, matched sources and a side-by-side diff.

Examples:
  plagctl login --email sv@example.edu
  plagctl check essay.pdf
  plagctl check 'k65/**/*.docx' --detach
  plagctl jobs watch <job_id>
  plagctl history list`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagAPIURL, "api-url", "", "Backend API base URL (env: PLAGCTL_API_URL)")
	pf.StringVar(&flagDataDir, "data-dir", "", "Directory for session, result cache and jobs (env: PLAGCTL_DATA_DIR)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error (env: PLAGCTL_LOG_LEVEL)")
	pf.StringVarP(&flagOutput, "output", "o", "text", "Output format: text, json, yaml")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
	pf.BoolVar(&flagReadOnly, "readonly", false, "Refuse commands that delete or change backend state (env: PLAGCTL_READONLY)")
}

// flagOverrides turns explicitly set global flags into config overrides.
func flagOverrides(cmd *cobra.Command) map[string]any {
	overrides := map[string]any{}
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}
	if changed("api-url") {
		overrides["api"] = map[string]any{"base_url": strings.TrimSpace(flagAPIURL)}
	}
	if changed("data-dir") {
		overrides["data_dir"] = flagDataDir
	}
	if changed("log-level") {
		overrides["logging"] = map[string]any{"level": flagLogLevel}
	}
	if changed("readonly") {
		overrides["readonly"] = flagReadOnly
	}
	return overrides
}

// IsReadOnly reports whether mutating commands are disabled.
func IsReadOnly() bool {
	cfg := config.GetConfig()
	return cfg != nil && cfg.ReadOnly
}

// requireWritable fails with an invalid-argument exit in readonly mode.
func requireWritable(action string) error {
	if !IsReadOnly() {
		return nil
	}
	return exitError(exitInvalidArgument, "readonly mode enabled: refusing to "+action,
		fmt.Errorf("disable --readonly or unset PLAGCTL_READONLY"))
}

func initRuntime(cmd *cobra.Command, _ []string) error {
	observability.InitCLILogger("plagctl", flagVerbose)

	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd))
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	appIdentity = config.GetIdentity()

	if !flagVerbose && !observability.SetLevel(cfg.Logging.Level) {
		observability.CLILogger.Warn("Unknown log level, keeping info", zap.String("level", cfg.Logging.Level))
	}
	observability.CLILogger.Debug("Loaded configuration",
		zap.String("api", cfg.API.BaseURL),
		zap.String("data_dir", cfg.DataDir))
	return nil
}

// Execute runs the root command and exits with the mapped exit code on
// failure.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	var ce *cliError
	if errors.As(err, &ce) {
		ExitWithCode(observability.CLILogger, ce.code, ce.msg, ce.err)
		return
	}
	_, _ = fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
