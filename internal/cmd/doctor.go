package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/config"
	"github.com/3leaps/plagctl/internal/observability"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  plagctl doctor              # Full environment check
  plagctl doctor --provider s3  # Include archive credential checks`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	observability.CLILogger.Info("=== " + bannerName + " ===")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("Running diagnostic checks...")
	observability.CLILogger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 7

	if doctorProvider == "s3" {
		totalChecks = 10
	}

	// Check 1: Go version
	goVersion := runtime.Version()
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Go runtime... ✅ %s", checkNum, totalChecks, goVersion),
		zap.String("go_version", goVersion))
	checkNum++

	// Check 2: Crucible schemas
	version := crucible.GetVersion()
	if version.Crucible != "" {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking Crucible access... ✅ v%s", checkNum, totalChecks, version.Crucible),
			zap.String("crucible_version", version.Crucible))
	} else {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking Crucible access... ❌ Cannot access Crucible", checkNum, totalChecks))
		allChecks = false
	}
	checkNum++

	// Check 3: Config directory
	configDir, err := os.UserConfigDir()
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking config directory... ❌ Cannot find config directory", checkNum, totalChecks),
			zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking config directory... ✅ %s", checkNum, totalChecks, configDir),
			zap.String("config_dir", configDir))
	}
	checkNum++

	// Check 4: Environment
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s/%s", checkNum, totalChecks, runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	cfg, err := currentConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ Invalid configuration", checkNum, totalChecks),
			zap.Error(err))
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}

	// Check 5: Data directory
	if err := (dataDirHealthChecker{dir: cfg.DataDir}).CheckHealth(ctx); err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking data directory... ❌ Not writable", checkNum, totalChecks),
			zap.String("data_dir", cfg.DataDir), zap.Error(err))
		allChecks = false
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking data directory... ✅ %s", checkNum, totalChecks, cfg.DataDir),
			zap.String("data_dir", cfg.DataDir))
	}
	checkNum++

	// Check 6: Backend
	allChecks = checkBackend(ctx, checkNum, totalChecks, cfg) && allChecks
	checkNum++

	// Check 7: Session
	allChecks = checkSession(checkNum, totalChecks, cfg) && allChecks
	checkNum++

	if doctorProvider == "s3" {
		allChecks = runS3Checks(ctx, checkNum, totalChecks, allChecks)
	}

	observability.CLILogger.Info("")
	if allChecks {
		observability.CLILogger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		observability.CLILogger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	observability.CLILogger.Info("")
	observability.CLILogger.Info("=== End Diagnostics ===")

	if !allChecks {
		return exitError(exitUnavailable, "Diagnostics failed", nil)
	}
	return nil
}

func checkBackend(ctx context.Context, checkNum, totalChecks int, cfg *config.Config) bool {
	client, err := newClient(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking backend... ❌ Cannot build client", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	h, err := client.Health(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking backend... ❌ %s unreachable", checkNum, totalChecks, cfg.API.BaseURL),
			zap.Error(err))
		observability.CLILogger.Info("  Set api.base_url, PLAGCTL_API_URL or --api-url, or run 'plagctl serve' for a local backend")
		return false
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking backend... ✅ %s (%s)", checkNum, totalChecks, cfg.API.BaseURL, h.Status),
		zap.String("api", cfg.API.BaseURL))
	return true
}

// checkSession reports the stored login. A missing session is not a failure
// since anonymous checks are allowed.
func checkSession(checkNum, totalChecks int, cfg *config.Config) bool {
	store, err := openSession(cfg)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking session... ❌ Cannot read session", checkNum, totalChecks),
			zap.Error(err))
		return false
	}
	sess := store.Current()
	if !sess.Authenticated() {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking session... ⚠️  Not logged in (run 'plagctl login')", checkNum, totalChecks),
			zap.String("path", store.Path()))
		return true
	}
	email := ""
	if sess.User != nil {
		email = sess.User.Email
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking session... ✅ %s", checkNum, totalChecks, dash(email)),
		zap.String("path", store.Path()))
	return true
}

// runS3Checks runs archive credential checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("S3 Archive Checks:")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		observability.CLILogger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	maskedKey := maskAccessKey(creds.AccessKeyID)
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskedKey),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))
	checkNum++

	region, regionSource := resolveArchiveRegion(ctx, cfg.Region)
	if region == "" {
		observability.CLILogger.Warn(fmt.Sprintf("[%d/%d] Checking region... ⚠️  Not set, archive falls back to us-east-1", checkNum, totalChecks))
	} else {
		observability.CLILogger.Info(fmt.Sprintf("[%d/%d] Checking region... ✅ %s", checkNum, totalChecks, region),
			zap.String("region_source", regionSource))
	}

	return allChecks
}

// resolveArchiveRegion prefers the configured region and falls back to the
// EC2 instance metadata service.
func resolveArchiveRegion(ctx context.Context, configured string) (string, string) {
	if configured != "" {
		return configured, "config"
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	out, err := imds.New(imds.Options{}).GetRegion(ctx, &imds.GetRegionInput{})
	if err != nil {
		observability.CLILogger.Debug("Instance metadata unavailable", zap.Error(err))
		return "", ""
	}
	return out.Region, "imds"
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	observability.CLILogger.Info("")
	observability.CLILogger.Info("To configure AWS credentials:")
	observability.CLILogger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	observability.CLILogger.Info("  2. Run 'aws configure' to set up a profile, or")
	observability.CLILogger.Info("  3. Use IAM role when running on AWS infrastructure")
	observability.CLILogger.Info("")
	observability.CLILogger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	observability.CLILogger.Info("  - archive.endpoint in the config file or PLAGCTL_ARCHIVE_ENDPOINT")
	observability.CLILogger.Info("")
}
