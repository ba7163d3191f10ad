package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/api"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the backend is reachable",
	Long: `Query the backend health endpoint and the reference corpus statistics.

Exits non-zero when the backend cannot be reached or reports a non-healthy
status.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

type healthReport struct {
	API    string           `json:"api" yaml:"api"`
	Health *api.HealthStatus `json:"health" yaml:"health"`
	Corpus *api.CorpusStats  `json:"corpus,omitempty" yaml:"corpus,omitempty"`
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, err := outputFormat()
	if err != nil {
		return err
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}

	h, err := client.Health(ctx)
	if err != nil {
		return apiExit("Backend unavailable", err)
	}
	report := healthReport{API: client.BaseURL(), Health: h}

	stats, err := client.CorpusStats(ctx)
	if err != nil {
		observability.CLILogger.Warn("Corpus stats unavailable", zap.Error(err))
	} else {
		report.Corpus = stats
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		if err := writeStructured(out, format, report); err != nil {
			return err
		}
	} else {
		_, _ = fmt.Fprintf(out, "api=%s\n", report.API)
		_, _ = fmt.Fprintf(out, "status=%s\n", h.Status)
		if h.Version != "" {
			_, _ = fmt.Fprintf(out, "version=%s\n", h.Version)
		}
		if stats != nil {
			_, _ = fmt.Fprintf(out, "corpus_documents=%d\n", stats.TotalDocuments)
			_, _ = fmt.Fprintf(out, "corpus_threshold=%.2f\n", stats.Threshold)
			_, _ = fmt.Fprintf(out, "corpus_status=%s\n", stats.Status)
		}
	}

	switch h.Status {
	case "healthy", "ok":
		return nil
	case "degraded":
		observability.CLILogger.Warn("Backend is degraded")
		return nil
	default:
		return exitError(exitUnavailable, "Backend is not healthy", fmt.Errorf("status %q", h.Status))
	}
}
