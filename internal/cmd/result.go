package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/plagctl/pkg/resultstore"
	"github.com/3leaps/plagctl/pkg/similarity"
)

var resultCmd = &cobra.Command{
	Use:     "result",
	Aliases: []string{"results"},
	Short:   "Show cached check results",
	Long: `Show results cached locally by previous checks.

Every completed check is stored in <data_dir>/results.db, so the last result
can be shown again without re-uploading the document.`,
}

var resultShowCmd = &cobra.Command{
	Use:   "show [result_id|job_id]",
	Short: "Show a cached result (default: the most recent)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runResultShow,
}

var resultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached results",
	Args:  cobra.NoArgs,
	RunE:  runResultList,
}

var resultDeleteCmd = &cobra.Command{
	Use:   "delete <result_id>",
	Short: "Delete a cached result",
	Args:  cobra.ExactArgs(1),
	RunE:  runResultDelete,
}

var resultPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cached results older than --max-age",
	Args:  cobra.NoArgs,
	RunE:  runResultPrune,
}

var (
	resultListLimit  int
	resultPruneAge   string
	resultShowLevels bool
)

func init() {
	rootCmd.AddCommand(resultCmd)
	resultCmd.AddCommand(resultShowCmd, resultListCmd, resultDeleteCmd, resultPruneCmd)

	resultShowCmd.Flags().BoolVar(&resultShowLevels, "legend", false, "Print the similarity band legend")
	resultListCmd.Flags().IntVar(&resultListLimit, "limit", 20, "Maximum results to list (0 = all)")
	resultPruneCmd.Flags().StringVar(&resultPruneAge, "max-age", "720h", "Delete results older than this duration")
}

func runResultShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store, err := openResults(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults(store)

	var rec *resultstore.Record
	if len(args) == 0 {
		rec, err = store.Last(ctx)
	} else {
		id := strings.TrimSpace(args[0])
		rec, err = store.Get(ctx, id)
		if errors.Is(err, resultstore.ErrNotFound) {
			rec, err = store.GetByJob(ctx, id)
		}
	}
	if errors.Is(err, resultstore.ErrNotFound) {
		return exitError(exitFileNotFound, "No cached result", err)
	}
	if err != nil {
		return exitError(exitFileRead, "Failed to read result", err)
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		return writeStructured(out, format, rec)
	}
	renderResult(out, rec.Result)
	_, _ = fmt.Fprintf(out, "Result ID:   %s\n", rec.ID)
	if rec.JobID != "" {
		_, _ = fmt.Fprintf(out, "Job ID:      %s\n", rec.JobID)
	}
	_, _ = fmt.Fprintf(out, "Checked at:  %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	if resultShowLevels {
		renderLegend(out)
	}
	return nil
}

func runResultList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store, err := openResults(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults(store)

	recs, err := store.List(ctx, resultListLimit)
	if err != nil {
		return exitError(exitFileRead, "Failed to list results", err)
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		if recs == nil {
			recs = []resultstore.Record{}
		}
		return writeStructured(out, format, recs)
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No cached results")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "RESULT ID\tFILE\tSIMILARITY\tLEVEL\tSOURCE\tCHECKED")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%.1f%%\t%s\t%s\t%s\n",
			shortID(r.ID), dash(r.Filename), r.Similarity, dash(string(r.Level)), r.Source,
			r.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func runResultDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store, err := openResults(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults(store)

	id := strings.TrimSpace(args[0])
	if err := store.Delete(ctx, id); err != nil {
		if errors.Is(err, resultstore.ErrNotFound) {
			return exitError(exitFileNotFound, "Result not found", err)
		}
		return exitError(exitFileWrite, "Failed to delete result", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted result %s\n", id)
	return nil
}

func runResultPrune(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	maxAge, err := time.ParseDuration(strings.TrimSpace(resultPruneAge))
	if err != nil || maxAge <= 0 {
		if err == nil {
			err = fmt.Errorf("--max-age must be > 0")
		}
		return exitError(exitInvalidArgument, "Invalid --max-age", err)
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store, err := openResults(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults(store)

	n, err := store.Prune(ctx, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return exitError(exitFileWrite, "Failed to prune results", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted=%d\n", n)
	return nil
}

// legendFractions are the lower bounds of the gauge bands.
var legendFractions = []float64{0.6, 0.3, 0}

func renderLegend(w io.Writer) {
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Similarity bands:")
	for _, f := range legendFractions {
		band := similarity.Band(f)
		_, _ = fmt.Fprintf(w, "  >= %3d%%  %s\n", similarity.Percent(f), band.Label)
	}
}
