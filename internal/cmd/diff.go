package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/diffview"
)

var diffCmd = &cobra.Command{
	Use:   "diff <query_id> [source_document_id]",
	Short: "Compare a checked document with a matching source",
	Long: `Compare a checked document (the query) with one of its sources.

With only a query id, the stored comparison is listed and the most similar
source is diffed. The source is always shown as the "from" side.

Examples:
  plagctl diff 3f2a9c
  plagctl diff 3f2a9c doc-ml-vn --side-by-side
  plagctl diff 3f2a9c doc-ml-vn --segments --min-length 30
  plagctl diff --files source.txt essay.txt`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runDiff,
}

var (
	diffFiles       bool
	diffSideBySide  bool
	diffSegments    bool
	diffFull        bool
	diffContext     int
	diffWidth       int
	diffMinLength   int
	diffListSources bool
)

func init() {
	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolVar(&diffFiles, "files", false, "Compare two local text files: <source> <query>")
	diffCmd.Flags().BoolVar(&diffSideBySide, "side-by-side", false, "Show source and query in two columns")
	diffCmd.Flags().BoolVar(&diffSegments, "segments", false, "List shared text segments instead of a line diff")
	diffCmd.Flags().BoolVar(&diffFull, "full", false, "Show every line, not only changed hunks")
	diffCmd.Flags().IntVar(&diffContext, "context", 3, "Unchanged lines around each hunk")
	diffCmd.Flags().IntVar(&diffWidth, "width", 60, "Column width for --side-by-side")
	diffCmd.Flags().IntVar(&diffMinLength, "min-length", diffview.DefaultMinMatchLength, "Shortest shared segment for --segments")
	diffCmd.Flags().BoolVar(&diffListSources, "sources", false, "Only list the sources of the comparison")
}

// diffInput is the pair of texts to compare.
type diffInput struct {
	source, query           string
	sourceTitle, queryTitle string
}

func runDiff(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	format, err := outputFormat()
	if err != nil {
		return err
	}

	var in diffInput
	if diffFiles {
		if len(args) != 2 {
			return exitError(exitInvalidArgument, "Invalid arguments", fmt.Errorf("--files needs <source> <query>"))
		}
		if in, err = readDiffFiles(args[0], args[1]); err != nil {
			return err
		}
	} else {
		if len(args) == 0 {
			return exitError(exitInvalidArgument, "Invalid arguments", fmt.Errorf("query_id is required"))
		}
		client, err := newClient(ctx)
		if err != nil {
			return err
		}

		queryID := args[0]
		sourceID := ""
		if len(args) == 2 {
			sourceID = args[1]
		}
		if sourceID == "" || diffListSources {
			cmp, err := client.Comparison(ctx, queryID)
			if err != nil {
				return apiExit("Failed to load comparison", err)
			}
			if diffListSources {
				if format != formatText {
					return writeStructured(cmd.OutOrStdout(), format, cmp)
				}
				renderComparison(cmd, cmp)
				return nil
			}
			if len(cmp.Matches) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No matching sources")
				return nil
			}
			top := cmp.Matches[0]
			for _, m := range cmp.Matches[1:] {
				if m.Similarity > top.Similarity {
					top = m
				}
			}
			sourceID = top.SourceID
			in.sourceTitle = top.SourceName
			in.queryTitle = cmp.QueryName
			observability.CLILogger.Debug("Diffing most similar source",
				zap.String("source_id", sourceID), zap.Float64("similarity", top.Similarity))
		}

		if in.source, err = client.DocumentContent(ctx, sourceID); err != nil {
			return apiExit("Failed to load source document", err)
		}
		if in.query, err = client.DocumentContent(ctx, queryID); err != nil {
			return apiExit("Failed to load checked document", err)
		}
		if in.sourceTitle == "" {
			in.sourceTitle = sourceID
		}
		if in.queryTitle == "" {
			in.queryTitle = queryID
		}
	}

	return renderDiff(cmd, format, in)
}

func readDiffFiles(sourcePath, queryPath string) (diffInput, error) {
	src, err := os.ReadFile(sourcePath)
	if err != nil {
		return diffInput{}, exitError(exitFileRead, "Failed to read source file", err)
	}
	qry, err := os.ReadFile(queryPath)
	if err != nil {
		return diffInput{}, exitError(exitFileRead, "Failed to read query file", err)
	}
	return diffInput{
		source:      string(src),
		query:       string(qry),
		sourceTitle: sourcePath,
		queryTitle:  queryPath,
	}, nil
}

func renderDiff(cmd *cobra.Command, format string, in diffInput) error {
	out := cmd.OutOrStdout()

	if diffSegments || format != formatText {
		cmp, err := diffview.Compare(in.source, in.query, diffMinLength)
		if errors.Is(err, diffview.ErrNothingToCompare) {
			_, _ = fmt.Fprintln(out, err.Error())
			return nil
		}
		if err != nil {
			return exitError(exitInvalidArgument, "Failed to compare documents", err)
		}
		if format != formatText {
			return writeStructured(out, format, cmp)
		}
		_, _ = fmt.Fprintf(out, "Similarity: %s\n", gauge(cmp.Ratio*100))
		_, _ = fmt.Fprintf(out, "Shared segments (>= %d chars): %d\n", diffMinLength, len(cmp.Segments))
		for i, s := range cmp.Segments {
			_, _ = fmt.Fprintf(out, "\n[%d] source %d-%d, query %d-%d\n%s\n",
				i+1, s.SourceStart, s.SourceEnd, s.QueryStart, s.QueryEnd, s.Text)
		}
		return nil
	}

	opts := diffview.Options{
		SourceTitle: in.sourceTitle,
		QueryTitle:  in.queryTitle,
		Context:     diffContext,
		Full:        diffFull,
		Width:       diffWidth,
	}
	var (
		text string
		err  error
	)
	if diffSideBySide {
		text, err = diffview.SideBySide(in.source, in.query, opts)
	} else {
		text, err = diffview.Unified(in.source, in.query, opts)
	}
	if errors.Is(err, diffview.ErrNothingToCompare) {
		_, _ = fmt.Fprintln(out, err.Error())
		return nil
	}
	if err != nil {
		return exitError(exitInvalidArgument, "Failed to render diff", err)
	}
	_, _ = fmt.Fprint(out, text)
	return nil
}

func renderComparison(cmd *cobra.Command, cmp *api.ComparisonResult) {
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Query:       %s (%s)\n", dash(cmp.QueryName), cmp.QueryID)
	_, _ = fmt.Fprintf(out, "Similarity:  %s\n", gauge(cmp.OverallSimilarity*100))
	if len(cmp.Matches) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()
	_, _ = fmt.Fprintln(tw, "SOURCE ID\tNAME\tSIMILARITY\tSEGMENTS")
	for _, m := range cmp.Matches {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%.1f%%\t%d\n", m.SourceID, dash(m.SourceName), m.Similarity*100, m.MatchedSegments)
	}
}
