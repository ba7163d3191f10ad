package cmd

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/archive"
	"github.com/3leaps/plagctl/pkg/export"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse the check history kept by the backend",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past checks",
	Long: `List past checks, newest first.

Examples:
  plagctl history list
  plagctl history list --page 2 --page-size 20
  plagctl history list --all --sort similarity`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a history entry",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every history entry",
	Args:  cobra.NoArgs,
	RunE:  runHistoryClear,
}

var historyDownloadCmd = &cobra.Command{
	Use:   "download <id> [destination]",
	Short: "Download the original file of a history entry",
	Long: `Download the file that was uploaded for a history entry.

The destination may be a local directory, a local file path, or an
s3://bucket/prefix/ URI. The default is the current directory, using the
file name reported by the backend.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runHistoryDownload,
}

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the history to a spreadsheet",
	Long: `Export every history entry to XLSX or CSV.

Examples:
  plagctl history export -f history.xlsx
  plagctl history export --format csv -f -
  plagctl history export -f s3://reports/plagiarism/history.xlsx`,
	Args: cobra.NoArgs,
	RunE: runHistoryExport,
}

var (
	historyPage     int
	historyPageSize int
	historySort     string
	historyAll      bool
	historyYes      bool
	historyFormat   string
	historyFile     string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyDeleteCmd, historyClearCmd, historyDownloadCmd, historyExportCmd)

	historyListCmd.Flags().IntVar(&historyPage, "page", 1, "Page number (1-based)")
	historyListCmd.Flags().IntVar(&historyPageSize, "page-size", 0, "Items per page (default: history.page_size)")
	historyListCmd.Flags().StringVar(&historySort, "sort", "", "Sort rows by similarity, matches, or created")
	historyListCmd.Flags().BoolVar(&historyAll, "all", false, "Fetch every page")

	historyClearCmd.Flags().BoolVarP(&historyYes, "yes", "y", false, "Do not ask for confirmation")

	historyExportCmd.Flags().StringVar(&historyFormat, "format", "", "Export format: xlsx or csv (default: from file extension)")
	historyExportCmd.Flags().StringVarP(&historyFile, "file", "f", "history.xlsx", "Output file, s3:// URI, or - for stdout")
}

type historyListing struct {
	Items    []api.HistoryItem `json:"items" yaml:"items"`
	Total    int               `json:"total" yaml:"total"`
	Page     int               `json:"page,omitempty" yaml:"page,omitempty"`
	PageSize int               `json:"page_size,omitempty" yaml:"page_size,omitempty"`
}

func runHistoryList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	pageSize := historyPageSize
	if pageSize == 0 {
		pageSize = cfg.History.PageSize
	}
	if pageSize < 1 || pageSize > 100 {
		return exitError(exitInvalidArgument, "Invalid --page-size", fmt.Errorf("page size must be between 1 and 100, got %d", pageSize))
	}
	if historyPage < 1 {
		return exitError(exitInvalidArgument, "Invalid --page", fmt.Errorf("page must be >= 1, got %d", historyPage))
	}
	less, err := historySorter(historySort)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid --sort", err)
	}

	client, err := newClient(ctx)
	if err != nil {
		return err
	}

	var listing historyListing
	if historyAll {
		items, err := client.HistoryAll(ctx, pageSize, 0)
		if err != nil {
			return apiExit("Failed to fetch history", err)
		}
		listing = historyListing{Items: items, Total: len(items)}
	} else {
		page, err := client.History(ctx, historyPage, pageSize)
		if err != nil {
			return apiExit("Failed to fetch history", err)
		}
		listing = historyListing{Items: page.Items, Total: page.Total, Page: page.Page, PageSize: page.PageSize}
	}
	if listing.Items == nil {
		listing.Items = []api.HistoryItem{}
	}
	if less != nil {
		items := listing.Items
		sort.SliceStable(items, func(i, j int) bool { return less(items[i], items[j]) })
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		return writeStructured(out, format, listing)
	}
	if len(listing.Items) == 0 {
		_, _ = fmt.Fprintln(out, "No checks yet")
		return nil
	}
	renderHistory(out, listing.Items)
	if !historyAll {
		pages := (listing.Total + pageSize - 1) / pageSize
		_, _ = fmt.Fprintf(out, "\nPage %d of %d (%d checks)\n", listing.Page, pages, listing.Total)
	}
	return nil
}

// historySorter returns a descending comparator for key, or nil to keep the
// backend order.
func historySorter(key string) (func(a, b api.HistoryItem) bool, error) {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "":
		return nil, nil
	case "similarity":
		return func(a, b api.HistoryItem) bool { return a.OverallSimilarity > b.OverallSimilarity }, nil
	case "matches":
		return func(a, b api.HistoryItem) bool { return a.MatchesCount > b.MatchesCount }, nil
	case "created":
		return func(a, b api.HistoryItem) bool { return a.CreatedTime().After(b.CreatedTime()) }, nil
	default:
		return nil, fmt.Errorf("unknown sort key %q (want similarity, matches, or created)", key)
	}
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	if err := requireWritable("delete history"); err != nil {
		return err
	}
	ctx := cmd.Context()
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	id := strings.TrimSpace(args[0])
	if err := client.DeleteHistory(ctx, id); err != nil {
		return apiExit("Failed to delete history entry", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
	return nil
}

func runHistoryClear(cmd *cobra.Command, _ []string) error {
	if err := requireWritable("clear history"); err != nil {
		return err
	}
	ctx := cmd.Context()
	if !historyYes {
		ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), "Delete the entire check history?")
		if err != nil {
			return exitError(exitFileRead, "Failed to read confirmation", err)
		}
		if !ok {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
			return nil
		}
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	if err := client.ClearHistory(ctx); err != nil {
		return apiExit("Failed to clear history", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "History cleared")
	return nil
}

func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	_, _ = fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func runHistoryDownload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	id := strings.TrimSpace(args[0])
	dest := "."
	if len(args) == 2 {
		dest = args[1]
	}

	client, err := newClient(ctx)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	dl, err := client.DownloadHistory(ctx, id, &buf)
	if err != nil {
		return apiExit("Failed to download file", err)
	}
	name := dl.Filename
	if name == "" {
		name = "document-" + id
	}

	if archive.IsDestination(dest) {
		cfg, err := currentConfig(ctx)
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid configuration", err)
		}
		arch, err := newArchiver(ctx, dest, cfg.Archive)
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid archive destination", err)
		}
		uri, err := arch.PutBytes(ctx, "downloads/"+name, dl.ContentType, buf.Bytes())
		if err != nil {
			return apiExit("Failed to upload file", err)
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), uri)
		return nil
	}

	target := dest
	if st, err := os.Stat(dest); err == nil && st.IsDir() {
		target = filepath.Join(dest, filepath.Base(name))
	}
	if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
		return exitError(exitFileWrite, "Failed to write file", err)
	}
	observability.CLILogger.Debug("Downloaded history file",
		zap.String("id", id), zap.String("path", target), zap.Int64("bytes", dl.Size))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), target)
	return nil
}

func runHistoryExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	target := strings.TrimSpace(historyFile)
	if target == "" {
		return exitError(exitInvalidArgument, "Invalid --file", fmt.Errorf("--file is required"))
	}

	format := export.FormatForPath(target)
	if historyFormat != "" {
		f, err := export.ParseFormat(historyFormat)
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid --format", err)
		}
		format = f
	}

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	items, err := client.HistoryAll(ctx, 100, 0)
	if err != nil {
		return apiExit("Failed to fetch history", err)
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, format, items); err != nil {
		return exitError(exitFileWrite, "Failed to encode export", err)
	}

	switch {
	case target == "-":
		_, err = cmd.OutOrStdout().Write(buf.Bytes())
		if err != nil {
			return exitError(exitFileWrite, "Failed to write export", err)
		}
		return nil
	case archive.IsDestination(target):
		bucketURI, key := splitObjectURI(target)
		arch, err := newArchiver(ctx, bucketURI, cfg.Archive)
		if err != nil {
			return exitError(exitInvalidArgument, "Invalid archive destination", err)
		}
		uri, err := arch.PutBytes(ctx, key, exportContentType(format), buf.Bytes())
		if err != nil {
			return apiExit("Failed to upload export", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d checks to %s\n", len(items), uri)
		return nil
	default:
		if err := os.WriteFile(target, buf.Bytes(), 0o644); err != nil {
			return exitError(exitFileWrite, "Failed to write export", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Exported %d checks to %s\n", len(items), target)
		return nil
	}
}

// splitObjectURI splits s3://bucket/dir/name.xlsx into the destination
// s3://bucket/dir/ and the object name. A URI ending in "/" gets the
// default export name.
func splitObjectURI(uri string) (dest, name string) {
	rest := strings.TrimPrefix(uri, "s3://")
	if strings.HasSuffix(rest, "/") || !strings.Contains(rest, "/") {
		return strings.TrimSuffix(uri, "/") + "/", "history.xlsx"
	}
	i := strings.LastIndex(uri, "/")
	return uri[:i+1], uri[i+1:]
}

func exportContentType(f export.Format) string {
	if f == export.FormatCSV {
		return "text/csv"
	}
	return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
}
