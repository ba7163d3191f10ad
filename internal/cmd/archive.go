package cmd

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/plagctl/pkg/archive"
)

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Browse results archived to object storage",
	Long: `Browse results and exports archived to an S3-compatible bucket.

The destination defaults to archive.destination from the configuration and
can be overridden with --to.`,
}

var archiveLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List archived objects",
	Args:  cobra.NoArgs,
	RunE:  runArchiveLs,
}

var archiveGetCmd = &cobra.Command{
	Use:   "get <name> [destination]",
	Short: "Download an archived object",
	Long: `Download an archived object by name relative to the archive prefix,
for example results/<result_id>.json. Use - as destination for stdout.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runArchiveGet,
}

var archiveTo string

func init() {
	rootCmd.AddCommand(archiveCmd)
	archiveCmd.AddCommand(archiveLsCmd, archiveGetCmd)
	archiveCmd.PersistentFlags().StringVar(&archiveTo, "to", "", "Archive destination s3://bucket/prefix/")
}

func openArchive(cmd *cobra.Command) (*archive.Archiver, error) {
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	dest := strings.TrimSpace(archiveTo)
	if dest == "" {
		dest = cfg.Archive.Destination
	}
	if dest == "" {
		return nil, exitError(exitInvalidArgument, "No archive destination",
			fmt.Errorf("set archive.destination or pass --to s3://bucket/prefix/"))
	}
	arch, err := newArchiver(ctx, dest, cfg.Archive)
	if err != nil {
		return nil, exitError(exitInvalidArgument, "Invalid archive destination", err)
	}
	return arch, nil
}

func runArchiveLs(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	arch, err := openArchive(cmd)
	if err != nil {
		return err
	}
	objects, err := arch.List(cmd.Context())
	if err != nil {
		return apiExit("Failed to list archive", err)
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		if objects == nil {
			objects = []archive.Object{}
		}
		return writeStructured(out, format, objects)
	}
	if len(objects) == 0 {
		_, _ = fmt.Fprintln(out, "Archive is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "KEY\tSIZE\tMODIFIED")
	for _, o := range objects {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", o.Key, o.Size, o.LastModified.UTC().Format(time.RFC3339))
	}
	return nil
}

func runArchiveGet(cmd *cobra.Command, args []string) error {
	arch, err := openArchive(cmd)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(args[0])

	dest := path.Base(name)
	if len(args) == 2 {
		dest = args[1]
	}
	if dest == "-" {
		if _, err := arch.Get(cmd.Context(), name, cmd.OutOrStdout()); err != nil {
			return apiExit("Failed to download object", err)
		}
		return nil
	}
	if st, err := os.Stat(dest); err == nil && st.IsDir() {
		dest = filepath.Join(dest, path.Base(name))
	}

	f, err := os.Create(dest)
	if err != nil {
		return exitError(exitFileWrite, "Failed to create file", err)
	}
	n, err := arch.Get(cmd.Context(), name, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return apiExit("Failed to download object", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", dest, n)
	return nil
}
