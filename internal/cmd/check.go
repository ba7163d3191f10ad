package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/config"
	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/archive"
	"github.com/3leaps/plagctl/pkg/jobregistry"
	"github.com/3leaps/plagctl/pkg/manifest"
	"github.com/3leaps/plagctl/pkg/match"
	"github.com/3leaps/plagctl/pkg/poller"
	"github.com/3leaps/plagctl/pkg/similarity"
)

var (
	checkManifest    string
	checkDetach      bool
	checkFailOn      string
	checkConcurrency int
	checkArchive     string
	checkHidden      bool
)

var checkCmd = &cobra.Command{
	Use:   "check [file|glob]...",
	Short: "Check documents for plagiarism",
	Long: `Upload documents and report their similarity against the corpus.

Arguments are file paths or doublestar globs (quote them so the shell does
not expand them). Accepted types are .pdf, .docx and .txt up to
upload.max_size. When the backend queues a check, plagctl follows the job
until it finishes; with --detach a background watcher takes over and the
command returns immediately.

A check manifest (--manifest) describes a batch: files, polling budget,
output and archive destination.

Output:
  text   result card and match list (default)
  json   one report with results, errors and summary
  yaml   same as json
  jsonl  streaming records (plagctl.check.v1, plagctl.job.progress.v1, ...)

Examples:
  plagctl check essay.pdf
  plagctl check 'k65/**/*.docx' --concurrency 4 -o jsonl
  plagctl check --manifest batch.yaml
  plagctl check thesis.pdf --fail-on medium
  plagctl check thesis.pdf --archive s3://reports/k65/`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVarP(&checkManifest, "manifest", "m", "", "Path to a check manifest (YAML or JSON)")
	checkCmd.Flags().BoolVar(&checkDetach, "detach", false, "Hand queued jobs to background watchers and return")
	checkCmd.Flags().StringVar(&checkFailOn, "fail-on", "", "Exit non-zero when any result reaches this level (low, medium, high)")
	checkCmd.Flags().IntVar(&checkConcurrency, "concurrency", 0, "Files checked in parallel (1-8)")
	checkCmd.Flags().StringVar(&checkArchive, "archive", "", "Upload results to s3://bucket/prefix")
	checkCmd.Flags().BoolVar(&checkHidden, "include-hidden", false, "Match hidden files with globs")
}

func runCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format, err := outputFormat(formatText, formatJSON, formatYAML, formatJSONL)
	if err != nil {
		return err
	}
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}

	var m *manifest.Manifest
	if checkManifest != "" {
		if len(args) > 0 {
			return exitError(exitInvalidArgument, "Invalid arguments", fmt.Errorf("do not combine --manifest with file arguments"))
		}
		m, err = manifest.Load(checkManifest)
		if err != nil {
			observability.CLILogger.Error("Failed to load manifest", zap.String("path", checkManifest), zap.Error(err))
			return exitError(exitFileRead, "Failed to load manifest", err)
		}
		observability.CLILogger.Debug("Loaded manifest",
			zap.String("name", m.Name),
			zap.String("root", m.Files.Root),
			zap.Strings("includes", m.Files.Includes))
	} else if len(args) == 0 {
		return exitError(exitInvalidArgument, "Nothing to check", fmt.Errorf("pass files, globs or --manifest"))
	}

	files, err := resolveCheckFiles(args, m, cfg.Check.Extensions, checkHidden)
	if err != nil {
		return exitError(exitInvalidArgument, "Failed to select files", err)
	}
	if len(files) == 0 {
		return exitError(exitFileNotFound, "No files matched", nil)
	}

	settings, err := resolveCheckSettings(cmd, cfg, m, format)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid check options", err)
	}

	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	results, err := openResults(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeResults(results)

	archiver, err := newArchiver(ctx, settings.archive, cfg.Archive)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid archive destination", err)
	}

	env := &checkEnv{
		cfg:      cfg,
		client:   client,
		results:  results,
		jobs:     jobStore(cfg),
		executor: jobregistry.NewExecutor(jobsRootDir(cfg)),
		poll:     settings.poll,
		sink:     newCheckSink(settings.format, cmd.OutOrStdout(), client.BaseURL()),
		archiver: archiver,
		detach:   settings.detach,
	}

	observability.CLILogger.Debug("Starting check",
		zap.Int("files", len(files)),
		zap.Int("concurrency", settings.concurrency),
		zap.Bool("detach", settings.detach))

	tally := env.checkAll(ctx, files, settings.concurrency)
	summary := tally.summary()
	env.sink.summary(summary)

	if ctx.Err() != nil {
		return exitError(exitInterrupted, "Check cancelled", ctx.Err())
	}
	if summary.Failed > 0 {
		if len(files) == 1 {
			return apiExit("Check failed", tally.firstErr())
		}
		return exitError(exitUnavailable, "Some checks failed", fmt.Errorf("%d of %d files failed", summary.Failed, summary.Files))
	}
	if settings.failOn != "" && summary.HighestLevel != "" && summary.HighestLevel.AtLeast(settings.failOn) {
		return exitError(exitFindings, "Plagiarism threshold reached",
			fmt.Errorf("highest level %s is at least %s", summary.HighestLevel, settings.failOn))
	}
	return nil
}

type checkSettings struct {
	format      string
	poll        poller.Config
	concurrency int
	detach      bool
	failOn      similarity.Level
	archive     string
}

// resolveCheckSettings merges flags over manifest values over config.
func resolveCheckSettings(cmd *cobra.Command, cfg *config.Config, m *manifest.Manifest, format string) (*checkSettings, error) {
	s := &checkSettings{
		format:      format,
		poll:        cfg.Poll.PollerConfig(),
		concurrency: cfg.Check.Concurrency,
		archive:     cfg.Archive.Destination,
	}

	if m != nil {
		pc, err := m.Poll.PollerConfig(s.poll)
		if err != nil {
			return nil, err
		}
		s.poll = pc
		s.concurrency = m.Check.Concurrency
		s.detach = m.Check.Detach
		s.failOn = m.Output.FailLevel()
		if m.Archive != nil && m.Archive.Destination != "" {
			s.archive = m.Archive.Destination
		}
		if !cmd.Flags().Changed("output") && m.Output.Format != "" {
			s.format = m.Output.Format
		}
	}

	if cmd.Flags().Changed("concurrency") {
		if checkConcurrency < 1 || checkConcurrency > 8 {
			return nil, fmt.Errorf("--concurrency must be between 1 and 8")
		}
		s.concurrency = checkConcurrency
	}
	if cmd.Flags().Changed("detach") {
		s.detach = checkDetach
	}
	if checkFailOn != "" && !strings.EqualFold(checkFailOn, "none") {
		lvl, err := similarity.ParseLevel(checkFailOn)
		if err != nil {
			return nil, fmt.Errorf("--fail-on: %w", err)
		}
		s.failOn = lvl
	}
	if checkArchive != "" {
		s.archive = checkArchive
	}
	if s.archive != "" && !archive.IsDestination(s.archive) {
		return nil, fmt.Errorf("archive destination must be s3://bucket/prefix, got %q", s.archive)
	}
	return s, nil
}

// resolveCheckFiles expands manifest selections, globs and literal paths.
func resolveCheckFiles(args []string, m *manifest.Manifest, exts []string, hidden bool) ([]match.File, error) {
	if m != nil {
		matcher, err := match.New(match.Config{
			Includes:      m.Files.Includes,
			Excludes:      m.Files.Excludes,
			IncludeHidden: m.Files.IncludeHidden,
			Extensions:    exts,
		})
		if err != nil {
			return nil, err
		}
		return matcher.Expand(m.Files.Root)
	}

	var files []match.File
	seen := map[string]struct{}{}
	add := func(f match.File) {
		key := filepath.Clean(f.Path)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		files = append(files, f)
	}

	for _, arg := range args {
		if !match.IsGlobPattern(arg) {
			f, err := statFile(arg)
			if err != nil {
				return nil, err
			}
			add(f)
			continue
		}

		base, pattern := doublestar.SplitPattern(filepath.ToSlash(arg))
		matcher, err := match.New(match.Config{
			Includes:      []string{pattern},
			IncludeHidden: hidden,
			Extensions:    exts,
		})
		if err != nil {
			return nil, err
		}
		matched, err := matcher.Expand(filepath.FromSlash(base))
		if err != nil {
			return nil, err
		}
		if len(matched) == 0 {
			observability.CLILogger.Warn("Pattern matched no files", zap.String("pattern", arg))
		}
		for _, f := range matched {
			f.Rel = filepath.ToSlash(f.Path)
			add(f)
		}
	}
	return files, nil
}
