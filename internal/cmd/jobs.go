package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/jobregistry"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage queued check jobs",
	Long: `Manage check jobs queued by the backend.

Every queued check is recorded under <data_dir>/jobs/<job_id>/job.json with
its last known status, so jobs survive the terminal that submitted them.
Job ids may be abbreviated to any unique prefix.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job_id>",
	Short: "Show a recorded job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsWatchCmd = &cobra.Command{
	Use:   "watch <job_id>",
	Short: "Follow a job until it finishes",
	Long: `Poll a job's status until it completes, fails, times out or loses the
connection, then render the result.

The job does not need to be recorded locally; any backend job id works.`,
	Args: cobra.ExactArgs(1),
	RunE: runJobsWatch,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job_id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsRetryCmd = &cobra.Command{
	Use:   "retry <job_id>",
	Short: "Re-run a failed job and follow it",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRetry,
}

var jobsLogsCmd = &cobra.Command{
	Use:   "logs <job_id>",
	Short: "Show background watcher logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsLogs,
}

var jobsGCCmd = &cobra.Command{
	Use:   "gc",
	Short: "Delete finished job records",
	Args:  cobra.NoArgs,
	RunE:  runJobsGC,
}

var (
	jobsWatchManaged bool
	jobsRetryDetach  bool
	jobsLogsStream   string
	jobsLogsTail     int
	jobsGCMaxAge     string
	jobsGCDryRun     bool
)

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsWatchCmd, jobsCancelCmd, jobsRetryCmd, jobsLogsCmd, jobsGCCmd)

	jobsWatchCmd.Flags().BoolVar(&jobsWatchManaged, "_managed", false, "Run as a background watcher")
	_ = jobsWatchCmd.Flags().MarkHidden("_managed")
	jobsRetryCmd.Flags().BoolVar(&jobsRetryDetach, "detach", false, "Hand the job to a background watcher")
	jobsLogsCmd.Flags().StringVar(&jobsLogsStream, "stream", "stdout", "Log stream: stdout, stderr, or both")
	jobsLogsCmd.Flags().IntVar(&jobsLogsTail, "tail", 200, "Show last N lines (0 = all)")
	jobsGCCmd.Flags().StringVar(&jobsGCMaxAge, "max-age", "168h", "Delete finished jobs older than this duration")
	jobsGCCmd.Flags().BoolVar(&jobsGCDryRun, "dry-run", false, "Show what would be deleted")
}

func runJobsList(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}

	jobs, err := jobStore(cfg).List()
	if err != nil {
		return exitError(exitFileRead, "Failed to list jobs", err)
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		if jobs == nil {
			jobs = []jobregistry.JobRecord{}
		}
		return writeStructured(out, format, jobs)
	}
	if len(jobs) == 0 {
		_, _ = fmt.Fprintln(out, "No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()

	_, _ = fmt.Fprintln(w, "JOB ID\tFILE\tSTATE\tSTATUS\tPROGRESS\tCREATED\tENDED")
	for _, j := range jobs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			shortID(j.JobID),
			dash(j.Filename),
			j.State,
			dash(string(j.Status)),
			j.Progress,
			j.CreatedAt.UTC().Format(time.RFC3339),
			formatOptionalTime(j.EndedAt),
		)
	}
	return nil
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store := jobStore(cfg)

	jobID, err := resolveJobID(store, args[0])
	if err != nil {
		return exitError(exitFileNotFound, "Job not found", err)
	}
	rec, err := store.Get(jobID)
	if err != nil {
		return exitError(exitFileRead, "Failed to read job", err)
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		return writeStructured(out, format, rec)
	}

	_, _ = fmt.Fprintf(out, "job_id=%s\n", rec.JobID)
	_, _ = fmt.Fprintf(out, "file=%s\n", dash(rec.Filename))
	if rec.FilePath != "" {
		_, _ = fmt.Fprintf(out, "file_path=%s\n", rec.FilePath)
	}
	_, _ = fmt.Fprintf(out, "state=%s\n", rec.State)
	if rec.Status != "" {
		_, _ = fmt.Fprintf(out, "status=%s\n", rec.Status)
	}
	_, _ = fmt.Fprintf(out, "progress=%.0f\n", rec.Progress)
	if rec.Error != "" {
		_, _ = fmt.Fprintf(out, "error=%s\n", rec.Error)
	}
	if rec.ResultID != "" {
		_, _ = fmt.Fprintf(out, "result_id=%s\n", rec.ResultID)
	}
	if rec.PID > 0 {
		_, _ = fmt.Fprintf(out, "pid=%d\n", rec.PID)
	}
	_, _ = fmt.Fprintf(out, "created_at=%s\n", rec.CreatedAt.UTC().Format(time.RFC3339))
	if rec.StartedAt != nil {
		_, _ = fmt.Fprintf(out, "started_at=%s\n", formatOptionalTime(rec.StartedAt))
	}
	if rec.EndedAt != nil {
		_, _ = fmt.Fprintf(out, "ended_at=%s\n", formatOptionalTime(rec.EndedAt))
	}
	return nil
}

func runJobsWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	format := formatJSONL
	if jobsWatchManaged {
		observability.InitStructuredLogger("plagctl-watch")
	} else {
		var err error
		if format, err = outputFormat(formatText, formatJSON, formatYAML, formatJSONL); err != nil {
			return err
		}
	}

	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store := jobStore(cfg)

	jobID, rec, err := ensureJobRecord(store, args[0])
	if err != nil {
		return exitError(exitFileWrite, "Failed to record job", err)
	}
	if rec.State.Terminal() && rec.ResultID != "" && !jobsWatchManaged {
		observability.CLILogger.Info("Job already finished", zap.String("job_id", jobID), zap.String("result_id", rec.ResultID))
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

	archiver, err := newArchiver(ctx, cfg.Archive.Destination, cfg.Archive)
	if err != nil {
		observability.CLILogger.Warn("Archive disabled", zap.Error(err))
		archiver = nil
	}

	env := &checkEnv{
		cfg:      cfg,
		client:   client,
		results:  results,
		jobs:     store,
		poll:     cfg.Poll.PollerConfig(),
		sink:     newCheckSink(format, cmd.OutOrStdout(), client.BaseURL()),
		archiver: archiver,
	}

	name := dash(rec.Filename)
	bindJob(env.sink, name, jobID)
	tally := newBatchTally(1)
	res, err := env.watch(ctx, name, jobID)
	if err != nil {
		env.sink.failed(name, err)
	} else {
		env.sink.result(name, res)
	}
	tally.record(res, err)
	if format != formatText {
		env.sink.summary(tally.summary())
	}

	if err != nil {
		return apiExit("Job did not complete", err)
	}
	return nil
}

// ensureJobRecord resolves input against the registry, recording an unknown
// backend job id on first sight.
func ensureJobRecord(store *jobregistry.Store, input string) (string, *jobregistry.JobRecord, error) {
	if id, err := resolveJobID(store, input); err == nil {
		rec, err := store.Get(id)
		return id, rec, err
	}

	rec := &jobregistry.JobRecord{
		JobID:     strings.TrimSpace(input),
		State:     jobregistry.JobStateSubmitted,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.Write(rec); err != nil {
		return "", nil, err
	}
	return rec.JobID, rec, nil
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	if err := requireWritable("cancel jobs"); err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store := jobStore(cfg)
	jobID := backendJobID(store, args[0])

	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	if err := client.CancelJob(ctx, jobID); err != nil {
		return apiExit("Failed to cancel job", err)
	}

	now := time.Now().UTC()
	if _, err := store.Update(jobID, func(r *jobregistry.JobRecord) {
		r.State = jobregistry.JobStateCancelled
		r.EndedAt = &now
	}); err != nil && !errors.Is(err, jobregistry.ErrNotFound) {
		observability.CLILogger.Warn("Failed to update job record", zap.String("job_id", jobID), zap.Error(err))
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %s\n", jobID)
	return nil
}

func runJobsRetry(cmd *cobra.Command, args []string) error {
	if err := requireWritable("retry jobs"); err != nil {
		return err
	}
	ctx := cmd.Context()
	cfg, err := currentConfig(ctx)
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store := jobStore(cfg)
	jobID := backendJobID(store, args[0])

	// A client-side halt leaves the backend job untouched: polling resumes
	// on the same id without asking the backend to requeue it.
	if prev, err := store.Get(jobID); err != nil || !prev.State.ClientHalted() {
		if jobID, err = requeueJob(ctx, store, jobID); err != nil {
			return err
		}
	} else {
		observability.CLILogger.Info("Resuming polling", zap.String("job_id", jobID), zap.String("state", string(prev.State)))
	}

	if _, err := store.Update(jobID, resetForRetry); err != nil {
		if !errors.Is(err, jobregistry.ErrNotFound) {
			return exitError(exitFileWrite, "Failed to update job record", err)
		}
		if _, _, err := ensureJobRecord(store, jobID); err != nil {
			return exitError(exitFileWrite, "Failed to record job", err)
		}
	}

	if jobsRetryDetach {
		rec, err := jobregistry.NewExecutor(jobsRootDir(cfg)).StartWatchBackground(jobID)
		if err != nil {
			return exitError(exitFileWrite, "Failed to start background watcher", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Retrying job %s in background (pid %d)\n", jobID, rec.PID)
		return nil
	}
	return runJobsWatch(cmd, []string{jobID})
}

// requeueJob asks the backend to run jobID again and returns the id to poll,
// recording a new registry entry when the backend assigns one.
func requeueJob(ctx context.Context, store *jobregistry.Store, jobID string) (string, error) {
	client, err := newClient(ctx)
	if err != nil {
		return "", err
	}
	accepted, err := client.RetryJob(ctx, jobID)
	if err != nil {
		return "", apiExit("Failed to retry job", err)
	}
	if accepted.JobID != "" && accepted.JobID != jobID {
		observability.CLILogger.Info("Backend assigned a new job id", zap.String("previous", jobID), zap.String("job_id", accepted.JobID))
		prev, _ := store.Get(jobID)
		next := &jobregistry.JobRecord{JobID: accepted.JobID, BaseURL: client.BaseURL(), CreatedAt: time.Now().UTC()}
		if prev != nil {
			next.Filename = prev.Filename
			next.FilePath = prev.FilePath
		}
		jobID = accepted.JobID
		if err := store.Write(next); err != nil {
			return "", exitError(exitFileWrite, "Failed to record job", err)
		}
	}

	return jobID, nil
}

func resetForRetry(r *jobregistry.JobRecord) {
	r.State = jobregistry.JobStateSubmitted
	r.Status = ""
	r.Progress = 0
	r.Error = ""
	r.ResultID = ""
	r.Attempts = 0
	r.StartedAt = nil
	r.EndedAt = nil
}

// backendJobID expands a registry prefix, falling back to the input as a
// raw backend id.
func backendJobID(store *jobregistry.Store, input string) string {
	if id, err := resolveJobID(store, input); err == nil {
		return id
	}
	return strings.TrimSpace(input)
}

func resolveJobID(store *jobregistry.Store, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("job_id is required")
	}

	if _, err := store.Get(input); err == nil {
		return input, nil
	}

	// Prefix match allows the short ids shown by `jobs list`.
	jobs, err := store.List()
	if err != nil {
		return "", err
	}
	matches := make([]string, 0, 2)
	for _, j := range jobs {
		if strings.HasPrefix(j.JobID, input) {
			matches = append(matches, j.JobID)
		}
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("job not found: %s", input)
	}
	if len(matches) > 1 {
		return "", fmt.Errorf("job id prefix is ambiguous (%d matches); use the full job_id", len(matches))
	}
	return matches[0], nil
}

type jobsGCResult struct {
	Deleted     []string `json:"deleted" yaml:"deleted"`
	WouldDelete []string `json:"would_delete,omitempty" yaml:"would_delete,omitempty"`
	DryRun      bool     `json:"dry_run" yaml:"dry_run"`
	MaxAge      string   `json:"max_age" yaml:"max_age"`
}

func runJobsGC(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat()
	if err != nil {
		return err
	}
	maxAge, err := time.ParseDuration(strings.TrimSpace(jobsGCMaxAge))
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid --max-age", err)
	}
	if maxAge <= 0 {
		return exitError(exitInvalidArgument, "Invalid --max-age", fmt.Errorf("--max-age must be > 0"))
	}

	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return exitError(exitInvalidArgument, "Invalid configuration", err)
	}
	store := jobStore(cfg)
	cutoff := time.Now().UTC().Add(-maxAge)

	res := jobsGCResult{DryRun: jobsGCDryRun, MaxAge: maxAge.String(), Deleted: []string{}}
	if jobsGCDryRun {
		jobs, err := store.List()
		if err != nil {
			return exitError(exitFileRead, "Failed to list jobs", err)
		}
		for _, j := range jobs {
			if gcEligible(j, cutoff) {
				res.WouldDelete = append(res.WouldDelete, j.JobID)
			}
		}
	} else {
		removed, err := store.GC(cutoff)
		if err != nil {
			return exitError(exitFileWrite, "Failed to delete jobs", err)
		}
		res.Deleted = append(res.Deleted, removed...)
	}

	out := cmd.OutOrStdout()
	if format != formatText {
		return writeStructured(out, format, res)
	}
	if jobsGCDryRun {
		_, _ = fmt.Fprintf(out, "would_delete=%d\n", len(res.WouldDelete))
		return nil
	}
	_, _ = fmt.Fprintf(out, "deleted=%d\n", len(res.Deleted))
	return nil
}

// gcEligible mirrors Store.GC selection.
func gcEligible(j jobregistry.JobRecord, cutoff time.Time) bool {
	if !j.State.Terminal() && j.State != jobregistry.JobStateUnknown {
		return false
	}
	ended := j.CreatedAt
	if j.EndedAt != nil {
		ended = *j.EndedAt
	}
	return ended.Before(cutoff)
}

func jobLogPaths(store *jobregistry.Store, rec *jobregistry.JobRecord) (string, string) {
	stdout, stderr := rec.StdoutPath, rec.StderrPath
	if stdout == "" {
		stdout = filepath.Join(store.JobDir(rec.JobID), "stdout.log")
	}
	if stderr == "" {
		stderr = filepath.Join(store.JobDir(rec.JobID), "stderr.log")
	}
	return stdout, stderr
}
