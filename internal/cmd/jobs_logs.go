package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/3leaps/plagctl/pkg/jobregistry"
)

var jobsLogsFollow bool

func init() {
	jobsLogsCmd.Flags().BoolVarP(&jobsLogsFollow, "follow", "f", false, "Keep printing until the watcher finishes")
}

func runJobsLogs(cmd *cobra.Command, args []string) error {
	stream := strings.TrimSpace(strings.ToLower(jobsLogsStream))
	if stream == "" {
		stream = "stdout"
	}
	tailN := jobsLogsTail
	if tailN < 0 {
		tailN = 0
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
	stdoutPath, stderrPath := jobLogPaths(store, rec)

	var paths []string
	switch stream {
	case "stdout":
		paths = []string{stdoutPath}
	case "stderr":
		paths = []string{stderrPath}
	case "both":
		paths = []string{stdoutPath, stderrPath}
	default:
		return exitError(exitInvalidArgument, "Invalid --stream",
			fmt.Errorf("invalid --stream %q (expected stdout, stderr, or both)", stream))
	}

	out := cmd.OutOrStdout()
	for _, p := range paths {
		if jobsLogsFollow {
			err = followLog(cmd.Context(), out, p, jobFinished(store, jobID))
		} else {
			err = printLogTail(out, p, tailN)
		}
		if errors.Is(err, os.ErrNotExist) {
			return exitError(exitFileNotFound, "No logs for job (was it started with --detach?)", err)
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return exitError(exitFileRead, "Failed to read logs", err)
		}
	}
	return nil
}

func jobFinished(store *jobregistry.Store, jobID string) func() bool {
	return func() bool {
		rec, err := store.Get(jobID)
		if err != nil {
			return true
		}
		return rec.State.Terminal() || rec.State == jobregistry.JobStateUnknown
	}
}

func printLogTail(w io.Writer, path string, tailN int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if tailN <= 0 {
		_, err := io.Copy(w, f)
		return err
	}

	lines, err := tailLines(f, tailN)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(w, line)
	}
	return nil
}

func tailLines(r io.Reader, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	scanner := bufio.NewScanner(r)
	buf := make([]string, 0, n)

	for scanner.Scan() {
		line := scanner.Text()
		if len(buf) < n {
			buf = append(buf, line)
			continue
		}
		copy(buf, buf[1:])
		buf[n-1] = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// followLog copies path to w, then keeps copying appended content until done
// reports true or ctx is cancelled.
func followLog(ctx context.Context, w io.Writer, path string, done func() bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := io.Copy(w, f); err != nil {
			return err
		}
		if done() {
			// One last drain for lines written before the watcher exited.
			_, err := io.Copy(w, f)
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
