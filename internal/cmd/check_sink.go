package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/jobregistry"
	"github.com/3leaps/plagctl/pkg/output"
	"github.com/3leaps/plagctl/pkg/poller"
	"github.com/3leaps/plagctl/pkg/resultstore"
	"github.com/3leaps/plagctl/pkg/similarity"
)

// checkSink receives the observable steps of checking one or more files.
// Implementations must be safe for concurrent use.
type checkSink interface {
	submitted(file string, size int64, resp *api.CheckResponse)
	detached(file string, rec *jobregistry.JobRecord)
	progress(file string, st poller.State)
	notify(file string, n poller.Notification)
	result(file string, rec *resultstore.Record)
	failed(file string, err error)
	summary(s *output.SummaryRecord)
}

func newCheckSink(format string, w io.Writer, backend string) checkSink {
	switch format {
	case formatJSONL:
		return &jsonlSink{w: output.NewJSONLWriter(w, "", backend), jobs: map[string]string{}}
	case formatJSON, formatYAML:
		return &structuredSink{w: w, format: format}
	default:
		return &textSink{w: w, last: map[string]string{}}
	}
}

// textSink prints human-readable progress and result cards.
type textSink struct {
	mu   sync.Mutex
	w    io.Writer
	last map[string]string
	n    int
}

func (s *textSink) submitted(file string, size int64, resp *api.CheckResponse) {
	if resp.Async() {
		observability.CLILogger.Info("Submitted", zap.String("file", file), zap.String("job_id", resp.Job.JobID), zap.Int64("size", size))
		return
	}
	observability.CLILogger.Debug("Checked synchronously", zap.String("file", file), zap.Int64("size", size))
}

func (s *textSink) detached(file string, rec *jobregistry.JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, "%s: job %s running in background (pid %d); follow with 'plagctl jobs watch %s'\n",
		file, rec.JobID, rec.PID, shortID(rec.JobID))
}

func (s *textSink) progress(file string, st poller.State) {
	if st.Phase != poller.PhasePolling || st.Status == "" {
		return
	}
	key := fmt.Sprintf("%s %.0f", st.Status, st.Progress)
	s.mu.Lock()
	changed := s.last[file] != key
	s.last[file] = key
	s.mu.Unlock()
	if changed {
		observability.CLILogger.Info(fmt.Sprintf("%s: %s %.0f%%", file, st.Status, st.Progress),
			zap.Int("attempt", st.Attempts))
	}
}

func (s *textSink) notify(file string, n poller.Notification) {
	observability.CLILogger.Warn(fmt.Sprintf("%s: %s. %s", file, n.Title, n.Message), zap.String("job_id", n.JobID))
}

func (s *textSink) result(file string, rec *resultstore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n > 0 {
		_, _ = fmt.Fprintln(s.w)
	}
	s.n++
	renderResult(s.w, rec.Result)
	_, _ = fmt.Fprintf(s.w, "Result ID:   %s\n", rec.ID)
}

func (s *textSink) failed(file string, err error) {
	observability.CLILogger.Error("Check failed", zap.String("file", file), zap.Error(err))
}

func (s *textSink) summary(sum *output.SummaryRecord) {
	if sum.Files < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, "\nChecked %d files: %d completed, %d failed, highest level %s (%s)\n",
		sum.Files, sum.Completed, sum.Failed, dash(string(sum.HighestLevel)), sum.DurationHuman)
}

// structuredSink collects results and prints them once as JSON or YAML.
type structuredSink struct {
	mu      sync.Mutex
	w       io.Writer
	format  string
	results []*resultstore.Record
	errs    []*output.ErrorRecord
	jobs    []*jobregistry.JobRecord
}

type structuredReport struct {
	Results  []*resultstore.Record    `json:"results" yaml:"results"`
	Detached []*jobregistry.JobRecord `json:"detached,omitempty" yaml:"detached,omitempty"`
	Errors   []*output.ErrorRecord    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Summary  *output.SummaryRecord    `json:"summary" yaml:"summary"`
}

func (s *structuredSink) submitted(string, int64, *api.CheckResponse) {}
func (s *structuredSink) progress(string, poller.State)               {}
func (s *structuredSink) notify(string, poller.Notification)          {}

func (s *structuredSink) detached(_ string, rec *jobregistry.JobRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, rec)
}

func (s *structuredSink) result(_ string, rec *resultstore.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, rec)
}

func (s *structuredSink) failed(file string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, output.NewErrorRecord(err, file))
}

func (s *structuredSink) summary(sum *output.SummaryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	report := structuredReport{
		Results:  s.results,
		Detached: s.jobs,
		Errors:   s.errs,
		Summary:  sum,
	}
	if report.Results == nil {
		report.Results = []*resultstore.Record{}
	}
	if err := writeStructured(s.w, s.format, report); err != nil {
		observability.CLILogger.Error("Failed to write report", zap.Error(err))
	}
}

// jsonlSink streams typed records, one writer per job sharing the output.
type jsonlSink struct {
	mu   sync.Mutex
	w    *output.JSONLWriter
	jobs map[string]string
}

func (s *jsonlSink) writerFor(file string) *output.JSONLWriter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.ForJob(s.jobs[file])
}

func (s *jsonlSink) emit(err error) {
	if err != nil {
		observability.CLILogger.Error("Failed to write record", zap.Error(err))
	}
}

func (s *jsonlSink) submitted(file string, size int64, resp *api.CheckResponse) {
	rec := &output.CheckRecord{File: file, Mode: output.ModeSync, Size: size}
	if resp.Async() {
		rec.Mode = output.ModeAsync
		rec.JobID = resp.Job.JobID
		s.mu.Lock()
		s.jobs[file] = resp.Job.JobID
		s.mu.Unlock()
	}
	s.emit(s.writerFor(file).WriteCheck(context.Background(), rec))
}

// bindJob maps file to a job id known before submission, as when watching
// an existing job.
func bindJob(sink checkSink, file, jobID string) {
	if js, ok := sink.(*jsonlSink); ok {
		js.mu.Lock()
		js.jobs[file] = jobID
		js.mu.Unlock()
	}
}

func (s *jsonlSink) detached(string, *jobregistry.JobRecord) {}

func (s *jsonlSink) progress(file string, st poller.State) {
	if st.Phase == poller.PhaseIdle {
		return
	}
	s.emit(s.writerFor(file).WriteProgress(context.Background(), output.NewProgressRecord(st, time.Now())))
}

func (s *jsonlSink) notify(file string, n poller.Notification) {
	s.emit(s.writerFor(file).WriteNotification(context.Background(), output.NewNotificationRecord(n)))
}

func (s *jsonlSink) result(file string, rec *resultstore.Record) {
	s.emit(s.writerFor(file).WriteResult(context.Background(), output.NewResultRecord(rec.Result, rec.ID)))
}

func (s *jsonlSink) failed(file string, err error) {
	s.emit(s.writerFor(file).WriteError(context.Background(), output.NewErrorRecord(err, file)))
}

func (s *jsonlSink) summary(sum *output.SummaryRecord) {
	s.emit(s.w.WriteSummary(context.Background(), sum))
	s.emit(s.w.Close())
}

// batchTally accumulates the summary of a batch.
type batchTally struct {
	mu      sync.Mutex
	files   int
	done    int
	failed  int
	highest similarity.Level
	start   time.Time
	err     error
}

func newBatchTally(files int) *batchTally {
	return &batchTally{files: files, start: time.Now()}
}

func (t *batchTally) record(rec *resultstore.Record, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err != nil:
		t.failed++
		if t.err == nil {
			t.err = err
		}
	case rec != nil:
		t.done++
		if t.highest == "" || rec.Level.AtLeast(t.highest) {
			t.highest = rec.Level
		}
	}
}

func (t *batchTally) firstErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *batchTally) summary() *output.SummaryRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := time.Since(t.start)
	return &output.SummaryRecord{
		Files:         t.files,
		Completed:     t.done,
		Failed:        t.failed,
		HighestLevel:  t.highest,
		Duration:      d,
		DurationHuman: d.Round(time.Millisecond).String(),
	}
}
