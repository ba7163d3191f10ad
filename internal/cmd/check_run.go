package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/plagctl/internal/config"
	"github.com/3leaps/plagctl/internal/observability"
	"github.com/3leaps/plagctl/pkg/api"
	"github.com/3leaps/plagctl/pkg/archive"
	"github.com/3leaps/plagctl/pkg/jobregistry"
	"github.com/3leaps/plagctl/pkg/match"
	"github.com/3leaps/plagctl/pkg/poller"
	"github.com/3leaps/plagctl/pkg/resultstore"
)

// checkEnv carries what checking and watching need.
type checkEnv struct {
	cfg      *config.Config
	client   *api.Client
	results  *resultstore.Store
	jobs     *jobregistry.Store
	executor *jobregistry.Executor
	poll     poller.Config
	sink     checkSink
	archiver *archive.Archiver
	detach   bool
}

// checkAll checks files with up to concurrency workers.
func (e *checkEnv) checkAll(ctx context.Context, files []match.File, concurrency int) *batchTally {
	if concurrency < 1 {
		concurrency = 1
	}
	tally := newBatchTally(len(files))

	work := make(chan match.File)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range work {
				rec, err := e.checkOne(ctx, f)
				tally.record(rec, err)
			}
		}()
	}

feed:
	for _, f := range files {
		select {
		case work <- f:
		case <-ctx.Done():
			break feed
		}
	}
	close(work)
	wg.Wait()
	return tally
}

// checkOne submits one file and, for queued checks, either follows the job
// or hands it to a background watcher. A detached job returns (nil, nil).
func (e *checkEnv) checkOne(ctx context.Context, f match.File) (*resultstore.Record, error) {
	name := displayName(f)

	resp, err := e.client.Check(ctx, f.Path, uploadOptions(e.cfg))
	if err != nil {
		e.sink.failed(name, err)
		return nil, err
	}
	e.sink.submitted(name, f.Size, resp)

	if !resp.Async() {
		rec, err := e.results.Save(ctx, resultstore.Record{
			Filename: filepath.Base(f.Path),
			Source:   resultstore.SourceSync,
			Result:   resp.Result,
		})
		if err != nil {
			e.sink.failed(name, err)
			return nil, err
		}
		e.archiveResult(ctx, rec)
		e.sink.result(name, rec)
		return rec, nil
	}

	jobID := resp.Job.JobID
	abs, _ := filepath.Abs(f.Path)
	if err := e.jobs.Write(&jobregistry.JobRecord{
		JobID:     jobID,
		Filename:  filepath.Base(f.Path),
		FilePath:  abs,
		BaseURL:   e.client.BaseURL(),
		State:     jobregistry.JobStateSubmitted,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		observability.CLILogger.Warn("Failed to register job", zap.String("job_id", jobID), zap.Error(err))
	}

	if e.detach {
		jr, err := e.executor.StartWatchBackground(jobID)
		if err != nil {
			err = fmt.Errorf("start background watcher for %s: %w", jobID, err)
			e.sink.failed(name, err)
			return nil, err
		}
		e.sink.detached(name, jr)
		return nil, nil
	}

	rec, err := e.watch(ctx, name, jobID)
	if err != nil {
		e.sink.failed(name, err)
		return nil, err
	}
	e.sink.result(name, rec)
	return rec, nil
}

// watch polls jobID until it settles, mirroring every state into the job
// registry, and stores the decoded result.
func (e *checkEnv) watch(ctx context.Context, name, jobID string) (*resultstore.Record, error) {
	notifier := poller.NotifierFunc(func(n poller.Notification) { e.sink.notify(name, n) })
	p := poller.New(e.client, e.poll,
		poller.WithNotifier(notifier),
		poller.WithLogger(observability.CLILogger))
	defer p.Dispose()

	unsubscribe := p.Subscribe(func(st poller.State) {
		e.sink.progress(name, st)
		if _, err := e.jobs.Update(jobID, func(r *jobregistry.JobRecord) { r.Apply(st, time.Now()) }); err != nil {
			observability.CLILogger.Debug("Failed to update job record", zap.String("job_id", jobID), zap.Error(err))
		}
	})
	defer unsubscribe()

	p.Start(ctx, jobID)
	st, err := p.Wait(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	res, err := api.DecodeCheckResult(st.Result)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	rec, err := e.results.Save(ctx, resultstore.Record{
		JobID:  jobID,
		Source: resultstore.SourceJob,
		Result: res,
	})
	if err != nil {
		return nil, err
	}
	if _, err := e.jobs.Update(jobID, func(r *jobregistry.JobRecord) { r.ResultID = rec.ID }); err != nil {
		observability.CLILogger.Debug("Failed to link result to job", zap.String("job_id", jobID), zap.Error(err))
	}
	e.archiveResult(ctx, rec)
	return rec, nil
}

// archiveResult uploads rec when an archive destination is configured.
// Failures are logged and do not fail the check.
func (e *checkEnv) archiveResult(ctx context.Context, rec *resultstore.Record) {
	if e.archiver == nil {
		return
	}
	uri, err := e.archiver.PutResult(ctx, rec)
	if err != nil {
		observability.CLILogger.Warn("Failed to archive result", zap.String("result_id", rec.ID), zap.Error(err))
		return
	}
	observability.CLILogger.Info("Archived result", zap.String("uri", uri))
}

// newArchiver builds an archiver for an s3:// destination. An empty
// destination disables archiving.
func newArchiver(ctx context.Context, dest string, cfg config.ArchiveConfig) (*archive.Archiver, error) {
	if dest == "" {
		return nil, nil
	}
	bucket, prefix, err := archive.ParseDestination(dest)
	if err != nil {
		return nil, err
	}
	return archive.New(ctx, archive.Config{
		Bucket:         bucket,
		Prefix:         prefix,
		Region:         cfg.Region,
		Endpoint:       cfg.Endpoint,
		Profile:        cfg.Profile,
		ForcePathStyle: cfg.ForcePathStyle,
	}, archive.WithLogger(observability.CLILogger))
}

func displayName(f match.File) string {
	if f.Rel != "" {
		return f.Rel
	}
	return f.Path
}

// statFile describes a literal path argument.
func statFile(path string) (match.File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return match.File{}, err
	}
	if fi.IsDir() {
		return match.File{}, errors.New(path + " is a directory (use a glob such as '" + filepath.ToSlash(filepath.Join(path, "**", "*.pdf")) + "')")
	}
	return match.File{Path: path, Rel: path, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}
