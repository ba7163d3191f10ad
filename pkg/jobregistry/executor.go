package jobregistry

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// CommandFunc returns the program and arguments that watch jobID.
type CommandFunc func(jobID string) (string, []string, error)

// Executor spawns background watchers for submitted jobs.
//
// A watcher is a child process running `plagctl jobs watch <job_id>` in
// managed mode, with stdout/stderr captured to per-job log files.
type Executor struct {
	store   *Store
	command CommandFunc
}

func NewExecutor(root string) *Executor {
	return &Executor{store: NewStore(root), command: selfWatchCommand}
}

// WithCommand replaces how the watcher process is built.
func (e *Executor) WithCommand(fn CommandFunc) *Executor {
	if fn != nil {
		e.command = fn
	}
	return e
}

func (e *Executor) Store() *Store {
	return e.store
}

func (e *Executor) StdoutPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stdout.log")
}

func (e *Executor) StderrPath(jobID string) string {
	return filepath.Join(e.store.JobDir(jobID), "stderr.log")
}

func selfWatchCommand(jobID string) (string, []string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", nil, fmt.Errorf("resolve executable: %w", err)
	}
	return exe, []string{"jobs", "watch", jobID, "--_managed"}, nil
}

// StartWatchBackground spawns a watcher for a registered job and records its
// pid. It returns after the child successfully starts. A job that already
// has a live watcher is rejected.
func (e *Executor) StartWatchBackground(jobID string) (*JobRecord, error) {
	if e == nil || e.store == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}

	rec, err := e.store.Get(jobID)
	if err != nil {
		return nil, err
	}
	if rec.State.Terminal() {
		return nil, fmt.Errorf("job %s already finished (%s)", rec.JobID, rec.State)
	}
	if rec.PID > 0 && isProcessAlive(rec.PID) {
		return nil, fmt.Errorf("job %s is already watched by pid %d", rec.JobID, rec.PID)
	}

	name, args, err := e.command(rec.JobID)
	if err != nil {
		return nil, err
	}

	stdoutFile, err := os.Create(e.StdoutPath(rec.JobID))
	if err != nil {
		return nil, fmt.Errorf("create stdout log: %w", err)
	}
	defer func() { _ = stdoutFile.Close() }()
	stderrFile, err := os.Create(e.StderrPath(rec.JobID))
	if err != nil {
		return nil, fmt.Errorf("create stderr log: %w", err)
	}
	defer func() { _ = stderrFile.Close() }()

	cmd := exec.Command(name, args...)
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile
	cmd.Env = os.Environ()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start background watcher: %w", err)
	}
	// The watcher outlives this process; reap it if it exits first.
	go func() { _ = cmd.Wait() }()

	now := time.Now().UTC()
	rec.PID = cmd.Process.Pid
	rec.LastHeartbeat = &now
	rec.StdoutPath = e.StdoutPath(rec.JobID)
	rec.StderrPath = e.StderrPath(rec.JobID)
	if err := e.store.Write(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
