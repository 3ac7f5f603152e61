// Package spawner implements launching a detached runner subprocess,
// and the runner-side queue-drain loop that a spawned process executes,
// serialized by the same cwd across concurrently pending tasks so two
// tasks touching one working directory never run at once.
package spawner

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cahq/orchestrator/internal/executor"
	"github.com/cahq/orchestrator/internal/filelock"
	"github.com/cahq/orchestrator/internal/pathlayout"
	"github.com/cahq/orchestrator/internal/taskstore"
	"github.com/cahq/orchestrator/internal/workflow"
)

// Spawner is TaskSpawner: it launches a detached `cah` runner subprocess
// for a task, redirecting its stdout/stderr to that task's runner.out.log
// and returning immediately without waiting on the child, so the parent
// exits right away.
type Spawner struct {
	Layout    *pathlayout.Layout
	Self      string // path to this binary (os.Executable())
	ExtraArgs []string
}

// New builds a Spawner invoking self (the running binary) for every
// spawned runner.
func New(layout *pathlayout.Layout, self string, extraArgs ...string) *Spawner {
	return &Spawner{Layout: layout, Self: self, ExtraArgs: extraArgs}
}

// SpawnTaskRunner starts a detached "cah daemon run" subprocess scoped to
// taskID: a long-lived worker process launched via os/exec with Setsid
// so it survives the parent's exit.
func (s *Spawner) SpawnTaskRunner(taskID string) error {
	logPath := s.Layout.RunnerLogFile(taskID)
	if err := ensureParent(logPath); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304,G302
	if err != nil {
		return err
	}

	args := append([]string{"daemon", "run", "--task-id", taskID}, s.ExtraArgs...)
	cmd := exec.Command(s.Self, args...) // #nosec G204 -- s.Self is this process's own executable path
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return err
	}
	// The spawned process owns logFile's fd via inheritance; this
	// process's copy can be closed once Start has handed it off.
	_ = logFile.Close()
	// Release rather than Wait: a detached runner is not a child this
	// process babysits, matching "unref" semantics.
	return cmd.Process.Release()
}

func ensureParent(path string) error {
	return os.MkdirAll(parentDir(path), 0o755) // #nosec G301
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Runner drains the pending-task queue under runner.lock until no
// eligible task remains — the loop a spawned subprocess (or `cah daemon
// run`) actually executes.
type Runner struct {
	Layout   *pathlayout.Layout
	Store    *taskstore.Store
	Executor *executor.Executor
	Log      *zap.Logger
	// Concurrency is the NodeWorker pool size passed to every Execute call.
	Concurrency int
}

// NewRunner builds a Runner. log may be logging.Nop() in tests.
func NewRunner(layout *pathlayout.Layout, store *taskstore.Store, exec *executor.Executor, log *zap.Logger, concurrency int) *Runner {
	return &Runner{Layout: layout, Store: store, Executor: exec, Log: log, Concurrency: concurrency}
}

// Run acquires runner.lock once and drains every eligible pending task
// (one at a time, by cwd-exclusion) until none remain, then releases the
// lock. It installs SIGINT/SIGTERM handling so the lock is always
// released even if the process is asked to stop mid-drain.
func (r *Runner) Run(ctx context.Context, preferredTaskID string) error {
	lock := filelock.New(r.Layout.RunnerLockFile(), true)
	if err := lock.Acquire(); err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if preferredTaskID != "" {
		if err := r.runOne(sigCtx, preferredTaskID); err != nil {
			r.Log.Warn("preferred task execution failed", zap.String("taskId", preferredTaskID), zap.Error(err))
		}
	}

	for {
		if sigCtx.Err() != nil {
			return sigCtx.Err()
		}
		taskID, ok, err := r.pickNext()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := r.runOne(sigCtx, taskID); err != nil {
			r.Log.Warn("task execution failed", zap.String("taskId", taskID), zap.Error(err))
		}
	}
}

// pickNext implements same-project serialization: the first pending
// task whose cwd is not already in use by a running task.
func (r *Runner) pickNext() (string, bool, error) {
	tasks, err := r.Store.List()
	if err != nil {
		return "", false, err
	}

	running := map[string]bool{}
	for _, t := range tasks {
		if t.Status == workflow.TaskDeveloping || t.Status == workflow.TaskReviewing {
			running[t.Cwd] = true
		}
	}

	for _, t := range tasks {
		if t.Status != workflow.TaskPending {
			continue
		}
		if t.Cwd != "" && running[t.Cwd] {
			continue
		}
		return t.ID, true, nil
	}
	return "", false, nil
}

// runOne executes task, running a heartbeat ticker alongside it in a
// second goroutine (golang.org/x/sync/errgroup) so process.json's
// lastHeartbeat keeps advancing for as long as execution runs. Orphan
// detection in internal/orphan does not read it; it judges a runner dead
// by its PID alone.
func (r *Runner) runOne(ctx context.Context, taskID string) error {
	task, err := r.Store.Get(taskID)
	if err != nil {
		return err
	}
	_ = r.Store.SaveProcess(taskID, workflow.ProcessInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Status:    workflow.ProcessRunning,
	})

	resume := false
	if _, err := os.Stat(r.Layout.InstanceFile(taskID)); err == nil {
		resume = true
	}

	g, gctx := errgroup.WithContext(ctx)
	execDone := make(chan struct{})

	g.Go(func() error {
		defer close(execDone)
		_, execErr := r.Executor.Execute(gctx, task, executorOptions(r.Concurrency, resume))
		return execErr
	})
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-execDone:
				return nil
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				_ = r.Store.Heartbeat(taskID, time.Now())
			}
		}
	})

	return g.Wait()
}

func executorOptions(concurrency int, resume bool) executor.Options {
	return executor.Options{Concurrency: concurrency, Resume: resume}
}
