package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/filelock"
	"github.com/cahq/orchestrator/internal/spawner"
)

// newDaemonCmd groups the long-running-process controls: a
// single runner.lock under the data root identifies "the daemon", so
// status/stop/restart work by inspecting and signaling that lock's
// recorded PID rather than tracking a separate daemon-specific pidfile.
func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Control the background runner process that drains the task queue",
	}
	cmd.AddCommand(newDaemonStartCmd(), newDaemonStopCmd(), newDaemonRestartCmd(), newDaemonStatusCmd(), newDaemonRunCmd())
	return cmd
}

// newDaemonRunCmd is the foreground drain loop: `cah daemon start` and
// internal/spawner.Spawner.SpawnTaskRunner both exec this as a detached
// subprocess ("cah daemon run [--task-id <id>]"). It repeatedly drains
// every eligible pending task until signaled to stop, so a daemon left
// running keeps picking up newly submitted tasks rather than exiting once
// the queue empties once.
func newDaemonRunCmd() *cobra.Command {
	var taskID string

	cmd := &cobra.Command{
		Use:    "run",
		Short:  "Run the queue-drain loop in the foreground (internal)",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			runner := spawner.NewRunner(a.layout, a.store, a.exec, a.log, a.cfg.Concurrency)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			preferred := taskID
			for {
				if err := runner.Run(ctx, preferred); err != nil {
					a.log.Warn("runner drain loop exited with error", zap.Error(err))
				}
				preferred = ""
				if ctx.Err() != nil {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(2 * time.Second):
				}
			}
		},
	}

	cmd.Flags().StringVar(&taskID, "task-id", "", "drain this task first (propagated by internal/spawner)")
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch a detached daemon process, unless one is already running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			if pid, alive := daemonPID(a); alive {
				return cherrors.Newf(cherrors.LockBusy, "daemon already running (pid %d)", pid)
			}
			return spawnDaemon(a)
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Send SIGTERM to the running daemon; an in-flight task is interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			pid, alive := daemonPID(a)
			if !alive {
				return cherrors.New(cherrors.NotFound, "no daemon is running")
			}
			return syscall.Kill(pid, syscall.SIGTERM)
		},
	}
}

func newDaemonRestartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Stop the running daemon (if any) and start a fresh one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			if pid, alive := daemonPID(a); alive {
				if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
					return err
				}
				for i := 0; i < 50; i++ {
					if _, stillAlive := daemonPID(a); !stillAlive {
						break
					}
					time.Sleep(100 * time.Millisecond)
				}
			}
			return spawnDaemon(a)
		},
	}
}

func newDaemonStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a daemon process is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			if pid, alive := daemonPID(a); alive {
				fmt.Fprintf(cmd.OutOrStdout(), "running (pid %d)\n", pid)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "not running")
			return nil
		},
	}
}

// daemonPID reports the PID recorded in runner.lock and whether a process
// with that PID is actually alive, the same ESRCH-vs-EPERM-safe check
// internal/orphan uses for task runners.
func daemonPID(a *app) (int, bool) {
	lock := filelock.New(a.layout.RunnerLockFile(), true)
	pid, ok := lock.Holder()
	if !ok || pid <= 0 {
		return 0, false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		return pid, true
	}
	return pid, exists
}

// spawnDaemon execs a detached "cah daemon run", matching
// internal/spawner.Spawner's Setsid/Release pattern but without a
// specific task id to drain first.
func spawnDaemon(a *app) error {
	self, err := os.Executable()
	if err != nil {
		self = "cah"
	}
	logPath := a.layout.RunnerLogFile("daemon")
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil { // #nosec G301
		return err
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) // #nosec G304,G302
	if err != nil {
		return err
	}

	cmdArgs := []string{"daemon", "run"}
	if a.cfg.DataDir != "" {
		cmdArgs = append(cmdArgs, "--data-dir", a.cfg.DataDir)
	}
	c := exec.Command(self, cmdArgs...) // #nosec G204 -- self is this process's own executable path
	c.Stdout = logFile
	c.Stderr = logFile
	c.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := c.Start(); err != nil {
		_ = logFile.Close()
		return err
	}
	_ = logFile.Close()
	return c.Process.Release()
}
