// Package orphan implements orphan recovery: on every
// CLI invocation and daemon start, scan tasks whose status implies a
// runner should be actively driving them, and re-spawn a runner for any
// whose recorded process has died.
package orphan

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/cahq/orchestrator/internal/taskstore"
	"github.com/cahq/orchestrator/internal/workflow"
)

// runningStatuses are the task states a live runner is expected to be
// driving — a task in any other status either hasn't started yet or has
// already finished, so it is never a candidate for orphan recovery.
var runningStatuses = map[workflow.TaskStatus]bool{
	workflow.TaskPlanning:   true,
	workflow.TaskDeveloping: true,
	workflow.TaskReviewing:  true,
}

// Respawner re-launches a runner for an orphaned task. Implemented by
// *spawner.Spawner; declared locally so orphan doesn't import spawner
// just for this one method (spawner already imports executor/taskstore,
// and orphan must stay free of that cycle risk).
type Respawner interface {
	SpawnTaskRunner(taskID string) error
}

// Recovery is OrphanRecovery.
type Recovery struct {
	Store    *taskstore.Store
	Spawner  Respawner
	Log      *zap.Logger
	sf       singleflight.Group
}

// New builds a Recovery. log may be logging.Nop() in tests.
func New(store *taskstore.Store, sp Respawner, log *zap.Logger) *Recovery {
	return &Recovery{Store: store, Spawner: sp, Log: log}
}

// Scan determines, for every task in a running status, whether its
// recorded PID is actually alive. Tasks with no process.json at all are
// left alone — deliberately conservative, since the runner writes that
// file only at pickup time, and a task between `pending` and its first
// pickup is not yet an orphan, just not started.
func (r *Recovery) Scan(ctx context.Context) ([]string, error) {
	tasks, err := r.Store.List()
	if err != nil {
		return nil, err
	}

	var recovered []string
	for _, t := range tasks {
		if !runningStatuses[t.Status] {
			continue
		}
		info, ok := r.Store.LoadProcess(t.ID)
		if !ok {
			continue
		}
		if r.isAlive(info.PID) {
			continue
		}
		if err := r.recover(t.ID); err != nil {
			r.Log.Warn("orphan recovery failed", zap.String("taskId", t.ID), zap.Error(err))
			continue
		}
		recovered = append(recovered, t.ID)
	}
	return recovered, nil
}

// isAlive distinguishes a dead PID (process gone — ESRCH) from one that
// exists but belongs to someone else (EPERM) using gopsutil's portable
// process inspection rather than raw signal(0) syscalls, since PID reuse
// and permission errors both need to resolve to "the process exists" for
// this check, not just "kill(pid, 0) succeeded."
func (r *Recovery) isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil {
		// An inspection error (commonly EPERM on a foreign process) means
		// the PID belongs to something, just not something we can
		// introspect — treat as alive rather than risk a false orphan.
		return true
	}
	return exists
}

// recover re-spawns taskID's runner, deduplicating concurrent recovery
// attempts for the same task via singleflight — `cah list` and a daemon
// tick can both trigger a scan at nearly the same moment, and only one
// of them should actually fork a new runner process.
func (r *Recovery) recover(taskID string) error {
	_, err, _ := r.sf.Do(taskID, func() (interface{}, error) {
		r.Log.Warn("recovering orphaned task", zap.String("taskId", taskID))
		return nil, r.Spawner.SpawnTaskRunner(taskID)
	})
	return err
}

// Notice renders the user-visible message to print when recovery
// happens, for CLI commands to show after a Scan.
func Notice(recoveredTaskIDs []string) string {
	if len(recoveredTaskIDs) == 0 {
		return ""
	}
	msg := fmt.Sprintf("recovered %d orphaned task(s):", len(recoveredTaskIDs))
	for _, id := range recoveredTaskIDs {
		msg += "\n  - " + id
	}
	return msg
}
