package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/state"
	"github.com/cahq/orchestrator/internal/workflow"
)

func newPauseCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "pause <id-prefix>",
		Short: "Pause a running task; its instance stops dispatching new node work",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}
			if task.Status != workflow.TaskPlanning && task.Status != workflow.TaskDeveloping && task.Status != workflow.TaskReviewing {
				return cherrors.Newf(cherrors.InvalidStateTransition, "task %s is %s, not pausable", task.ID, task.Status)
			}

			now := time.Now()
			inst, err := a.store.LoadInstance(task.ID)
			if err != nil {
				return err
			}
			state.UpdateInstanceStatus(&inst, workflow.InstancePaused, now)
			if err := a.store.SaveInstance(task.ID, inst); err != nil {
				return err
			}

			task.Status = workflow.TaskPaused
			task.PausedAt = &now
			task.PauseReason = reason
			task.UpdatedAt = now
			return a.store.Update(task, now)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "why this task is being paused")
	return cmd
}

func newResumeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "resume [id-prefix]",
		Short: "Resume one paused task, or every paused task with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())

			if all {
				tasks, err := a.store.List()
				if err != nil {
					return err
				}
				for _, t := range tasks {
					if t.Status == workflow.TaskPaused {
						if err := resumeTask(a, t); err != nil {
							printErrLine(cmd, "resume %s: %v", t.ID, err)
						}
					}
				}
				return nil
			}

			if len(args) != 1 {
				return cherrors.New(cherrors.Usage, "resume requires <id-prefix> or --all")
			}
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}
			return resumeTask(a, task)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "resume every paused task")
	return cmd
}

// resumeTask un-pauses taskID's instance and task record, then re-spawns
// a runner for it. If the original runner is still alive and merely
// idling on the paused instance status, the spawned `daemon run` cannot
// acquire runner.lock and keeps retrying every 2 seconds until the live
// runner releases it; meanwhile the live runner's worker pool picks the
// work back up on its own once the instance is no longer paused. If the original runner died, the new spawn's Resume path in
// internal/spawner reconstructs the instance's ready nodes and continues.
func resumeTask(a *app, task workflow.Task) error {
	if task.Status != workflow.TaskPaused {
		return cherrors.Newf(cherrors.InvalidStateTransition, "task %s is %s, not paused", task.ID, task.Status)
	}

	now := time.Now()
	inst, err := a.store.LoadInstance(task.ID)
	if err != nil {
		return err
	}
	state.UpdateInstanceStatus(&inst, workflow.InstanceRunning, now)
	if err := a.store.SaveInstance(task.ID, inst); err != nil {
		return err
	}

	task.Status = workflow.TaskDeveloping
	task.PausedAt = nil
	task.PauseReason = ""
	task.UpdatedAt = now
	if err := a.store.Update(task, now); err != nil {
		return err
	}

	return a.spawn.SpawnTaskRunner(task.ID)
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id-prefix>",
		Short: "Cancel a task and its in-flight workflow instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}
			if task.Status.IsTerminal() {
				return cherrors.Newf(cherrors.InvalidStateTransition, "task %s is already %s", task.ID, task.Status)
			}

			now := time.Now()
			if inst, err := a.store.LoadInstance(task.ID); err == nil {
				state.UpdateInstanceStatus(&inst, workflow.InstanceCancelled, now)
				_ = a.store.SaveInstance(task.ID, inst)
				_ = a.queue.RemoveInstanceJobs(inst.ID)
			}

			task.Status = workflow.TaskCancelled
			task.UpdatedAt = now
			return a.store.Update(task, now)
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id-prefix>",
		Short: "Delete a task's folder entirely",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}
			return a.store.Delete(task.ID)
		},
	}
}
