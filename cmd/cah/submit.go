package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/workflow"
)

func newSubmitCmd() *cobra.Command {
	var (
		priority   string
		assignee   string
		backend    string
		model      string
		cwd        string
		cron       string
		foreground bool
		noRun      bool
	)

	cmd := &cobra.Command{
		Use:   "submit <description>",
		Short: "Create a task and, unless --no-run, start driving it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			now := time.Now()

			prio := workflow.Priority(strings.ToLower(priority))
			switch prio {
			case workflow.PriorityLow, workflow.PriorityMedium, workflow.PriorityHigh:
			case "":
				prio = workflow.PriorityMedium
			default:
				return cherrors.Newf(cherrors.Usage, "invalid --priority %q (want low|medium|high)", priority)
			}

			task, err := a.store.Create(workflow.Task{
				Title:       firstLine(strings.Join(args, " ")),
				Description: strings.Join(args, " "),
				Priority:    prio,
				Status:      workflow.TaskPending,
				Cwd:         cwd,
				Assignee:    assignee,
				Backend:     backend,
				Model:       model,
				Cron:        cron,
				Source:      workflow.SourceUser,
			}, now)
			if err != nil {
				return err
			}

			cmd.Println(task.ID)

			if noRun {
				return nil
			}

			if foreground {
				_, runErr := a.exec.Execute(context.Background(), task, executeOptionsFor(a))
				return runErr
			}

			return a.spawn.SpawnTaskRunner(task.ID)
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "medium", "task priority: low|medium|high")
	cmd.Flags().StringVar(&assignee, "assignee", "", "agent/user this task is assigned to")
	cmd.Flags().StringVar(&backend, "backend", "", "BackendAdapter name override for task nodes")
	cmd.Flags().StringVar(&model, "model", "", "model name override for task nodes")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory tasks in this cwd serialize against")
	cmd.Flags().StringVar(&cron, "cron", "", "cron schedule for a recurring task")
	cmd.Flags().BoolVarP(&foreground, "foreground", "F", false, "run inline instead of spawning a detached runner")
	cmd.Flags().BoolVar(&noRun, "no-run", false, "create the task without starting a runner")

	return cmd
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		return s[:80]
	}
	return s
}

func resolveOne(a *app, prefix string) (workflow.Task, error) {
	if prefix == "" {
		return workflow.Task{}, cherrors.New(cherrors.Usage, "task id or prefix required")
	}
	return a.store.Resolve(prefix)
}

func printErrLine(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}
