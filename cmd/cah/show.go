package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/state"
)

func newShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show <id-prefix>",
		Short: "Show a task's full detail, including its workflow and instance state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}

			wf, wfErr := a.store.LoadWorkflow(task.ID)
			inst, instErr := a.store.LoadInstance(task.ID)

			if format == "json" {
				out := map[string]interface{}{"task": task}
				if wfErr == nil {
					out["workflow"] = wf
				}
				if instErr == nil {
					out["instance"] = inst
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:       %s\n", task.ID)
			fmt.Fprintf(out, "title:    %s\n", task.Title)
			fmt.Fprintf(out, "status:   %s\n", task.Status)
			fmt.Fprintf(out, "priority: %s\n", task.Priority)
			fmt.Fprintf(out, "cwd:      %s\n", task.Cwd)
			fmt.Fprintf(out, "backend:  %s\n", task.Backend)
			if task.Error != "" {
				fmt.Fprintf(out, "error:    %s\n", task.Error)
			}
			if instErr == nil {
				progress := state.GetWorkflowProgress(&wf, &inst)
				fmt.Fprintf(out, "instance: %s (%.0f%% complete)\n", inst.Status, progress.Fraction*100)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "text", "output format: text|json")
	return cmd
}
