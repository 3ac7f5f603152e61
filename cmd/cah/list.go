package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/workflow"
)

func newListCmd() *cobra.Command {
	var (
		status string
		cwd    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, optionally filtered by status or cwd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			tasks, err := a.store.List()
			if err != nil {
				return err
			}

			filtered := tasks[:0]
			for _, t := range tasks {
				if status != "" && string(t.Status) != status {
					continue
				}
				if cwd != "" && t.Cwd != cwd {
					continue
				}
				filtered = append(filtered, t)
			}
			sort.Slice(filtered, func(i, j int) bool { return filtered[i].CreatedAt.Before(filtered[j].CreatedAt) })

			if format == "json" {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(filtered)
			}
			return printTaskTable(cmd, filtered)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by task status")
	cmd.Flags().StringVar(&cwd, "cwd", "", "filter by working directory")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text|json")

	return cmd
}

func printTaskTable(cmd *cobra.Command, tasks []workflow.Task) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Title)
	}
	return w.Flush()
}
