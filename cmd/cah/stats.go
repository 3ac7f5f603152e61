package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <id-prefix>",
		Short: "Print a task's derived statistics (progress, duration, cost, attempts)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}
			stats := a.store.LoadStats(task.ID)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "progress:    %.0f%%\n", stats.Progress*100)
			fmt.Fprintf(out, "duration:    %dms\n", stats.TotalDurationMs)
			fmt.Fprintf(out, "cost:        $%.4f\n", stats.TotalCostUSD)
			for nodeID, attempts := range stats.NodeAttempts {
				fmt.Fprintf(out, "  %s: %d attempt(s)\n", nodeID, attempts)
			}
			return nil
		},
	}
}
