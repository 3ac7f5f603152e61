package main

import (
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <id-prefix>",
		Short: "Print a task's execution.log, optionally following new lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}
			path := a.layout.ExecutionLogFile(task.ID)

			f, err := os.Open(path) // #nosec G304
			if err != nil {
				if os.IsNotExist(err) {
					return nil // no output yet, not an error
				}
				return err
			}
			defer f.Close()

			if _, err := io.Copy(cmd.OutOrStdout(), f); err != nil {
				return err
			}
			if !follow {
				return nil
			}

			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case <-time.After(500 * time.Millisecond):
					if _, err := io.Copy(cmd.OutOrStdout(), f); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines as they're appended")
	return cmd
}
