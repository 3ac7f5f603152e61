package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/workflow"
)

func newMsgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "msg <id-prefix> <text>",
		Short: "Inject a message a running task's next task node drains into its prompt",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}

			return a.store.AppendMessage(task.ID, workflow.TaskMessage{
				ID:        uuid.NewString(),
				TaskID:    task.ID,
				Content:   args[1],
				Source:    workflow.MessageCLI,
				Timestamp: time.Now(),
			})
		},
	}
}
