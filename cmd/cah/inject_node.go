package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/engine"
	"github.com/cahq/orchestrator/internal/workflow"
)

func newInjectNodeCmd() *cobra.Command {
	var (
		persona string
		anchor  string
	)

	cmd := &cobra.Command{
		Use:   "inject-node <id-prefix> <prompt>",
		Short: "Splice a new task node into a live workflow, immediately after --anchor",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			task, err := resolveOne(a, args[0])
			if err != nil {
				return err
			}

			wf, err := a.store.LoadWorkflow(task.ID)
			if err != nil {
				return err
			}
			inst, err := a.store.LoadInstance(task.ID)
			if err != nil {
				return err
			}

			anchorID := anchor
			if anchorID == "" {
				anchorID = wf.StartNode()
			}

			newNode := workflow.Node{
				ID:   "injected-" + time.Now().Format("20060102150405"),
				Type: workflow.NodeTask,
				Name: "injected task",
				Config: &workflow.NodeConfig{
					Prompt:  args[1],
					Persona: persona,
				},
			}

			if err := engine.InjectNodeAfter(&wf, &inst, anchorID, newNode); err != nil {
				return err
			}

			if err := a.store.SaveWorkflow(task.ID, wf); err != nil {
				return err
			}
			if err := a.store.SaveInstance(task.ID, inst); err != nil {
				return err
			}

			if inst.NodeStates[newNode.ID].Status == workflow.NodeStatusReady {
				now := time.Now()
				return a.queue.Enqueue(workflow.Job{
					Data: workflow.JobData{TaskID: task.ID, InstanceID: inst.ID, NodeID: newNode.ID},
				}, now)
			}

			cmd.Println(newNode.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&persona, "persona", "", "persona/system prompt for the injected task node")
	cmd.Flags().StringVar(&anchor, "anchor", "", "node id to splice the new node after (default: the start node)")
	return cmd
}
