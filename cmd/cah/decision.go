package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/handlers"
	"github.com/cahq/orchestrator/internal/workflow"
)

// newCompleteCmd and newRejectCmd resolve the human node a task is
// currently waiting on and record a decision for it: the handler re-runs,
// finds the decision this command stashed under
// handlers.HumanDecisionKey, and the engine routes
// from there on the node worker pool's own next poll.
func newCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <id-prefix>",
		Short: "Approve the human node a task is currently waiting on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordHumanDecision(appFromContext(cmd.Context()), args[0], true, "")
		},
	}
}

func newRejectCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "reject <id-prefix>",
		Short: "Reject the human node a task is currently waiting on",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return recordHumanDecision(appFromContext(cmd.Context()), args[0], false, reason)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the node is being rejected")
	return cmd
}

func recordHumanDecision(a *app, prefix string, approved bool, reason string) error {
	task, err := resolveOne(a, prefix)
	if err != nil {
		return err
	}
	inst, err := a.store.LoadInstance(task.ID)
	if err != nil {
		return err
	}

	nodeID := ""
	for id, ns := range inst.NodeStates {
		if ns.Status == workflow.NodeStatusWaiting {
			nodeID = id
			break
		}
	}
	if nodeID == "" {
		return cherrors.Newf(cherrors.InvalidStateTransition, "task %s has no node waiting on human input", task.ID)
	}

	if inst.Variables == nil {
		inst.Variables = map[string]interface{}{}
	}
	inst.Variables[handlers.HumanDecisionKey(nodeID)] = handlers.NewHumanDecision(approved, reason)
	now := time.Now()
	if err := a.store.SaveInstance(task.ID, inst); err != nil {
		return err
	}

	jobID := waitingJobID(a, inst.ID, nodeID)
	if jobID == "" {
		return cherrors.Newf(cherrors.NotFound, "no queued job waiting on node %q for task %s", nodeID, task.ID)
	}
	return a.queue.Resume(jobID, now)
}

// waitingJobID finds the queued job id parked for nodeID under instance
// instID, the same job Queue.MarkWaitingHuman left in place for this
// decision to resume rather than re-enqueue.
func waitingJobID(a *app, instID, nodeID string) string {
	for _, j := range a.queue.JobsForInstance(instID) {
		if j.Data.NodeID == nodeID && j.Status == workflow.JobWaitingHuman {
			return j.ID
		}
	}
	return ""
}
