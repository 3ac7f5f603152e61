// Package render builds outputs/result.md: a stable-heading
// Markdown summary of a task's workflow instance, meant to be both
// human-readable and parser-friendly (fixed heading text, fixed status
// emoji vocabulary).
package render

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cahq/orchestrator/internal/state"
	"github.com/cahq/orchestrator/internal/workflow"
)

// statusEmoji is the fixed status emoji vocabulary result.md renders.
func statusEmoji(s workflow.NodeStatus) string {
	switch s {
	case workflow.NodeStatusDone:
		return "✅"
	case workflow.NodeStatusFailed:
		return "❌"
	case workflow.NodeStatusRunning:
		return "🔵"
	case workflow.NodeStatusSkipped:
		return "⏭️"
	case workflow.NodeStatusWaiting:
		return "👀"
	default: // pending, ready
		return "⏳"
	}
}

// Result renders outputs/result.md for task, given its synthesized
// workflow and current instance state.
func Result(task workflow.Task, wf workflow.Workflow, inst workflow.Instance) string {
	var b strings.Builder

	title := task.Title
	if title == "" {
		title = task.Description
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	progress := state.GetWorkflowProgress(&wf, &inst)
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(&b, "- Status: %s\n", inst.Status)
	fmt.Fprintf(&b, "- Progress: %d/%d nodes (%.0f%%)\n", progress.Completed, progress.Total, progress.Fraction*100)
	fmt.Fprintf(&b, "- Duration: %s\n", duration(inst))
	fmt.Fprintf(&b, "- Cost: $%.4f\n\n", totalCost(inst))

	if task.Description != "" {
		fmt.Fprintf(&b, "## Description\n\n%s\n\n", task.Description)
	}

	b.WriteString("## Node Execution\n\n")
	for _, n := range wf.Nodes {
		if n.Type == workflow.NodeStart || n.Type == workflow.NodeEnd {
			continue
		}
		ns := inst.NodeStates[n.ID]
		if ns == nil {
			ns = &workflow.NodeState{Status: workflow.NodeStatusPending}
		}
		name := n.Name
		if name == "" {
			name = n.ID
		}
		fmt.Fprintf(&b, "### %s %s\n\n", statusEmoji(ns.Status), name)
		fmt.Fprintf(&b, "- Status: %s\n", ns.Status)
		fmt.Fprintf(&b, "- Attempts: %d\n", ns.Attempts)
		if out, ok := inst.Outputs[n.ID]; ok {
			fmt.Fprintf(&b, "- Output: %v\n", out)
		}
		if ns.LastError != "" {
			fmt.Fprintf(&b, "- Error: %s\n", ns.LastError)
		}
		b.WriteString("\n")
	}

	if inst.Error != "" {
		fmt.Fprintf(&b, "## Workflow Error\n\n%s\n", inst.Error)
	}

	return b.String()
}

func duration(inst workflow.Instance) string {
	if inst.StartedAt == nil {
		return "n/a"
	}
	end := time.Now()
	if inst.CompletedAt != nil {
		end = *inst.CompletedAt
	}
	return end.Sub(*inst.StartedAt).Round(time.Second).String()
}

func totalCost(inst workflow.Instance) float64 {
	ids := make([]string, 0, len(inst.NodeStates))
	for id := range inst.NodeStates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var total float64
	for _, id := range ids {
		total += inst.NodeStates[id].CostUSD
	}
	return total
}
