package render

import (
	"strings"
	"testing"
	"time"

	"github.com/cahq/orchestrator/internal/workflow"
)

func TestResult_StableHeadingsAndEmojiVocabulary(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	completed := time.Now()

	task := workflow.Task{Title: "ship the feature", Description: "do the thing"}
	wf := workflow.Workflow{
		Nodes: []workflow.Node{
			{ID: "start", Type: workflow.NodeStart},
			{ID: "a", Type: workflow.NodeTask, Name: "Write code"},
			{ID: "b", Type: workflow.NodeTask, Name: "Review"},
			{ID: "end", Type: workflow.NodeEnd},
		},
	}
	inst := workflow.Instance{
		Status:      workflow.InstanceCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
		NodeStates: map[string]*workflow.NodeState{
			"start": {Status: workflow.NodeStatusDone},
			"a":     {Status: workflow.NodeStatusDone, Attempts: 1},
			"b":     {Status: workflow.NodeStatusFailed, Attempts: 3, LastError: "boom"},
			"end":   {Status: workflow.NodeStatusPending},
		},
		Outputs: map[string]interface{}{"a": "A-out"},
		Error:   "node \"b\" failed: boom",
	}

	md := Result(task, wf, inst)

	for _, heading := range []string{
		"# ship the feature",
		"## Summary",
		"## Description",
		"## Node Execution",
		"## Workflow Error",
	} {
		if !strings.Contains(md, heading) {
			t.Fatalf("expected heading %q in result.md:\n%s", heading, md)
		}
	}

	if !strings.Contains(md, "### ✅ Write code") {
		t.Fatalf("expected done emoji for node a:\n%s", md)
	}
	if !strings.Contains(md, "### ❌ Review") {
		t.Fatalf("expected failed emoji for node b:\n%s", md)
	}
	if strings.Contains(md, "### ") && (strings.Contains(md, "### ✅ start") || strings.Contains(md, "### ✅ end")) {
		t.Fatalf("start/end nodes must not get Node Execution entries:\n%s", md)
	}
	if !strings.Contains(md, "Output: A-out") {
		t.Fatalf("expected node a's output rendered:\n%s", md)
	}
	if !strings.Contains(md, "Error: boom") {
		t.Fatalf("expected node b's error rendered:\n%s", md)
	}
}

func TestResult_EmojiVocabularyCoversEveryStatus(t *testing.T) {
	cases := map[workflow.NodeStatus]string{
		workflow.NodeStatusDone:    "✅",
		workflow.NodeStatusFailed:  "❌",
		workflow.NodeStatusRunning: "🔵",
		workflow.NodeStatusPending: "⏳",
		workflow.NodeStatusSkipped: "⏭️",
		workflow.NodeStatusWaiting: "👀",
	}
	for status, want := range cases {
		if got := statusEmoji(status); got != want {
			t.Fatalf("statusEmoji(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestResult_NoErrorSectionWhenInstanceHealthy(t *testing.T) {
	task := workflow.Task{Title: "t"}
	wf := workflow.Workflow{Nodes: []workflow.Node{
		{ID: "start", Type: workflow.NodeStart},
		{ID: "end", Type: workflow.NodeEnd},
	}}
	inst := workflow.Instance{Status: workflow.InstanceCompleted, NodeStates: map[string]*workflow.NodeState{}}

	md := Result(task, wf, inst)
	if strings.Contains(md, "## Workflow Error") {
		t.Fatalf("did not expect a Workflow Error section:\n%s", md)
	}
}
