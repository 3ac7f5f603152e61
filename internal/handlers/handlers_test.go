package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/cond"
	"github.com/cahq/orchestrator/internal/engine"
	"github.com/cahq/orchestrator/internal/workflow"
)

type fakeMessageStore struct {
	msgs []workflow.TaskMessage
}

func (s *fakeMessageStore) Messages(taskID string) []workflow.TaskMessage {
	return s.msgs
}

func (s *fakeMessageStore) MarkMessagesConsumed(taskID string, upTo time.Time) error {
	for i := range s.msgs {
		s.msgs[i].Consumed = true
	}
	return nil
}

func newHctx(t *testing.T, node workflow.Node, vars map[string]interface{}) engine.HandlerContext {
	t.Helper()
	eval, err := cond.New()
	if err != nil {
		t.Fatal(err)
	}
	inst := &workflow.Instance{
		ID:         "i1",
		NodeStates: map[string]*workflow.NodeState{node.ID: {Status: workflow.NodeStatusRunning, Attempts: 1}},
		Variables:  vars,
		Outputs:    map[string]interface{}{},
	}
	return engine.HandlerContext{
		Ctx:      context.Background(),
		Workflow: &workflow.Workflow{},
		Instance: inst,
		Node:     node,
		Job:      workflow.Job{Data: workflow.JobData{TaskID: "task-1", NodeID: node.ID}},
		Eval:     eval,
	}
}

func TestConditionHandler_EvaluatesExpression(t *testing.T) {
	node := workflow.Node{ID: "c", Type: workflow.NodeCondition, Config: &workflow.NodeConfig{Expression: "vars.x == 1"}}
	hctx := newHctx(t, node, map[string]interface{}{"x": int64(1)})

	h := &ConditionHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != true {
		t.Fatalf("expected true, got %v", res.Output)
	}
}

func TestConditionHandler_MissingExpressionIsConfigError(t *testing.T) {
	node := workflow.Node{ID: "c", Type: workflow.NodeCondition}
	hctx := newHctx(t, node, nil)

	h := &ConditionHandler{}
	if _, err := h.Execute(hctx); err == nil {
		t.Fatal("expected config error")
	}
}

func TestSwitchHandler_PicksFirstMatch(t *testing.T) {
	node := workflow.Node{ID: "s", Type: workflow.NodeSwitch, Config: &workflow.NodeConfig{
		Cases: []workflow.SwitchCase{
			{Value: "vars.x == 1", TargetNode: "one"},
			{Default: true, TargetNode: "other"},
		},
	}}
	hctx := newHctx(t, node, map[string]interface{}{"x": int64(1)})

	h := &SwitchHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RouteOverride != "one" {
		t.Fatalf("expected route to 'one', got %q", res.RouteOverride)
	}
}

func TestSwitchHandler_FallsBackToDefault(t *testing.T) {
	node := workflow.Node{ID: "s", Type: workflow.NodeSwitch, Config: &workflow.NodeConfig{
		Cases: []workflow.SwitchCase{
			{Value: "vars.x == 1", TargetNode: "one"},
			{Default: true, TargetNode: "other"},
		},
	}}
	hctx := newHctx(t, node, map[string]interface{}{"x": int64(2)})

	h := &SwitchHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RouteOverride != "other" {
		t.Fatalf("expected route to 'other', got %q", res.RouteOverride)
	}
}

func TestAssignHandler_SetsDottedPath(t *testing.T) {
	node := workflow.Node{ID: "a", Type: workflow.NodeAssign, Config: &workflow.NodeConfig{
		Assignments: []workflow.Assignment{
			{Variable: "config.retries", Value: int64(5)},
		},
	}}
	hctx := newHctx(t, node, map[string]interface{}{"config": map[string]interface{}{"timeout": 30}})

	h := &AssignHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	cfg, ok := res.VariableUpdates["config"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected nested config map, got %#v", res.VariableUpdates["config"])
	}
	if cfg["retries"] != int64(5) {
		t.Fatalf("expected retries=5, got %v", cfg["retries"])
	}
	if cfg["timeout"] != 30 {
		t.Fatalf("expected sibling key preserved, got %v", cfg["timeout"])
	}
}

func TestAssignHandler_EvaluatesExpression(t *testing.T) {
	node := workflow.Node{ID: "a", Type: workflow.NodeAssign, Config: &workflow.NodeConfig{
		Assignments: []workflow.Assignment{
			{Variable: "y", Expression: "vars.x + 1", IsExpression: true},
		},
	}}
	hctx := newHctx(t, node, map[string]interface{}{"x": int64(1)})

	h := &AssignHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.VariableUpdates["y"] != int64(2) {
		t.Fatalf("expected y=2, got %v", res.VariableUpdates["y"])
	}
}

func TestScriptHandler_ExpressionWithOutputVar(t *testing.T) {
	node := workflow.Node{ID: "sc", Type: workflow.NodeScript, Config: &workflow.NodeConfig{
		Expression: "vars.x * 2",
		OutputVar:  "doubled",
	}}
	hctx := newHctx(t, node, map[string]interface{}{"x": int64(3)})

	h := &ScriptHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != int64(6) {
		t.Fatalf("expected output=6, got %v", res.Output)
	}
	if res.VariableUpdates["doubled"] != int64(6) {
		t.Fatalf("expected doubled=6, got %v", res.VariableUpdates["doubled"])
	}
}

func TestLoopHandler_WhileStopsWhenConditionFalse(t *testing.T) {
	node := workflow.Node{ID: "l", Type: workflow.NodeLoop, Config: &workflow.NodeConfig{
		LoopType:  "while",
		Condition: "vars.keepGoing == true",
	}}
	hctx := newHctx(t, node, map[string]interface{}{"keepGoing": false})

	h := &LoopHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != false {
		t.Fatalf("expected loop to stop, got %v", res.Output)
	}
}

func TestLoopHandler_ForAdvancesCounter(t *testing.T) {
	node := workflow.Node{ID: "l", Type: workflow.NodeLoop, Config: &workflow.NodeConfig{
		LoopType: "for",
		Init:     "0",
		LoopEnd:  "3",
		Step:     "1",
		LoopVar:  "i",
	}}
	hctx := newHctx(t, node, map[string]interface{}{})

	h := &LoopHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != true {
		t.Fatal("expected loop to continue on first iteration")
	}
	if res.VariableUpdates["i"] != 0.0 {
		t.Fatalf("expected i=0 on first pass, got %v", res.VariableUpdates["i"])
	}
}

func TestLoopHandler_MaxIterationsHardStops(t *testing.T) {
	node := workflow.Node{ID: "l", Type: workflow.NodeLoop, Config: &workflow.NodeConfig{
		LoopType:      "while",
		Condition:     "true",
		MaxIterations: 2,
	}}
	hctx := newHctx(t, node, map[string]interface{}{loopIterKey("l"): 2})

	h := &LoopHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != false {
		t.Fatal("expected maxIterations to force stop")
	}
}

func TestForeachHandler_StepsThroughCollectionSequentially(t *testing.T) {
	node := workflow.Node{ID: "f", Type: workflow.NodeForeach, Config: &workflow.NodeConfig{
		Collection: "vars.items",
		ItemVar:    "item",
		IndexVar:   "idx",
	}}
	hctx := newHctx(t, node, map[string]interface{}{"items": []interface{}{"a", "b"}})

	h := &ForeachHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != true || res.VariableUpdates["item"] != "a" || res.VariableUpdates["idx"] != 0 {
		t.Fatalf("unexpected first-pass result: %+v", res)
	}

	hctx.Instance.Variables[foreachIdxKey("f")] = res.VariableUpdates[foreachIdxKey("f")]
	res2, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res2.VariableUpdates["item"] != "b" {
		t.Fatalf("expected second item 'b', got %v", res2.VariableUpdates["item"])
	}

	hctx.Instance.Variables[foreachIdxKey("f")] = res2.VariableUpdates[foreachIdxKey("f")]
	res3, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res3.Output != false {
		t.Fatal("expected foreach to signal exhausted collection")
	}
}

func TestForeachHandler_ParallelModeVisitsEveryItem(t *testing.T) {
	node := workflow.Node{ID: "f", Type: workflow.NodeForeach, Config: &workflow.NodeConfig{
		Collection:  "vars.items",
		ItemVar:     "item",
		Mode:        "parallel",
		MaxParallel: 3,
	}}
	hctx := newHctx(t, node, map[string]interface{}{"items": []interface{}{"a", "b", "c", "d"}})

	h := &ForeachHandler{}
	var seen []interface{}
	for {
		res, err := h.Execute(hctx)
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if res.Output == false {
			break
		}
		seen = append(seen, res.VariableUpdates["item"])
		hctx.Instance.Variables[foreachIdxKey("f")] = res.VariableUpdates[foreachIdxKey("f")]
	}

	want := []interface{}{"a", "b", "c", "d"}
	if len(seen) != len(want) {
		t.Fatalf("expected every item visited, got %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("item %d: got %v, want %v", i, seen[i], want[i])
		}
	}
}

func TestHumanHandler_ParksThenResolvesFromDecision(t *testing.T) {
	node := workflow.Node{ID: "h", Type: workflow.NodeHuman}
	hctx := newHctx(t, node, map[string]interface{}{})

	h := &HumanHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.WaitingHuman {
		t.Fatal("expected first pass to wait for human input")
	}

	hctx.Instance.Variables[HumanDecisionKey("h")] = NewHumanDecision(true, "looks good")
	res2, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	decision, ok := res2.Output.(map[string]interface{})
	if !ok || decision["approved"] != true {
		t.Fatalf("expected resolved decision, got %#v", res2.Output)
	}
}

func TestDelayHandler_RequeuesOnFirstAttemptThenSucceeds(t *testing.T) {
	node := workflow.Node{ID: "d", Type: workflow.NodeDelay, Config: &workflow.NodeConfig{DelayValue: 2, DelayUnit: "seconds"}}
	hctx := newHctx(t, node, map[string]interface{}{})

	h := &DelayHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RequeueAfter != 2*time.Second {
		t.Fatalf("expected 2s requeue, got %v", res.RequeueAfter)
	}

	hctx.Instance.NodeStates["d"].Attempts = 2
	res2, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res2.RequeueAfter != 0 {
		t.Fatalf("expected no further requeue on redelivery, got %v", res2.RequeueAfter)
	}
}

func TestScheduleHandler_InvalidCronIsConfigError(t *testing.T) {
	node := workflow.Node{ID: "sch", Type: workflow.NodeSchedule, Config: &workflow.NodeConfig{Cron: "not a cron"}}
	hctx := newHctx(t, node, map[string]interface{}{})

	h := &ScheduleHandler{}
	if _, err := h.Execute(hctx); err == nil {
		t.Fatal("expected config error for invalid cron")
	}
}

func TestScheduleHandler_ValidCronRequeues(t *testing.T) {
	node := workflow.Node{ID: "sch", Type: workflow.NodeSchedule, Config: &workflow.NodeConfig{Cron: "* * * * *"}}
	hctx := newHctx(t, node, map[string]interface{}{})

	h := &ScheduleHandler{}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.RequeueAfter <= 0 || res.RequeueAfter > time.Minute {
		t.Fatalf("expected a sub-minute requeue delay, got %v", res.RequeueAfter)
	}
}

func TestTaskHandler_DrainsMessagesAndInvokesBackend(t *testing.T) {
	node := workflow.Node{ID: "t", Type: workflow.NodeTask, Config: &workflow.NodeConfig{Prompt: "do the thing"}}
	hctx := newHctx(t, node, map[string]interface{}{})

	store := &fakeMessageStore{msgs: []workflow.TaskMessage{
		{ID: "m1", TaskID: "task-1", Content: "hurry up", Source: workflow.MessageCLI},
	}}

	var capturedPrompt string
	reg := backend.NewRegistry("default")
	reg.Register("default", backend.AdapterFunc(func(_ context.Context, req backend.Request) (backend.Result, error) {
		capturedPrompt = req.Prompt
		return backend.Result{Response: "done"}, nil
	}), 0, 0)

	h := withMessageDrain{inner: &TaskHandler{Backend: reg}, store: store}
	res, err := h.Execute(hctx)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "done" {
		t.Fatalf("expected backend response as output, got %v", res.Output)
	}
	if !store.msgs[0].Consumed {
		t.Fatal("expected message to be marked consumed")
	}
	if !contains(capturedPrompt, "hurry up") {
		t.Fatalf("expected drained message woven into prompt, got %q", capturedPrompt)
	}
	if _, ok := hctx.Instance.Variables[pendingMessagesVar]; ok {
		t.Fatal("expected pending message stash cleared once prompted")
	}
}

func TestMessageDrain_NonTaskNodeStashesForNextPrompt(t *testing.T) {
	condNode := workflow.Node{ID: "c", Type: workflow.NodeCondition, Config: &workflow.NodeConfig{Expression: "true"}}
	hctx := newHctx(t, condNode, map[string]interface{}{})

	store := &fakeMessageStore{msgs: []workflow.TaskMessage{
		{ID: "m1", TaskID: "task-1", Content: "change of plan", Source: workflow.MessageCLI},
	}}

	wrapped := withMessageDrain{inner: &ConditionHandler{}, store: store}
	if _, err := wrapped.Execute(hctx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !store.msgs[0].Consumed {
		t.Fatal("expected message consumed at the condition node, not deferred to a task node")
	}
	stash, _ := hctx.Instance.Variables[pendingMessagesVar].(string)
	if !contains(stash, "change of plan") {
		t.Fatalf("expected drained text stashed for the next prompt, got %q", stash)
	}

	// The next task node on the same instance folds the stash in.
	var capturedPrompt string
	reg := backend.NewRegistry("default")
	reg.Register("default", backend.AdapterFunc(func(_ context.Context, req backend.Request) (backend.Result, error) {
		capturedPrompt = req.Prompt
		return backend.Result{Response: "done"}, nil
	}), 0, 0)
	taskNode := workflow.Node{ID: "t", Type: workflow.NodeTask, Config: &workflow.NodeConfig{Prompt: "do the thing"}}
	taskCtx := newHctx(t, taskNode, hctx.Instance.Variables)

	taskH := withMessageDrain{inner: &TaskHandler{Backend: reg}, store: store}
	if _, err := taskH.Execute(taskCtx); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !contains(capturedPrompt, "change of plan") {
		t.Fatalf("expected stashed message woven into the task prompt, got %q", capturedPrompt)
	}
}

func contains(haystack, needle string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}
