package workflow

import "testing"

func validWorkflow() *Workflow {
	return &Workflow{
		ID: "wf-1",
		Nodes: []Node{
			{ID: "start", Type: NodeStart},
			{ID: "task1", Type: NodeTask},
			{ID: "end", Type: NodeEnd},
		},
		Edges: []Edge{
			{ID: "e1", From: "start", To: "task1"},
			{ID: "e2", From: "task1", To: "end"},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	wf := validWorkflow()
	if err := wf.Validate(); err != nil {
		t.Fatalf("expected valid workflow, got %v", err)
	}
}

func TestValidate_MissingStart(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes[0].Type = NodeTask
	if err := wf.Validate(); err == nil {
		t.Fatal("expected violation for missing start node")
	}
}

func TestValidate_MultipleEnds(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, Node{ID: "end2", Type: NodeEnd})
	if err := wf.Validate(); err == nil {
		t.Fatal("expected violation for multiple end nodes")
	}
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, Node{ID: "task1", Type: NodeTask})
	errs := wf.CollectViolations()
	found := false
	for _, e := range errs {
		if e.Kind.ExitCode() == 2 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a GraphInvariantViolation for duplicate node id")
	}
}

func TestValidate_DanglingEdge(t *testing.T) {
	wf := validWorkflow()
	wf.Edges = append(wf.Edges, Edge{ID: "e3", From: "task1", To: "ghost"})
	if err := wf.Validate(); err == nil {
		t.Fatal("expected violation for dangling edge target")
	}
}

func TestValidate_EdgeFromEndNode(t *testing.T) {
	wf := validWorkflow()
	wf.Edges = append(wf.Edges, Edge{ID: "e3", From: "end", To: "task1"})
	if err := wf.Validate(); err == nil {
		t.Fatal("expected violation for edge originating at end node")
	}
}

func TestValidate_SwitchUnknownTarget(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, Node{
		ID:   "sw1",
		Type: NodeSwitch,
		Config: &NodeConfig{
			Cases: []SwitchCase{{Value: "a", TargetNode: "ghost"}},
		},
	})
	if err := wf.Validate(); err == nil {
		t.Fatal("expected violation for switch case with unknown target")
	}
}

func TestValidate_LoopUnknownBodyNode(t *testing.T) {
	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, Node{
		ID:   "loop1",
		Type: NodeLoop,
		Config: &NodeConfig{
			BodyNodes: []string{"ghost"},
		},
	})
	if err := wf.Validate(); err == nil {
		t.Fatal("expected violation for loop body referencing unknown node")
	}
}

func TestNewInstance_NodeStatesMatchWorkflowNodes(t *testing.T) {
	wf := validWorkflow()
	inst := NewInstance("inst-1", wf)
	if len(inst.NodeStates) != len(wf.Nodes) {
		t.Fatalf("expected %d node states, got %d", len(wf.Nodes), len(inst.NodeStates))
	}
	for _, n := range wf.Nodes {
		st, ok := inst.NodeStates[n.ID]
		if !ok {
			t.Fatalf("missing node state for %q", n.ID)
		}
		if st.Status != NodeStatusPending {
			t.Fatalf("expected pending status for %q, got %q", n.ID, st.Status)
		}
	}
}

func TestJobID_Deterministic(t *testing.T) {
	a := JobID("inst-1", "task1", 2)
	b := JobID("inst-1", "task1", 2)
	if a != b {
		t.Fatalf("expected deterministic job id, got %q vs %q", a, b)
	}
	if a != "inst-1:task1:2" {
		t.Fatalf("unexpected job id format: %q", a)
	}
}

func TestNodeState_IsCompletedIsRunnable(t *testing.T) {
	cases := []struct {
		status      NodeStatus
		isCompleted bool
		isRunnable  bool
	}{
		{NodeStatusPending, false, true},
		{NodeStatusReady, false, true},
		{NodeStatusRunning, false, false},
		{NodeStatusDone, true, false},
		{NodeStatusSkipped, true, false},
		{NodeStatusFailed, false, false},
	}
	for _, c := range cases {
		s := NodeState{Status: c.status}
		if s.IsCompleted() != c.isCompleted {
			t.Errorf("%s: IsCompleted() = %v, want %v", c.status, s.IsCompleted(), c.isCompleted)
		}
		if s.IsRunnable() != c.isRunnable {
			t.Errorf("%s: IsRunnable() = %v, want %v", c.status, s.IsRunnable(), c.isRunnable)
		}
	}
}
