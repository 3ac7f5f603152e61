package engine

import (
	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/state"
	"github.com/cahq/orchestrator/internal/workflow"
)

// InjectNodeAfter implements the `cah inject-node` operation: it splices a
// new node into a live workflow immediately after anchorID, rewiring every
// edge that used to leave anchorID so it leaves the new node instead.
//
// This only touches the graph (wf.Nodes/wf.Edges) and the instance's
// NodeStates map; callers are responsible for persisting both and for
// taking the queue lock if the new node is immediately enqueued.
func InjectNodeAfter(wf *workflow.Workflow, inst *workflow.Instance, anchorID string, newNode workflow.Node) error {
	if _, ok := wf.NodeByID(anchorID); !ok {
		return cherrors.Newf(cherrors.NotFound, "anchor node %q not found", anchorID)
	}
	if _, exists := wf.NodeByID(newNode.ID); exists {
		return cherrors.Newf(cherrors.GraphInvariantViolation, "node id %q already exists", newNode.ID)
	}

	outgoing := wf.EdgesFrom(anchorID)
	rewired := make([]workflow.Edge, 0, len(outgoing))
	for _, e := range outgoing {
		rewired = append(rewired, e)
	}

	wf.Nodes = append(wf.Nodes, newNode)

	newEdgeID := "inject-" + anchorID + "-" + newNode.ID
	newOutEdgeID := "inject-" + newNode.ID + "-out"

	filtered := wf.Edges[:0]
	for _, e := range wf.Edges {
		if e.From == anchorID {
			continue // replaced below
		}
		filtered = append(filtered, e)
	}
	wf.Edges = filtered
	wf.Edges = append(wf.Edges, workflow.Edge{ID: newEdgeID, From: anchorID, To: newNode.ID})
	for i, e := range rewired {
		e.ID = newOutEdgeID + "-" + itoaSuffix(i)
		e.From = newNode.ID
		wf.Edges = append(wf.Edges, e)
	}

	if inst != nil {
		if inst.NodeStates == nil {
			inst.NodeStates = map[string]*workflow.NodeState{}
		}
		inst.NodeStates[newNode.ID] = &workflow.NodeState{Status: workflow.NodeStatusPending}
		if state.IsNodeCompleted(inst, anchorID) {
			state.MarkNodeReady(inst, newNode.ID)
		}
	}

	return nil
}

func itoaSuffix(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
