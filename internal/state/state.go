// Package state implements pure functions
// over a workflow.Instance that decide what is done, what is ready to run
// next, and whether the whole instance has finished.
//
// Nothing here mutates a *workflow.Instance directly except the small set
// of Mark* helpers, each of which flips one node's NodeState, and
// UpdateInstanceStatus, which sets the instance's status — the
// caller (engine.WorkflowEngine) owns persisting the result. Keeping
// readiness logic pure and side-effect-free is what lets the engine
// package's tests exercise every branch without a filesystem in sight.
package state

import (
	"time"

	"github.com/cahq/orchestrator/internal/workflow"
)

// IsNodeCompleted reports whether nodeID is done or skipped in inst.
func IsNodeCompleted(inst *workflow.Instance, nodeID string) bool {
	ns, ok := inst.NodeStates[nodeID]
	return ok && ns.IsCompleted()
}

// IsNodeRunnable reports whether nodeID is pending or ready in inst.
func IsNodeRunnable(inst *workflow.Instance, nodeID string) bool {
	ns, ok := inst.NodeStates[nodeID]
	return ok && ns.IsRunnable()
}

// CanExecuteNode reports whether every edge into nodeID originates at a
// completed node — the sole readiness condition for every node, join
// nodes included.
func CanExecuteNode(wf *workflow.Workflow, inst *workflow.Instance, nodeID string) bool {
	incoming := wf.EdgesTo(nodeID)
	if len(incoming) == 0 {
		return nodeID == wf.StartNode()
	}
	for _, e := range incoming {
		if !IsNodeCompleted(inst, e.From) {
			return false
		}
	}
	return true
}

// GetReadyNodes returns every node id that is runnable and whose
// dependencies are satisfied, in workflow declaration order (stable
// ordering keeps job enqueue order, and therefore dequeue order for
// same-priority jobs, deterministic across runs — important for replay).
func GetReadyNodes(wf *workflow.Workflow, inst *workflow.Instance) []string {
	var ready []string
	for _, n := range wf.Nodes {
		if n.Type == workflow.NodeStart || n.Type == workflow.NodeEnd {
			continue
		}
		if !IsNodeRunnable(inst, n.ID) {
			continue
		}
		if CanExecuteNode(wf, inst, n.ID) {
			ready = append(ready, n.ID)
		}
	}
	return ready
}

// GetActiveNodes returns every node currently running.
func GetActiveNodes(inst *workflow.Instance) []string {
	return nodesWithStatus(inst, workflow.NodeStatusRunning)
}

// GetPendingNodes returns every node still pending.
func GetPendingNodes(inst *workflow.Instance) []string {
	return nodesWithStatus(inst, workflow.NodeStatusPending)
}

// GetCompletedNodes returns every node done or skipped.
func GetCompletedNodes(inst *workflow.Instance) []string {
	var out []string
	for id, ns := range inst.NodeStates {
		if ns.IsCompleted() {
			out = append(out, id)
		}
	}
	return out
}

// GetFailedNodes returns every node in the failed state.
func GetFailedNodes(inst *workflow.Instance) []string {
	return nodesWithStatus(inst, workflow.NodeStatusFailed)
}

func nodesWithStatus(inst *workflow.Instance, status workflow.NodeStatus) []string {
	var out []string
	for id, ns := range inst.NodeStates {
		if ns.Status == status {
			out = append(out, id)
		}
	}
	return out
}

// Progress is the fraction (0..1) of non-structural nodes that have
// completed, used to render the task's progress indicator.
type Progress struct {
	Total     int
	Completed int
	Failed    int
	Fraction  float64
}

// GetWorkflowProgress computes Progress over every node except the
// synthetic start/end markers.
func GetWorkflowProgress(wf *workflow.Workflow, inst *workflow.Instance) Progress {
	var p Progress
	for _, n := range wf.Nodes {
		if n.Type == workflow.NodeStart || n.Type == workflow.NodeEnd {
			continue
		}
		p.Total++
		ns := inst.NodeStates[n.ID]
		if ns == nil {
			continue
		}
		if ns.IsCompleted() {
			p.Completed++
		}
		if ns.Status == workflow.NodeStatusFailed {
			p.Failed++
		}
	}
	if p.Total > 0 {
		p.Fraction = float64(p.Completed) / float64(p.Total)
	}
	return p
}

// CheckWorkflowCompletion reports whether the end node is reachable-and-
// completed (success), or any node has failed (failure), and if so what
// the instance's terminal status should become.
func CheckWorkflowCompletion(wf *workflow.Workflow, inst *workflow.Instance) (done bool, status workflow.InstanceStatus) {
	endID := wf.EndNode()
	if endID != "" && IsNodeCompleted(inst, endID) {
		return true, workflow.InstanceCompleted
	}

	if hasUnresolvableFailure(wf, inst) {
		return true, workflow.InstanceFailed
	}

	return false, inst.Status
}

// hasUnresolvableFailure reports whether any node has permanently failed.
// A node only reaches NodeStatusFailed under the fail policy with its
// retries exhausted (skip/continue policies never leave a node failed),
// and readiness requires every inbound edge's source to be done or
// skipped — so a failed node can never unblock its downstream, joins
// included, and the instance would otherwise sit in running forever.
func hasUnresolvableFailure(wf *workflow.Workflow, inst *workflow.Instance) bool {
	for id, ns := range inst.NodeStates {
		if ns.Status != workflow.NodeStatusFailed {
			continue
		}
		if _, ok := wf.NodeByID(id); ok {
			return true
		}
	}
	return false
}

// MarkNodeRunning transitions nodeID to running, recording the start time
// and bumping its attempt counter.
func MarkNodeRunning(inst *workflow.Instance, nodeID string, now time.Time) {
	ns := ensureNodeState(inst, nodeID)
	ns.Status = workflow.NodeStatusRunning
	ns.StartedAt = &now
	ns.Attempts++
}

// MarkNodeDone transitions nodeID to done and records its duration.
func MarkNodeDone(inst *workflow.Instance, nodeID string, now time.Time) {
	ns := ensureNodeState(inst, nodeID)
	ns.Status = workflow.NodeStatusDone
	ns.CompletedAt = &now
	if ns.StartedAt != nil {
		ns.DurationMs = now.Sub(*ns.StartedAt).Milliseconds()
	}
}

// MarkNodeFailed transitions nodeID to failed, recording the error and its
// classified category.
func MarkNodeFailed(inst *workflow.Instance, nodeID string, now time.Time, errMsg string, category workflow.ErrorCategory) {
	ns := ensureNodeState(inst, nodeID)
	ns.Status = workflow.NodeStatusFailed
	ns.CompletedAt = &now
	ns.LastError = errMsg
	ns.LastErrorCategory = category
	if ns.StartedAt != nil {
		ns.DurationMs = now.Sub(*ns.StartedAt).Milliseconds()
	}
}

// MarkNodeSkipped transitions nodeID directly to skipped without ever
// running it. The engine calls it for a failed node whose onError is
// skip; untaken switch/condition branches are left pending.
func MarkNodeSkipped(inst *workflow.Instance, nodeID string, now time.Time) {
	ns := ensureNodeState(inst, nodeID)
	ns.Status = workflow.NodeStatusSkipped
	ns.CompletedAt = &now
}

// MarkNodeReady transitions nodeID from pending to ready, the queueable
// state the engine picks up when enqueuing newly-unblocked nodes.
func MarkNodeReady(inst *workflow.Instance, nodeID string) {
	ensureNodeState(inst, nodeID).Status = workflow.NodeStatusReady
}

func ensureNodeState(inst *workflow.Instance, nodeID string) *workflow.NodeState {
	if inst.NodeStates == nil {
		inst.NodeStates = make(map[string]*workflow.NodeState)
	}
	ns, ok := inst.NodeStates[nodeID]
	if !ok {
		ns = &workflow.NodeState{}
		inst.NodeStates[nodeID] = ns
	}
	return ns
}

// UpdateInstanceStatus transitions the instance itself, stamping the
// relevant timestamp field for the target status.
func UpdateInstanceStatus(inst *workflow.Instance, status workflow.InstanceStatus, now time.Time) {
	inst.Status = status
	switch status {
	case workflow.InstanceRunning:
		if inst.StartedAt == nil {
			inst.StartedAt = &now
		}
	case workflow.InstanceCompleted, workflow.InstanceFailed, workflow.InstanceCancelled:
		inst.CompletedAt = &now
	case workflow.InstancePaused:
		inst.PausedAt = &now
	}
}
