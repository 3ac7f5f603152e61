// Package engine implements the workflow engine and the node worker
// pool: the part of the orchestrator that decides which
// nodes are ready, dispatches them to a Handler, and folds their result
// back into a workflow.Instance — loop counters, downstream routing, and
// terminal-state detection included.
//
// The engine never talks to disk directly. It is handed a *workflow.Instance
// already loaded by the caller (the executor), mutates it in memory, and
// returns; persistence and locking are the caller's job.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/cond"
	"github.com/cahq/orchestrator/internal/eventbus"
	"github.com/cahq/orchestrator/internal/state"
	"github.com/cahq/orchestrator/internal/workflow"
)

// HandlerContext carries everything a node-type handler needs to run one
// node once: read variables, drain messages, honor timeout.
type HandlerContext struct {
	Ctx        context.Context
	Workflow   *workflow.Workflow
	Instance   *workflow.Instance
	Node       workflow.Node
	Job        workflow.Job
	Eval       *cond.Evaluator
}

// HandlerResult is what a node-type handler hands back to the engine.
type HandlerResult struct {
	// Output is stored as this node's result, inspectable downstream as
	// `output` in edge/condition expressions.
	Output interface{}
	// VariableUpdates are merged into the instance's Variables map.
	VariableUpdates map[string]interface{}
	// RouteOverride, if non-empty, is the single edge target to take
	// instead of evaluating every outgoing edge's Condition — used by
	// switch nodes, which pick exactly one branch.
	RouteOverride string
	// WaitingHuman signals the node parked itself awaiting external input
	// (human node) rather than completing.
	WaitingHuman bool
	// RequeueAfter, if non-zero, signals the node wants its job
	// redelivered after this delay instead of being marked done now
	// (delay and schedule nodes).
	RequeueAfter time.Duration
	// CostUSD is a task node's BackendAdapter-reported cost, if any,
	// folded into the node's NodeState for stats.json and result.md.
	CostUSD float64
}

// Handler executes a single node. Handlers never touch the queue — they
// read HandlerContext and return a HandlerResult, keeping node-type logic
// (handlers package) decoupled from scheduling logic (this package). A
// few handlers do edit the instance's Variables map in place (the
// message-drain wrapper and the human handler).
type Handler interface {
	Execute(hctx HandlerContext) (HandlerResult, error)
}

// Engine is WorkflowEngine.
type Engine struct {
	handlers map[workflow.NodeType]Handler
	eval     *cond.Evaluator
	bus      *eventbus.Bus
}

// New builds an Engine. eval may be shared across many Engine instances —
// it holds no per-workflow state.
func New(eval *cond.Evaluator, bus *eventbus.Bus) *Engine {
	return &Engine{handlers: make(map[workflow.NodeType]Handler), eval: eval, bus: bus}
}

// Register binds a Handler to a node type. Panics if called twice for the
// same type — that is a wiring bug caught at startup, not a runtime
// condition to recover from.
func (e *Engine) Register(t workflow.NodeType, h Handler) {
	if _, exists := e.handlers[t]; exists {
		panic("engine: handler already registered for node type " + string(t))
	}
	e.handlers[t] = h
}

// ReadyNodes returns every node in wf that inst can run right now.
func (e *Engine) ReadyNodes(wf *workflow.Workflow, inst *workflow.Instance) []string {
	return state.GetReadyNodes(wf, inst)
}

// ExecuteNode runs a single ready node to completion (or to waiting-human)
// and folds the result into inst. It does not decide what runs next —
// callers call ReadyNodes again afterward, since one node's completion
// may unblock several others at once.
func (e *Engine) ExecuteNode(ctx context.Context, taskID string, wf *workflow.Workflow, inst *workflow.Instance, job workflow.Job, now time.Time) error {
	node, ok := wf.NodeByID(job.Data.NodeID)
	if !ok {
		return cherrors.Newf(cherrors.GraphInvariantViolation, "job references unknown node %q", job.Data.NodeID)
	}

	h, ok := e.handlers[node.Type]
	if !ok {
		return cherrors.Newf(cherrors.GraphInvariantViolation, "no handler registered for node type %q", node.Type)
	}

	state.MarkNodeRunning(inst, node.ID, now)
	e.publish(eventbus.NodeStarted, taskID, node.ID, nil)

	hctx := HandlerContext{Ctx: ctx, Workflow: wf, Instance: inst, Node: node, Job: job, Eval: e.eval}
	result, err := h.Execute(hctx)
	if err != nil {
		return e.handleNodeFailure(taskID, wf, inst, node, now, err)
	}

	return e.handleNodeSuccess(taskID, wf, inst, node, now, result)
}

func (e *Engine) handleNodeSuccess(taskID string, wf *workflow.Workflow, inst *workflow.Instance, node workflow.Node, now time.Time, result HandlerResult) error {
	if result.WaitingHuman {
		ns := inst.NodeStates[node.ID]
		ns.Status = workflow.NodeStatusWaiting
		e.publish(eventbus.HumanInputNeeded, taskID, node.ID, nil)
		return nil
	}

	if result.RequeueAfter > 0 {
		ns := inst.NodeStates[node.ID]
		ns.RequeueDelayMs = result.RequeueAfter.Milliseconds()
		return nil
	}

	ns := inst.NodeStates[node.ID]
	ns.InputSnapshot = nil
	ns.CostUSD += result.CostUSD
	inst.Outputs[node.ID] = result.Output
	for k, v := range result.VariableUpdates {
		if inst.Variables == nil {
			inst.Variables = map[string]interface{}{}
		}
		inst.Variables[k] = v
	}

	state.MarkNodeDone(inst, node.ID, now)
	e.publish(eventbus.NodeCompleted, taskID, node.ID, map[string]interface{}{"durationMs": ns.DurationMs})

	return e.route(wf, inst, node, result, now)
}

func (e *Engine) handleNodeFailure(taskID string, wf *workflow.Workflow, inst *workflow.Instance, node workflow.Node, now time.Time, execErr error) error {
	category := classifyError(execErr)
	ns := inst.NodeStates[node.ID]
	retry := node.EffectiveRetry()

	if category != workflow.ErrorPermanent && ns.Attempts < retry.MaxAttempts {
		// Leave status as-is (running); the caller (NodeWorker) is
		// responsible for requeuing with backoff. We only record the
		// error so it's visible even mid-retry.
		ns.LastError = execErr.Error()
		ns.LastErrorCategory = category
		return execErr
	}

	switch node.OnError {
	case workflow.OnErrorSkip:
		state.MarkNodeSkipped(inst, node.ID, now)
		e.publish(eventbus.NodeSkipped, taskID, node.ID, map[string]interface{}{"error": execErr.Error()})
		return e.route(wf, inst, node, HandlerResult{}, now)
	case workflow.OnErrorContinue:
		state.MarkNodeDone(inst, node.ID, now)
		e.publish(eventbus.NodeCompleted, taskID, node.ID, map[string]interface{}{"recoveredFrom": execErr.Error()})
		return e.route(wf, inst, node, HandlerResult{}, now)
	default: // OnErrorFail
		state.MarkNodeFailed(inst, node.ID, now, execErr.Error(), category)
		e.publish(eventbus.NodeFailed, taskID, node.ID, map[string]interface{}{"error": execErr.Error(), "category": string(category)})
		return execErr
	}
}

// route evaluates wf's outgoing edges from node and marks the chosen
// downstream node(s) ready, applying each edge's MaxLoops ceiling: an
// edge already taken MaxLoops times is treated as not satisfied,
// forcing the workflow down another path or into failure.
func (e *Engine) route(wf *workflow.Workflow, inst *workflow.Instance, node workflow.Node, result HandlerResult, now time.Time) error {
	edges := wf.EdgesFrom(node.ID)

	if result.RouteOverride != "" {
		for _, edge := range edges {
			if edge.To == result.RouteOverride {
				if e.loopCeilingReached(inst, edge) {
					return cherrors.Newf(cherrors.GraphInvariantViolation, "edge %q exceeded maxLoops=%d", edge.ID, edge.MaxLoops)
				}
				e.takeEdge(wf, inst, edge, now)
				return nil
			}
		}
		return cherrors.Newf(cherrors.GraphInvariantViolation, "node %q routed to %q, which is not an outgoing edge target", node.ID, result.RouteOverride)
	}

	took := false
	for _, edge := range edges {
		ok, err := e.edgeSatisfied(inst, edge, result)
		if err != nil {
			return err
		}
		if !ok || e.loopCeilingReached(inst, edge) {
			continue
		}
		e.takeEdge(wf, inst, edge, now)
		took = true
	}
	if !took && len(edges) > 0 {
		return cherrors.Newf(cherrors.GraphInvariantViolation, "node %q completed but no outgoing edge condition was satisfied", node.ID)
	}
	return nil
}

// loopCeilingReached reports whether edge has a MaxLoops ceiling and has
// already been traversed that many times. When it has, the edge is not
// traversed and its target stays pending unless reachable via another
// path; if route then takes no edge at all, or the blocked edge was a
// RouteOverride target, route returns a GraphInvariantViolation.
func (e *Engine) loopCeilingReached(inst *workflow.Instance, edge workflow.Edge) bool {
	if edge.MaxLoops <= 0 {
		return false
	}
	return inst.LoopCounts[edge.ID] >= edge.MaxLoops
}

// Start marks wf's start node done and routes from it, the one-time setup
// step TaskExecutor runs right after building a fresh Instance — spec's
// readiness model treats `start` as always satisfied but GetReadyNodes
// deliberately never returns it (or `end`) for dispatch, since neither is
// a real handler invocation.
func (e *Engine) Start(wf *workflow.Workflow, inst *workflow.Instance, now time.Time) error {
	startID := wf.StartNode()
	if startID == "" {
		return cherrors.New(cherrors.GraphInvariantViolation, "workflow has no start node")
	}
	state.MarkNodeDone(inst, startID, now)
	return e.route(wf, inst, workflow.Node{ID: startID}, HandlerResult{}, now)
}

// CheckCompletion folds state.CheckWorkflowCompletion into inst, updating
// its InstanceStatus and publishing the matching lifecycle event exactly
// once per transition (it is a no-op if inst is already terminal).
// Callers (WorkerPool.runOne, Executor.prepare after Start) call this after every mutation
// that might have finished the workflow: a node completing, or Start
// routing straight through to the end node on a workflow with no real
// work.
func (e *Engine) CheckCompletion(taskID string, wf *workflow.Workflow, inst *workflow.Instance, now time.Time) {
	if inst.Status == workflow.InstanceCompleted || inst.Status == workflow.InstanceFailed || inst.Status == workflow.InstanceCancelled {
		return
	}
	done, status := state.CheckWorkflowCompletion(wf, inst)
	if !done {
		return
	}
	if status == workflow.InstanceFailed {
		inst.Error = firstFailureReason(inst)
	}
	state.UpdateInstanceStatus(inst, status, now)
	if status == workflow.InstanceCompleted {
		e.publish(eventbus.WorkflowCompleted, taskID, "", nil)
	} else {
		e.publish(eventbus.WorkflowFailed, taskID, "", map[string]interface{}{"error": inst.Error})
	}
}

func firstFailureReason(inst *workflow.Instance) string {
	for id, ns := range inst.NodeStates {
		if ns.Status == workflow.NodeStatusFailed {
			return fmt.Sprintf("node %q failed: %s", id, ns.LastError)
		}
	}
	return "workflow failed"
}

func (e *Engine) edgeSatisfied(inst *workflow.Instance, edge workflow.Edge, result HandlerResult) (bool, error) {
	if edge.Condition == "" {
		return true, nil
	}
	ok, err := e.eval.EvalBool(edge.Condition, cond.Vars{Variables: inst.Variables, Output: result.Output})
	if err != nil {
		// An unparseable edge condition is treated as not satisfied
		// rather than failing the whole node — a bad expression degrades
		// gracefully instead of crashing the engine.
		return false, nil
	}
	return ok, nil
}

// takeEdge marks edge.To ready to run next, unless it is wf's end node: end
// is a structural marker with no handler (GetReadyNodes never returns it),
// so reaching it is itself completion, recorded immediately as done.
// Callers must check loopCeilingReached first; takeEdge always traverses.
func (e *Engine) takeEdge(wf *workflow.Workflow, inst *workflow.Instance, edge workflow.Edge, now time.Time) {
	if edge.MaxLoops > 0 {
		if inst.LoopCounts == nil {
			inst.LoopCounts = map[string]int{}
		}
		inst.LoopCounts[edge.ID]++
	}
	if edge.To == wf.EndNode() {
		state.MarkNodeDone(inst, edge.To, now)
		return
	}
	state.MarkNodeReady(inst, edge.To)
}

func (e *Engine) publish(kind eventbus.Kind, taskID, nodeID string, meta map[string]interface{}) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{
		Kind:      kind,
		TaskID:    taskID,
		NodeID:    nodeID,
		Timestamp: time.Now(),
		Meta:      meta,
	})
}

// classifyError maps an execution error to the retry-decision category
// used by the retry policy. Backend-layer errors already carry a cherrors.Kind;
// anything else defaults to ErrorUnknown, which the retry policy treats
// like transient (retry, since we cannot prove it won't succeed) up to
// the node's MaxAttempts.
func classifyError(err error) workflow.ErrorCategory {
	switch {
	case cherrors.Is(err, cherrors.BackendTimeout):
		return workflow.ErrorTransient
	case cherrors.Is(err, cherrors.BackendCancelled):
		return workflow.ErrorPermanent
	case cherrors.Is(err, cherrors.BackendProcess):
		return workflow.ErrorRecoverable
	case cherrors.Is(err, cherrors.GraphInvariantViolation):
		return workflow.ErrorPermanent
	default:
		return workflow.ErrorUnknown
	}
}
