// Package handlers implements one engine.Handler per workflow.NodeType.
// Handlers never touch the queue — they read an engine.HandlerContext and
// return an engine.HandlerResult, leaving scheduling entirely to
// internal/engine. The one write they make is the message-drain wrapper
// marking drained messages consumed in the task's messages file.
package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/cond"
	"github.com/cahq/orchestrator/internal/engine"
	"github.com/cahq/orchestrator/internal/workflow"
)

// MessageStore is the slice of taskstore.Store every handler that drains
// messages needs. Defined locally so handlers doesn't import taskstore
// just to accept *taskstore.Store.
type MessageStore interface {
	Messages(taskID string) []workflow.TaskMessage
	MarkMessagesConsumed(taskID string, upTo time.Time) error
}

// drainedMessagesHeading is the fixed heading under which drained
// messages are concatenated into a backend prompt.
const drainedMessagesHeading = "## Messages received during execution"

// pendingMessagesVar is the instance variable where drained-but-not-yet-
// prompted message text accumulates, so a message consumed while a
// non-prompt node ran still reaches the next backend prompt.
const pendingMessagesVar = "__pendingMessages"

// drainMessages reads every unconsumed TaskMessage for taskID, marks them
// consumed, and renders them as bullet lines. Returns "" if there is
// nothing to drain.
func drainMessages(store MessageStore, taskID string, now time.Time) string {
	if store == nil {
		return ""
	}
	msgs := store.Messages(taskID)
	var pending []workflow.TaskMessage
	for _, m := range msgs {
		if !m.Consumed {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return ""
	}

	var b strings.Builder
	for _, m := range pending {
		fmt.Fprintf(&b, "- (%s) %s\n", m.Source, m.Content)
	}

	_ = store.MarkMessagesConsumed(taskID, now)
	return b.String()
}

// withMessageDrain wraps a Handler with the pre-step shared by all
// handlers: drain and mark consumed any TaskMessage rows for this task
// before the node executes, regardless of node type, accumulating the
// rendered text under pendingMessagesVar until a prompt-building handler
// takes it. The instance is mutated directly so the drained text survives
// even when the wrapped handler fails (the worker persists the instance
// either way).
type withMessageDrain struct {
	inner engine.Handler
	store MessageStore
}

// Execute implements engine.Handler.
func (w withMessageDrain) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	if drained := drainMessages(w.store, hctx.Job.Data.TaskID, time.Now()); drained != "" {
		if hctx.Instance.Variables == nil {
			hctx.Instance.Variables = map[string]interface{}{}
		}
		prev, _ := hctx.Instance.Variables[pendingMessagesVar].(string)
		hctx.Instance.Variables[pendingMessagesVar] = prev + drained
	}
	return w.inner.Execute(hctx)
}

// takePendingMessages removes and returns the accumulated drained message
// text, "" if none.
func takePendingMessages(inst *workflow.Instance) string {
	if inst.Variables == nil {
		return ""
	}
	pending, _ := inst.Variables[pendingMessagesVar].(string)
	delete(inst.Variables, pendingMessagesVar)
	return pending
}

// evalVars builds the cond.Vars an expression-bearing node evaluates
// against: the instance's current variables and nothing else, since
// condition/switch/script/loop/foreach nodes don't have a prior node
// output of their own (output is for edge conditions evaluated after the
// node completes, not for the node's own expression).
func evalVars(inst *workflow.Instance) cond.Vars {
	return cond.Vars{Variables: inst.Variables}
}

// configError wraps a missing-or-malformed NodeConfig as a permanent
// failure: retrying a node with no prompt/expression would just fail
// again, so it is classified the same as a graph invariant violation.
func configError(node workflow.Node, format string, args ...interface{}) error {
	return cherrors.Newf(cherrors.GraphInvariantViolation, "node %q (%s): "+format, append([]interface{}{node.ID, node.Type}, args...)...)
}

// exprError wraps a cond evaluation failure the same way: an
// unparseable or type-mismatched expression is an authoring bug, not a
// transient condition worth retrying.
func exprError(node workflow.Node, expr string, cause error) error {
	return cherrors.Wrap(cherrors.GraphInvariantViolation, fmt.Sprintf("node %q (%s): expression %q", node.ID, node.Type, expr), cause)
}

// RegisterAll binds every node-type Handler to eng, the one place
// TaskExecutor's wiring has to know the full set of workflow.NodeType
// values that need a handler. reg resolves the task node's
// BackendAdapter; msgStore backs the message-drain pre-step every handler
// is wrapped with; onDelta, if non-nil, receives streamed backend output
// keyed by node id (buildApp wires this to a debug line in the process
// log).
func RegisterAll(eng *engine.Engine, reg *backend.Registry, msgStore MessageStore, taskBackendDefault string, onDelta func(nodeID, text string)) {
	drain := func(h engine.Handler) engine.Handler {
		return withMessageDrain{inner: h, store: msgStore}
	}
	eng.Register(workflow.NodeTask, drain(&TaskHandler{
		Backend:            reg,
		TaskBackendDefault: taskBackendDefault,
		OnDelta:            onDelta,
	}))
	eng.Register(workflow.NodeCondition, drain(&ConditionHandler{}))
	eng.Register(workflow.NodeParallel, drain(&ParallelHandler{}))
	eng.Register(workflow.NodeJoin, drain(&JoinHandler{}))
	eng.Register(workflow.NodeHuman, drain(&HumanHandler{}))
	eng.Register(workflow.NodeDelay, drain(&DelayHandler{}))
	eng.Register(workflow.NodeSchedule, drain(&ScheduleHandler{}))
	eng.Register(workflow.NodeLoop, drain(&LoopHandler{}))
	eng.Register(workflow.NodeSwitch, drain(&SwitchHandler{}))
	eng.Register(workflow.NodeAssign, drain(&AssignHandler{}))
	eng.Register(workflow.NodeScript, drain(&ScriptHandler{}))
	eng.Register(workflow.NodeForeach, drain(&ForeachHandler{}))
}
