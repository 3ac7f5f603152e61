package handlers

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/engine"
	"github.com/cahq/orchestrator/internal/workflow"
)

// TaskHandler executes a `task` node: assemble a prompt, call a
// BackendAdapter, record the streamed response to logs and the final
// text as this node's output. Drained messages arrive via the
// withMessageDrain wrapper's pendingMessagesVar stash rather than a
// store of this handler's own.
type TaskHandler struct {
	Backend *backend.Registry
	// TaskBackendDefault is the task-level part of the adapter selection
	// order (node override -> task default -> config default). Execute
	// passes no node override, so selection is task default, then config
	// default.
	TaskBackendDefault string
	// OnDelta, if set, receives every streamed chunk from the backend —
	// buildApp wires this to a debug line in the process log.
	OnDelta func(nodeID, text string)
}

// Execute implements engine.Handler.
func (h *TaskHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	cfg := node.Config
	if cfg == nil || cfg.Prompt == "" {
		return engine.HandlerResult{}, configError(node, "task node requires a prompt")
	}

	var prompt strings.Builder
	if cfg.Persona != "" {
		fmt.Fprintf(&prompt, "## Persona\n%s\n\n", cfg.Persona)
	}
	prompt.WriteString(cfg.Prompt)
	prompt.WriteString(renderUpstreamOutputs(hctx.Instance))

	if pending := takePendingMessages(hctx.Instance); pending != "" {
		prompt.WriteString("\n\n")
		prompt.WriteString(drainedMessagesHeading)
		prompt.WriteString("\n")
		prompt.WriteString(pending)
	}

	adapter, err := h.Backend.Resolve("", h.TaskBackendDefault)
	if err != nil {
		return engine.HandlerResult{}, err
	}

	result, err := adapter.Invoke(hctx.Ctx, backend.Request{
		Prompt:  prompt.String(),
		CWD:     cwdVariable(hctx.Instance),
		Timeout: node.EffectiveTimeout(30 * time.Minute),
		OnDelta: func(text string) {
			if h.OnDelta != nil {
				h.OnDelta(node.ID, text)
			}
		},
	})
	if err != nil {
		return engine.HandlerResult{}, err
	}

	return engine.HandlerResult{Output: result.Response, CostUSD: result.CostUSD}, nil
}

// renderUpstreamOutputs appends every recorded output so far under a
// fixed heading — a simple deterministic context dump rather than true
// placeholder substitution, which the planner's synthesized prompt text
// already bakes node-id references into.
func renderUpstreamOutputs(inst *workflow.Instance) string {
	if len(inst.Outputs) == 0 {
		return ""
	}
	ids := make([]string, 0, len(inst.Outputs))
	for nodeID := range inst.Outputs {
		ids = append(ids, nodeID)
	}
	sort.Strings(ids)

	var b strings.Builder
	b.WriteString("\n\n## Prior node outputs\n")
	for _, nodeID := range ids {
		fmt.Fprintf(&b, "- %s: %v\n", nodeID, inst.Outputs[nodeID])
	}
	return b.String()
}

func cwdVariable(inst *workflow.Instance) string {
	if inst.Variables == nil {
		return ""
	}
	if cwd, ok := inst.Variables["cwd"].(string); ok {
		return cwd
	}
	return ""
}
