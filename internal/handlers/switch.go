package handlers

import (
	"github.com/cahq/orchestrator/internal/cond"
	"github.com/cahq/orchestrator/internal/engine"
)

// SwitchHandler evaluates a node's Cases in order, routing to the first
// matching case's target (or the default) and activating only that
// single outgoing path.
type SwitchHandler struct{}

// Execute implements engine.Handler.
func (h *SwitchHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	if node.Config == nil || len(node.Config.Cases) == 0 {
		return engine.HandlerResult{}, configError(node, "switch node requires cases")
	}

	cases := make([]cond.Case, len(node.Config.Cases))
	for i, c := range node.Config.Cases {
		cases[i] = cond.Case{Value: c.Value, Default: c.Default, TargetNode: c.TargetNode}
	}

	target, matched, err := hctx.Eval.SwitchMatch(cases, evalVars(hctx.Instance))
	if err != nil {
		return engine.HandlerResult{}, exprError(node, "switch case", err)
	}
	if !matched {
		return engine.HandlerResult{}, configError(node, "no case matched and no default declared")
	}

	return engine.HandlerResult{Output: target, RouteOverride: target}, nil
}
