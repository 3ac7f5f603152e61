package handlers

import "github.com/cahq/orchestrator/internal/engine"

// ConditionHandler evaluates a node's expression and carries the
// boolean result as Output; downstream edges gate on `output == true`.
type ConditionHandler struct{}

// Execute implements engine.Handler.
func (h *ConditionHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	if node.Config == nil || node.Config.Expression == "" {
		return engine.HandlerResult{}, configError(node, "condition node requires an expression")
	}

	result, err := hctx.Eval.EvalBool(node.Config.Expression, evalVars(hctx.Instance))
	if err != nil {
		return engine.HandlerResult{}, exprError(node, node.Config.Expression, err)
	}

	return engine.HandlerResult{Output: result}, nil
}
