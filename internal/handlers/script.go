package handlers

import "github.com/cahq/orchestrator/internal/engine"

// ScriptHandler is pure expression evaluation with no I/O: either a
// single Expression bound to OutputVar, or a list of Assignments
// (identical shape to AssignHandler, but every value here is always an
// expression rather than a literal-or-expression).
type ScriptHandler struct{}

// Execute implements engine.Handler.
func (h *ScriptHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	cfg := node.Config
	if cfg == nil {
		return engine.HandlerResult{}, configError(node, "script node requires an expression or assignments")
	}

	if cfg.Expression != "" {
		v, err := hctx.Eval.EvalValue(cfg.Expression, evalVars(hctx.Instance))
		if err != nil {
			return engine.HandlerResult{}, exprError(node, cfg.Expression, err)
		}
		updates := map[string]interface{}{}
		if cfg.OutputVar != "" {
			updates[cfg.OutputVar] = v
		}
		return engine.HandlerResult{Output: v, VariableUpdates: updates}, nil
	}

	if len(cfg.Assignments) > 0 {
		updates := make(map[string]interface{}, len(cfg.Assignments))
		for _, a := range cfg.Assignments {
			v, err := hctx.Eval.EvalValue(a.Expression, evalVars(hctx.Instance))
			if err != nil {
				return engine.HandlerResult{}, exprError(node, a.Expression, err)
			}
			applyDotted(hctx.Instance.Variables, updates, a.Variable, v)
		}
		return engine.HandlerResult{VariableUpdates: updates}, nil
	}

	return engine.HandlerResult{}, configError(node, "script node requires an expression or assignments")
}
