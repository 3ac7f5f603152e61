package handlers

import (
	"github.com/cahq/orchestrator/internal/cond"
	"github.com/cahq/orchestrator/internal/engine"
)

// loopIterKey tracks how many times a loop node's predicate has been
// checked, stored in the instance's Variables so it survives the
// requeue/re-dispatch cycle between iterations (each iteration is a
// separate ExecuteNode call, not an in-process loop).
func loopIterKey(nodeID string) string {
	return "__loopIter:" + nodeID
}

// LoopHandler implements while/for/until loop nodes: each
// invocation checks the predicate once and carries the decision as a
// boolean Output, the same shape ConditionHandler uses, so the two
// outgoing edges (`output == true` into the loop body, `output == false`
// out of the loop) drive routing without any special-casing in the
// engine.
type LoopHandler struct{}

// Execute implements engine.Handler.
func (h *LoopHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	cfg := node.Config
	if cfg == nil || cfg.LoopType == "" {
		return engine.HandlerResult{}, configError(node, "loop node requires a loopType")
	}

	idx := toInt(hctx.Instance.Variables[loopIterKey(node.ID)])
	if cfg.MaxIterations > 0 && idx >= cfg.MaxIterations {
		return engine.HandlerResult{Output: false}, nil
	}

	vars := evalVars(hctx.Instance)
	updates := map[string]interface{}{}

	var cont bool
	switch cfg.LoopType {
	case "while":
		ok, err := hctx.Eval.EvalBool(cfg.Condition, vars)
		if err != nil {
			return engine.HandlerResult{}, exprError(node, cfg.Condition, err)
		}
		cont = ok
	case "until":
		ok, err := hctx.Eval.EvalBool(cfg.Condition, vars)
		if err != nil {
			return engine.HandlerResult{}, exprError(node, cfg.Condition, err)
		}
		cont = !ok
	case "for":
		start, err := evalFloat(hctx.Eval, cfg.Init, vars)
		if err != nil {
			return engine.HandlerResult{}, exprError(node, cfg.Init, err)
		}
		end, err := evalFloat(hctx.Eval, cfg.LoopEnd, vars)
		if err != nil {
			return engine.HandlerResult{}, exprError(node, cfg.LoopEnd, err)
		}
		step := 1.0
		if cfg.Step != "" {
			step, err = evalFloat(hctx.Eval, cfg.Step, vars)
			if err != nil {
				return engine.HandlerResult{}, exprError(node, cfg.Step, err)
			}
		}
		current := start + float64(idx)*step
		if step >= 0 {
			cont = current < end
		} else {
			cont = current > end
		}
		if cfg.LoopVar != "" {
			updates[cfg.LoopVar] = current
		}
	default:
		return engine.HandlerResult{}, configError(node, "unknown loopType %q", cfg.LoopType)
	}

	if cont {
		updates[loopIterKey(node.ID)] = idx + 1
	}
	return engine.HandlerResult{Output: cont, VariableUpdates: updates}, nil
}

// evalFloat evaluates expr and coerces the result to float64, since
// cel-go returns int64/uint64/float64 depending on the literal's
// inferred type and loop bounds need a single numeric type to compare.
func evalFloat(eval *cond.Evaluator, expr string, vars cond.Vars) (float64, error) {
	v, err := eval.EvalValue(expr, vars)
	if err != nil {
		return 0, err
	}
	return toFloat(v), nil
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}

func toInt(v interface{}) int {
	return int(toFloat(v))
}
