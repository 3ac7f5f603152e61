package handlers

import (
	"strings"

	"github.com/cahq/orchestrator/internal/engine"
)

// AssignHandler mutates the instance's variables according to its
// Assignments list; each entry is either a literal Value or, when
// IsExpression is set, a cond expression evaluated against the current
// variables. Variable names may use dotted paths (e.g. "config.retries")
// to set a field nested inside an existing map variable.
type AssignHandler struct{}

// Execute implements engine.Handler.
func (h *AssignHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	if node.Config == nil || len(node.Config.Assignments) == 0 {
		return engine.HandlerResult{}, configError(node, "assign node requires assignments")
	}

	updates := make(map[string]interface{}, len(node.Config.Assignments))
	for _, a := range node.Config.Assignments {
		value := a.Value
		if a.IsExpression {
			v, err := hctx.Eval.EvalValue(a.Expression, evalVars(hctx.Instance))
			if err != nil {
				return engine.HandlerResult{}, exprError(node, a.Expression, err)
			}
			value = v
		}
		applyDotted(hctx.Instance.Variables, updates, a.Variable, value)
	}

	return engine.HandlerResult{VariableUpdates: updates}, nil
}

// applyDotted sets path (possibly dotted) within updates, seeding the
// top-level entry from the existing variables map so a partial nested
// assignment doesn't clobber sibling keys.
func applyDotted(existing, updates map[string]interface{}, path string, value interface{}) {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		updates[path] = value
		return
	}

	root := parts[0]
	m, ok := updates[root].(map[string]interface{})
	if !ok {
		if base, ok := existing[root].(map[string]interface{}); ok {
			m = make(map[string]interface{}, len(base)+1)
			for k, v := range base {
				m[k] = v
			}
		} else {
			m = make(map[string]interface{})
		}
		updates[root] = m
	}

	cursor := m
	for _, p := range parts[1 : len(parts)-1] {
		next, ok := cursor[p].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cursor[p] = next
		}
		cursor = next
	}
	cursor[parts[len(parts)-1]] = value
}
