package handlers

import (
	"reflect"

	"github.com/cahq/orchestrator/internal/engine"
)

// foreachIdxKey tracks how many items of a foreach node's collection
// have been dispatched so far.
func foreachIdxKey(nodeID string) string {
	return "__foreachIdx:" + nodeID
}

// ForeachHandler evaluates Collection once into an ordered sequence and
// steps through it one item per invocation, threading ItemVar/IndexVar
// into the instance's variables the same way LoopHandler threads
// LoopVar — Output is true while items remain, false once exhausted, so
// the two outgoing edges route exactly like a loop node's.
//
// Both modes dispatch exactly one item per pass; a handler returns a
// single route, so it cannot fan a batch of body jobs out itself. What
// `parallel` buys is concurrency of the body jobs on the worker pool —
// MaxParallel is accepted but the pool's own concurrency setting is the
// effective ceiling. Every item is visited either way.
type ForeachHandler struct{}

// Execute implements engine.Handler.
func (h *ForeachHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	cfg := node.Config
	if cfg == nil || cfg.Collection == "" || cfg.ItemVar == "" {
		return engine.HandlerResult{}, configError(node, "foreach node requires collection and itemVar")
	}

	vars := evalVars(hctx.Instance)
	raw, err := hctx.Eval.EvalValue(cfg.Collection, vars)
	if err != nil {
		return engine.HandlerResult{}, exprError(node, cfg.Collection, err)
	}
	items, ok := toInterfaceSlice(raw)
	if !ok {
		return engine.HandlerResult{}, configError(node, "collection expression %q did not evaluate to a list", cfg.Collection)
	}

	idx := toInt(hctx.Instance.Variables[foreachIdxKey(node.ID)])
	if idx >= len(items) {
		return engine.HandlerResult{Output: false}, nil
	}

	updates := map[string]interface{}{
		cfg.ItemVar: items[idx],
	}
	if cfg.IndexVar != "" {
		updates[cfg.IndexVar] = idx
	}
	updates[foreachIdxKey(node.ID)] = idx + 1

	return engine.HandlerResult{Output: true, VariableUpdates: updates}, nil
}

// toInterfaceSlice accepts any concrete slice type cel-go's dynamic list
// adapter might hand back (it returns the native Go representation, not
// always exactly []interface{}) and normalizes it to []interface{}.
func toInterfaceSlice(v interface{}) ([]interface{}, bool) {
	if items, ok := v.([]interface{}); ok {
		return items, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
