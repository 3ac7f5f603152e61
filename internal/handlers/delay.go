package handlers

import (
	"time"

	"github.com/cahq/orchestrator/internal/engine"
)

// DelayUnitMs converts a delay node's unit into a milliseconds
// multiplier.
func DelayUnitMs(unit string) int64 {
	switch unit {
	case "minutes":
		return 60_000
	case "hours":
		return 3_600_000
	default: // seconds, and any unrecognized unit
		return 1_000
	}
}

// DelayHandler requeues the job for `value * unitMs` via
// HandlerResult.RequeueAfter; on the re-delivered attempt the worker
// calls Execute again, and since the node carries no state of its own it
// simply succeeds — the wait already happened as a requeue, not an
// in-process sleep.
type DelayHandler struct{}

// Execute implements engine.Handler.
func (h *DelayHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	node := hctx.Node
	ns := hctx.Instance.NodeStates[node.ID]
	if ns != nil && ns.Attempts > 1 {
		// Re-delivered after the requeue below already elapsed.
		return engine.HandlerResult{}, nil
	}

	if node.Config == nil || node.Config.DelayValue <= 0 {
		return engine.HandlerResult{}, configError(node, "delay node requires a positive value")
	}

	delayMs := node.Config.DelayValue * float64(DelayUnitMs(node.Config.DelayUnit))
	return engine.HandlerResult{RequeueAfter: time.Duration(delayMs) * time.Millisecond}, nil
}
