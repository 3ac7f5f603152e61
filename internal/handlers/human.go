package handlers

import "github.com/cahq/orchestrator/internal/engine"

// HumanDecisionKey is where a human node's resolution is stashed in the
// instance's Variables map once `cah complete`/`cah reject` records a
// decision for this node — the mechanism HandlerContext has available to
// learn what an external approval path decided, since a human node's
// re-entrant invocation carries no side channel of its own.
func HumanDecisionKey(nodeID string) string {
	return "__humanDecision:" + nodeID
}

// NewHumanDecision builds the map shape CAH CLI's complete/reject
// commands stash into the instance's Variables, in a form CEL's dyn
// typing can index directly (`output.approved`).
func NewHumanDecision(approved bool, reason string) map[string]interface{} {
	return map[string]interface{}{"approved": approved, "reason": reason}
}

// HumanHandler parks a node awaiting external input the first time it
// runs, and resolves with the recorded decision once one exists.
type HumanHandler struct{}

// Execute implements engine.Handler.
func (h *HumanHandler) Execute(hctx engine.HandlerContext) (engine.HandlerResult, error) {
	key := HumanDecisionKey(hctx.Node.ID)
	if hctx.Instance.Variables != nil {
		if raw, ok := hctx.Instance.Variables[key]; ok {
			delete(hctx.Instance.Variables, key)
			return engine.HandlerResult{Output: raw}, nil
		}
	}
	return engine.HandlerResult{WaitingHuman: true}, nil
}
