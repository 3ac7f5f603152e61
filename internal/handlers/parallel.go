package handlers

import "github.com/cahq/orchestrator/internal/engine"

// ParallelHandler is a marker node: it emits no output, since fan-out
// already happens naturally from having multiple outgoing edges with no
// conditions (every edge is taken, per engine.route).
type ParallelHandler struct{}

// Execute implements engine.Handler.
func (h *ParallelHandler) Execute(_ engine.HandlerContext) (engine.HandlerResult, error) {
	return engine.HandlerResult{}, nil
}
