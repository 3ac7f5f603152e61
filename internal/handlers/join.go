package handlers

import "github.com/cahq/orchestrator/internal/engine"

// JoinHandler succeeds unconditionally: a join node only ever becomes
// ready once every inbound edge's upstream has completed, since
// state.GetReadyNodes already requires all predecessors done before a
// node is eligible to run.
type JoinHandler struct{}

// Execute implements engine.Handler.
func (h *JoinHandler) Execute(_ engine.HandlerContext) (engine.HandlerResult, error) {
	return engine.HandlerResult{}, nil
}
