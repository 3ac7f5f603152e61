package workflow

import "github.com/cahq/orchestrator/internal/cherrors"

// Validate enforces the graph invariants required of every synthesized
// plan before it is ever persisted as workflow.json:
//
//  1. exactly one start node and exactly one end node
//  2. node ids are unique
//  3. every edge references known node ids
//  4. no edge originates at the end node
//  5. loop/switch configs reference only known node ids (foreach
//     configs are not checked)
//
// A violation is reported as a single *cherrors.Error of kind
// GraphInvariantViolation describing the first problem found; callers that
// want every problem at once should call CollectViolations instead.
func (w *Workflow) Validate() error {
	if errs := w.CollectViolations(); len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// CollectViolations runs every invariant check and returns all failures,
// instead of stopping at the first one. Validate is built on it and
// returns the first entry.
func (w *Workflow) CollectViolations() []*cherrors.Error {
	var errs []*cherrors.Error

	ids := make(map[string]Node, len(w.Nodes))
	var starts, ends int
	for _, n := range w.Nodes {
		if _, dup := ids[n.ID]; dup {
			errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "duplicate node id %q", n.ID))
			continue
		}
		ids[n.ID] = n
		switch n.Type {
		case NodeStart:
			starts++
		case NodeEnd:
			ends++
		}
	}

	if starts != 1 {
		errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "workflow must have exactly one start node, found %d", starts))
	}
	if ends != 1 {
		errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "workflow must have exactly one end node, found %d", ends))
	}

	endID := w.EndNode()

	edgeIDs := make(map[string]bool, len(w.Edges))
	for _, e := range w.Edges {
		if e.ID != "" {
			if edgeIDs[e.ID] {
				errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "duplicate edge id %q", e.ID))
			}
			edgeIDs[e.ID] = true
		}
		if _, ok := ids[e.From]; !ok {
			errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "edge %q references unknown source node %q", e.ID, e.From))
		}
		if _, ok := ids[e.To]; !ok {
			errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "edge %q references unknown target node %q", e.ID, e.To))
		}
		if endID != "" && e.From == endID {
			errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "edge %q originates at the end node %q", e.ID, endID))
		}
	}

	for _, n := range w.Nodes {
		if n.Config == nil {
			continue
		}
		switch n.Type {
		case NodeLoop:
			for _, bodyID := range n.Config.BodyNodes {
				if _, ok := ids[bodyID]; !ok {
					errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "loop node %q references unknown body node %q", n.ID, bodyID))
				}
			}
		case NodeForeach:
			// foreach's body is the set of nodes reachable between it and
			// its matching join; nothing to validate structurally here
			// beyond what the generic edge checks already cover.
		case NodeSwitch:
			for _, c := range n.Config.Cases {
				if _, ok := ids[c.TargetNode]; !ok {
					errs = append(errs, cherrors.Newf(cherrors.GraphInvariantViolation, "switch node %q case references unknown target node %q", n.ID, c.TargetNode))
				}
			}
		}
	}

	return errs
}
