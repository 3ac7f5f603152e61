// Package planner synthesizes a workflow.Workflow from a task's
// natural-language description by asking a backend.Adapter for a JSON
// plan, the step the executor runs before starting a fresh instance.
//
// The planner never executes anything itself — it only turns prose into
// a graph, keeping graph construction and graph execution as separate
// concerns.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cahq/orchestrator/internal/backend"
	"github.com/cahq/orchestrator/internal/cherrors"
	"github.com/cahq/orchestrator/internal/workflow"
)

// Planner turns a task into a synthesized Workflow.
type Planner struct {
	Backend        *backend.Registry
	DefaultBackend string
}

// New builds a Planner backed by reg, falling back to defaultBackend when
// a task names none of its own.
func New(reg *backend.Registry, defaultBackend string) *Planner {
	return &Planner{Backend: reg, DefaultBackend: defaultBackend}
}

// planDoc is the JSON shape the planning prompt asks the backend to
// respond with — a minimal, flattened mirror of workflow.Workflow so the
// backend doesn't have to reconstruct Go's omitempty/pointer conventions
// exactly; Plan fills in the parts a JSON author would otherwise have to
// get exactly right (ids, timestamps).
type planDoc struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Nodes       []planNode           `json:"nodes"`
	Edges       []planEdge           `json:"edges"`
	Variables   map[string]any       `json:"variables"`
}

type planNode struct {
	ID      string              `json:"id"`
	Type    workflow.NodeType   `json:"type"`
	Name    string              `json:"name"`
	Config  *workflow.NodeConfig `json:"config"`
	OnError workflow.OnError    `json:"onError"`
}

type planEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Condition string `json:"condition"`
	MaxLoops  int    `json:"maxLoops"`
}

// planningPrompt is the fixed instruction prefix; the task's own
// description is appended verbatim.
const planningPrompt = `You are a workflow planner. Decompose the following task into a directed graph of typed nodes and reply with ONLY a single JSON object of this shape (no prose, no markdown fences):

{
  "name": "string",
  "description": "string",
  "nodes": [{"id": "string", "type": "start|end|task|condition|parallel|join|human|delay|schedule|loop|switch|assign|script|foreach", "name": "string", "config": {"prompt": "string"}, "onError": "fail|skip|continue"}],
  "edges": [{"from": "nodeId", "to": "nodeId", "condition": "", "maxLoops": 0}]
}

The graph MUST contain exactly one "start" node (first) and exactly one "end" node (last). Every edge must reference a node id that exists. Task:

`

// Plan asks t's backend for a workflow plan and converts it into a
// validated workflow.Workflow. now stamps CreatedAt (the caller supplies
// it rather than Plan calling time.Now() itself, so tests control the
// timestamp; workflow and node ids still come from uuid).
func (p *Planner) Plan(ctx context.Context, t workflow.Task, now time.Time) (workflow.Workflow, error) {
	adapter, err := p.Backend.Resolve(t.Backend, p.DefaultBackend)
	if err != nil {
		return workflow.Workflow{}, err
	}

	result, err := adapter.Invoke(ctx, backend.Request{
		Prompt:  planningPrompt + t.Description,
		Model:   t.Model,
		CWD:     t.Cwd,
		Timeout: 5 * time.Minute,
	})
	if err != nil {
		return workflow.Workflow{}, err
	}

	doc, err := parsePlanDoc(result.Response)
	if err != nil {
		return workflow.Workflow{}, cherrors.Wrap(cherrors.GraphInvariantViolation, "planner response was not a valid workflow plan", err)
	}

	wf := toWorkflow(doc, t, now)
	if err := wf.Validate(); err != nil {
		return workflow.Workflow{}, err
	}
	return wf, nil
}

// parsePlanDoc extracts the JSON object from resp, tolerating a backend
// that wraps it in a markdown code fence or surrounding prose despite the
// prompt asking it not to — real CLI AI backends do this often enough
// that failing on the first stray sentence would make planning
// unreliable in practice.
func parsePlanDoc(resp string) (planDoc, error) {
	body := strings.TrimSpace(resp)
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(body, "```")
		body = strings.TrimSpace(body)
	}
	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start == -1 || end == -1 || end < start {
		return planDoc{}, fmt.Errorf("planner: no JSON object found in response")
	}
	body = body[start : end+1]

	var doc planDoc
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return planDoc{}, fmt.Errorf("planner: decode plan JSON: %w", err)
	}
	if len(doc.Nodes) == 0 {
		return planDoc{}, fmt.Errorf("planner: plan has no nodes")
	}
	return doc, nil
}

func toWorkflow(doc planDoc, t workflow.Task, now time.Time) workflow.Workflow {
	nodes := make([]workflow.Node, 0, len(doc.Nodes))
	for _, n := range doc.Nodes {
		id := n.ID
		if id == "" {
			id = uuid.NewString()
		}
		nodes = append(nodes, workflow.Node{
			ID:      id,
			Type:    n.Type,
			Name:    n.Name,
			Config:  n.Config,
			OnError: n.OnError,
		})
	}

	edges := make([]workflow.Edge, 0, len(doc.Edges))
	for i, e := range doc.Edges {
		edges = append(edges, workflow.Edge{
			ID:        fmt.Sprintf("e%d", i),
			From:      e.From,
			To:        e.To,
			Condition: e.Condition,
			MaxLoops:  e.MaxLoops,
		})
	}

	name := doc.Name
	if name == "" {
		name = t.Title
	}

	return workflow.Workflow{
		ID:          uuid.NewString(),
		TaskID:      t.ID,
		Name:        name,
		Description: doc.Description,
		Nodes:       nodes,
		Edges:       edges,
		Variables:   mergeVariables(doc.Variables, t.Cwd),
		CreatedAt:   now,
	}
}

func mergeVariables(vars map[string]any, cwd string) map[string]any {
	if vars == nil {
		vars = map[string]any{}
	}
	if cwd != "" {
		vars["cwd"] = cwd
	}
	return vars
}
