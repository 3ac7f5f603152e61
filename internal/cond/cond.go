// Package cond evaluates the small expression language used by condition,
// switch, script, and loop nodes. Expressions run against a
// workflow instance's variables and the most recent node output; they
// must never be able to read a file, open a socket, or otherwise escape
// the sandbox, so evaluation is built on google/cel-go's restricted
// expression environment rather than a general-purpose interpreter or
// anything that shells out.
//
// A failing or unparseable expression never panics upward: EvalBool
// returns (false, err) and EvalValue returns (nil, err). What happens next
// is up to the caller: the engine's edge routing treats the edge as not
// satisfied, and the node handlers fail the node without retry; neither
// logs a warning.
package cond

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// Evaluator compiles and runs expressions against a fixed variable
// declaration set: vars (the instance's variables map) and output (the
// triggering node's most recent result), both dynamic maps so workflow
// authors are not constrained to a fixed schema, plus item (dynamic) and
// index (int).
type Evaluator struct {
	env *cel.Env
}

// New builds an Evaluator. Constructing the CEL environment is the
// expensive part, so callers share one Evaluator across an entire
// instance's evaluation rather than building one per call.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("vars", cel.DynType),
		cel.Variable("output", cel.DynType),
		cel.Variable("item", cel.DynType),
		cel.Variable("index", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("cond: build cel environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Vars is the binding set passed to Eval.
type Vars struct {
	Variables map[string]interface{}
	Output    interface{}
	Item      interface{}
	Index     int
}

func (v Vars) toActivation() map[string]interface{} {
	vars := v.Variables
	if vars == nil {
		vars = map[string]interface{}{}
	}
	return map[string]interface{}{
		"vars":   vars,
		"output": v.Output,
		"item":   v.Item,
		"index":  int64(v.Index),
	}
}

// EvalBool compiles and evaluates expr, coercing the result to bool. A
// compile error, a runtime error, or a non-bool result all produce
// (false, err) rather than panicking — the caller logs err and treats the
// edge/branch as not taken.
func (e *Evaluator) EvalBool(expr string, vars Vars) (bool, error) {
	out, err := e.eval(expr, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("cond: expression %q did not evaluate to a boolean", expr)
	}
	return b, nil
}

// EvalValue compiles and evaluates expr, returning the raw result — used
// by assign/script nodes, whose Assignments may bind any value type.
func (e *Evaluator) EvalValue(expr string, vars Vars) (interface{}, error) {
	out, err := e.eval(expr, vars)
	if err != nil {
		return nil, err
	}
	return out.Value(), nil
}

func (e *Evaluator) eval(expr string, vars Vars) (ref.Val, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cond: compile %q: %w", expr, issues.Err())
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cond: build program for %q: %w", expr, err)
	}

	out, _, err := prg.Eval(vars.toActivation())
	if err != nil {
		return nil, fmt.Errorf("cond: evaluate %q: %w", expr, err)
	}
	return out, nil
}

// SwitchMatch evaluates node against a switch node's cases in declaration
// order, returning the target of the first case whose Value expression
// evaluates truthy, or the Default case if none match. An empty string
// result means no case matched and no default was declared — the caller
// treats this as the switch node itself failing, subject to its
// configured onError policy.
func (e *Evaluator) SwitchMatch(cases []Case, vars Vars) (target string, matched bool, err error) {
	var defaultTarget string
	haveDefault := false

	for _, c := range cases {
		if c.Default {
			defaultTarget = c.TargetNode
			haveDefault = true
			continue
		}
		ok, evalErr := e.EvalBool(c.Value, vars)
		if evalErr != nil {
			return "", false, evalErr
		}
		if ok {
			return c.TargetNode, true, nil
		}
	}
	if haveDefault {
		return defaultTarget, true, nil
	}
	return "", false, nil
}

// Case mirrors workflow.SwitchCase without importing the workflow package,
// keeping cond free of a dependency on the domain model it evaluates
// against — callers adapt workflow.SwitchCase to cond.Case at the call
// site (see handlers/switch.go).
type Case struct {
	Value      string
	Default    bool
	TargetNode string
}
