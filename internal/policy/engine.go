// Package policy evaluates step-admission decisions with OPA. The executor
// consults it before dispatching each tool call; blocked steps are recorded
// as failed tool results, never executed.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.step_policy.decision"),
		rego.Module("step_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the step policy. Input keys: tool, mode, step_index,
// findings_count. Returns the decision (allow or block).
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "allow", nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return "allow", nil
}

// DefaultPolicy is the default step-admission policy: only known tool names
// pass, and chart generation is not available in template mode.
const DefaultPolicy = `
package step_policy

import rego.v1

default decision := "allow"

known_tools := {"analyze_document", "search_web", "generate_chart", "draft_section", "quality_check", "compile"}

decision := "block" if {
	not input.tool in known_tools
}

decision := "block" if {
	input.tool == "generate_chart"
	input.mode == "template"
}
`
