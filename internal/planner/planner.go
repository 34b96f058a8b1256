// Package planner turns a goal into an ordered tool-call plan. Plan
// generation consults the completion service in two phases (understand,
// compose) and substitutes a deterministic fallback plan on any failure, so
// the executor always has work to do.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/draftmill/orchestrator/internal/adapter/llm"
	"github.com/draftmill/orchestrator/internal/domain"
)

// maxDocExcerpt bounds how much uploaded-document context is sent to the
// completion service.
const maxDocExcerpt = 4096

// Planner generates plans. It never fails outward and never touches the
// store; the executor records planning events.
type Planner struct {
	llm llm.CompletionClient
}

// New creates a planner on the given completion client.
func New(client llm.CompletionClient) *Planner {
	return &Planner{llm: client}
}

const understandSystem = `You extract the core subject and intent from a user goal.
Answer with one short sentence naming the subject and what the user wants done with it.`

const composeSystem = `You are a planning assistant for a research pipeline.
Respond with JSON only, no prose and no code fences, matching exactly:
{"reasoning":"...","steps":[{"tool":"...","args":{},"reasoning":"..."}]}
Tools: analyze_document, search_web, generate_chart, draft_section, quality_check, compile.
Rules: analyze_document before search_web when a document is present;
generate_chart only after a step that gathers findings; compile must be the final step.`

// Plan produces an ordered tool-call plan for the goal. docContext is the
// uploaded-document text, empty when none was provided.
func (p *Planner) Plan(ctx context.Context, goal string, mode domain.RunMode, docContext string) *domain.Plan {
	hasDoc := docContext != ""

	subject, err := p.understand(ctx, goal, docContext)
	if err != nil {
		log.Warnf("planner: understand phase failed, using raw goal: %v", err)
		subject = goal
	}

	plan, err := p.compose(ctx, goal, subject, mode, hasDoc)
	if err != nil {
		log.Warnf("planner: compose phase failed, using fallback plan: %v", err)
		return FallbackPlan(goal, mode, hasDoc)
	}
	return plan
}

func (p *Planner) understand(ctx context.Context, goal, docContext string) (string, error) {
	prompt := "Goal: " + goal
	if docContext != "" {
		prompt += "\n\nDocument excerpt:\n" + excerpt(docContext, maxDocExcerpt)
	}
	out, err := p.llm.Complete(ctx, understandSystem, prompt)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty understanding")
	}
	return out, nil
}

func (p *Planner) compose(ctx context.Context, goal, subject string, mode domain.RunMode, hasDoc bool) (*domain.Plan, error) {
	prompt := fmt.Sprintf("Mode: %s\nGoal: %s\nSubject: %s\nDocument present: %t\nProduce the plan.",
		mode, goal, subject, hasDoc)
	out, err := p.llm.Complete(ctx, composeSystem, prompt)
	if err != nil {
		return nil, err
	}

	plan, err := parsePlan(out)
	if err != nil {
		return nil, err
	}
	if err := validatePlan(plan, hasDoc); err != nil {
		return nil, err
	}
	return plan, nil
}

// parsePlan decodes the model output against the strict plan schema. The
// only tolerance is stripping a surrounding markdown fence; anything else
// that fails to unmarshal is a planning error.
func parsePlan(out string) (*domain.Plan, error) {
	raw := stripFence(strings.TrimSpace(out))

	var plan domain.Plan
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("plan output did not match schema: %w", err)
	}
	return &plan, nil
}

// validatePlan enforces the composition rules. A violating plan is rejected
// wholesale; the deterministic fallback is always well-formed.
func validatePlan(plan *domain.Plan, hasDoc bool) error {
	if len(plan.Steps) == 0 {
		return fmt.Errorf("plan has no steps")
	}

	sawFindings := false
	sawSearch := false
	for i, step := range plan.Steps {
		if !step.Tool.Valid() {
			return fmt.Errorf("step %d: unknown tool %q", i, step.Tool)
		}
		if step.Tool == domain.ToolCompile && i != len(plan.Steps)-1 {
			return fmt.Errorf("step %d: compile must be the final step", i)
		}
		if step.Tool == domain.ToolGenerateChart && !sawFindings {
			return fmt.Errorf("step %d: generate_chart before any findings", i)
		}
		if step.Tool == domain.ToolAnalyzeDocument {
			if !hasDoc {
				return fmt.Errorf("step %d: analyze_document without a document", i)
			}
			if sawSearch {
				return fmt.Errorf("step %d: analyze_document must precede search_web", i)
			}
		}
		switch step.Tool {
		case domain.ToolSearchWeb:
			sawSearch = true
			sawFindings = true
		case domain.ToolAnalyzeDocument:
			sawFindings = true
		}
	}

	if plan.Steps[len(plan.Steps)-1].Tool != domain.ToolCompile {
		plan.Steps = append(plan.Steps, domain.ToolCall{
			Tool:      domain.ToolCompile,
			Reasoning: "assemble the final artifact",
		})
	}
	return nil
}

// FallbackPlan is the deterministic plan used when the completion service is
// unreachable or returns unparsable output. It depends only on the mode and
// whether document context is present.
func FallbackPlan(goal string, mode domain.RunMode, hasDoc bool) *domain.Plan {
	queryArgs, _ := json.Marshal(map[string]string{"query": goal})

	var steps []domain.ToolCall
	if hasDoc {
		steps = append(steps, domain.ToolCall{
			Tool:      domain.ToolAnalyzeDocument,
			Reasoning: "extract key points from the uploaded document",
		})
	}

	switch mode {
	case domain.RunModeTemplate:
		steps = append(steps,
			domain.ToolCall{Tool: domain.ToolDraftSection, Reasoning: "draft the template structure"},
		)
	case domain.RunModeChart:
		steps = append(steps,
			domain.ToolCall{Tool: domain.ToolSearchWeb, Args: queryArgs, Reasoning: "gather data for the chart"},
			domain.ToolCall{Tool: domain.ToolGenerateChart, Reasoning: "render the chart from findings"},
		)
	default: // research, report
		steps = append(steps,
			domain.ToolCall{Tool: domain.ToolSearchWeb, Args: queryArgs, Reasoning: "gather sources on the goal"},
			domain.ToolCall{Tool: domain.ToolQualityCheck, Reasoning: "check coverage of the findings"},
			domain.ToolCall{Tool: domain.ToolDraftSection, Reasoning: "draft the main section from findings"},
		)
	}

	steps = append(steps, domain.ToolCall{Tool: domain.ToolCompile, Reasoning: "assemble the final artifact"})
	return &domain.Plan{
		Reasoning: "fallback plan: completion service unavailable or returned unusable output",
		Steps:     steps,
	}
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func excerpt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
