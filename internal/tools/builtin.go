package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/draftmill/orchestrator/internal/adapter/charts"
	"github.com/draftmill/orchestrator/internal/adapter/llm"
	"github.com/draftmill/orchestrator/internal/adapter/search"
	"github.com/draftmill/orchestrator/internal/domain"
)

const (
	defaultMaxResults = 5
	maxAnalyzeExcerpt = 4096
)

// NewBuiltinRegistry wires the standard handlers onto the given service
// clients. The compile step is not a handler; the executor owns it.
func NewBuiltinRegistry(completion llm.CompletionClient, searcher search.Searcher, renderer charts.Renderer) *Registry {
	r := NewRegistry()
	r.MustRegister(domain.ToolAnalyzeDocument, analyzeDocument(completion))
	r.MustRegister(domain.ToolSearchWeb, searchWeb(searcher))
	r.MustRegister(domain.ToolGenerateChart, generateChart(renderer))
	r.MustRegister(domain.ToolDraftSection, draftSection(completion))
	r.MustRegister(domain.ToolQualityCheck, qualityCheck(completion))
	return r
}

func analyzeDocument(completion llm.CompletionClient) Handler {
	return func(ctx context.Context, inv Invocation) (*Result, error) {
		doc := inv.Run.Document
		if doc == "" {
			return nil, fmt.Errorf("no document attached to run")
		}
		if len(doc) > maxAnalyzeExcerpt {
			doc = doc[:maxAnalyzeExcerpt]
		}

		out, err := completion.Complete(ctx,
			"Extract the key facts from the document that are relevant to the goal. One fact per line.",
			"Goal: "+inv.Run.Goal+"\n\nDocument:\n"+doc)
		if err != nil {
			return nil, fmt.Errorf("document analysis failed: %w", err)
		}

		var findings []domain.Finding
		for _, line := range strings.Split(out, "\n") {
			line = strings.TrimSpace(strings.TrimLeft(line, "-* "))
			if line == "" {
				continue
			}
			findings = append(findings, domain.Finding{Source: "document", Content: line})
		}
		if len(findings) == 0 {
			return nil, fmt.Errorf("document analysis produced no findings")
		}
		return &Result{
			Summary:  fmt.Sprintf("extracted %d findings from document", len(findings)),
			Findings: findings,
		}, nil
	}
}

type searchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

func searchWeb(searcher search.Searcher) Handler {
	return func(ctx context.Context, inv Invocation) (*Result, error) {
		var args searchArgs
		if len(inv.Step.Args) > 0 {
			if err := json.Unmarshal(inv.Step.Args, &args); err != nil {
				return nil, fmt.Errorf("invalid search args: %w", err)
			}
		}
		if args.Query == "" {
			args.Query = inv.Run.Goal
		}
		if args.MaxResults <= 0 {
			args.MaxResults = defaultMaxResults
		}

		results, err := searcher.Search(ctx, args.Query, args.MaxResults)
		if err != nil {
			return nil, fmt.Errorf("web search failed: %w", err)
		}

		findings := make([]domain.Finding, 0, len(results))
		for _, res := range results {
			findings = append(findings, domain.Finding{
				Source:  res.URL,
				Content: res.Title + ": " + res.Snippet,
			})
		}
		return &Result{
			Summary:  fmt.Sprintf("found %d results for %q", len(results), args.Query),
			Findings: findings,
		}, nil
	}
}

func generateChart(renderer charts.Renderer) Handler {
	return func(ctx context.Context, inv Invocation) (*Result, error) {
		spec, err := chartSpecFor(inv)
		if err != nil {
			return nil, err
		}

		ref, err := renderer.Render(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("chart generation failed: %w", err)
		}
		return &Result{
			Summary: fmt.Sprintf("rendered %s chart %q", ref.Kind, ref.Title),
			Chart:   ref,
		}, nil
	}
}

// chartSpecFor uses the planned args when present, otherwise derives a bar
// chart of findings per source from the accumulated state.
func chartSpecFor(inv Invocation) (charts.Spec, error) {
	if len(inv.Step.Args) > 0 {
		var spec charts.Spec
		if err := json.Unmarshal(inv.Step.Args, &spec); err != nil {
			return charts.Spec{}, fmt.Errorf("invalid chart args: %w", err)
		}
		return spec, nil
	}

	if len(inv.Findings) == 0 {
		return charts.Spec{}, fmt.Errorf("no findings to chart")
	}
	counts := map[string]int{}
	var order []string
	for _, f := range inv.Findings {
		if _, seen := counts[f.Source]; !seen {
			order = append(order, f.Source)
		}
		counts[f.Source]++
	}
	values := make([]float64, len(order))
	for i, src := range order {
		values[i] = float64(counts[src])
	}
	return charts.Spec{
		Kind:   "bar",
		Title:  inv.Run.Goal,
		X:      order,
		Series: []charts.Series{{Name: "findings", Values: values}},
	}, nil
}

type sectionArgs struct {
	Title string `json:"title,omitempty"`
	Focus string `json:"focus,omitempty"`
}

func draftSection(completion llm.CompletionClient) Handler {
	return func(ctx context.Context, inv Invocation) (*Result, error) {
		var args sectionArgs
		if len(inv.Step.Args) > 0 {
			if err := json.Unmarshal(inv.Step.Args, &args); err != nil {
				return nil, fmt.Errorf("invalid section args: %w", err)
			}
		}
		if args.Title == "" {
			args.Title = fmt.Sprintf("Section %d", len(inv.Sections)+1)
		}

		var sb strings.Builder
		for _, f := range inv.Findings {
			sb.WriteString("- ")
			sb.WriteString(f.Content)
			sb.WriteString(" (")
			sb.WriteString(f.Source)
			sb.WriteString(")\n")
		}

		prompt := "Goal: " + inv.Run.Goal + "\nSection: " + args.Title
		if args.Focus != "" {
			prompt += "\nFocus: " + args.Focus
		}
		prompt += "\n\nFindings:\n" + sb.String()

		content, err := completion.Complete(ctx,
			"Write one concise section of the final document using only the provided findings.", prompt)
		if err != nil || strings.TrimSpace(content) == "" {
			// Synthesis failures degrade to a listing of the raw findings;
			// the run still produces content.
			content = sb.String()
			if content == "" {
				content = "No findings were available for this section."
			}
		}

		return &Result{
			Summary: fmt.Sprintf("drafted section %q", args.Title),
			Section: &domain.Section{Title: args.Title, Content: content},
		}, nil
	}
}

type qualityVerdict struct {
	Sufficient   bool   `json:"sufficient"`
	RefinedQuery string `json:"refined_query,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func qualityCheck(completion llm.CompletionClient) Handler {
	return func(ctx context.Context, inv Invocation) (*Result, error) {
		verdict := evaluateFindings(ctx, completion, inv)
		if verdict.Sufficient {
			return &Result{Summary: "findings cover the goal"}, nil
		}

		query := verdict.RefinedQuery
		if query == "" {
			query = inv.Run.Goal
		}
		args, _ := json.Marshal(searchArgs{Query: query})
		reason := verdict.Reason
		if reason == "" {
			reason = "findings do not cover the goal"
		}
		return &Result{
			Summary: "findings insufficient: " + reason,
			FollowUp: &domain.ToolCall{
				Tool:      domain.ToolSearchWeb,
				Args:      args,
				Reasoning: reason,
			},
		}, nil
	}
}

// evaluateFindings asks the completion service for a verdict and falls back
// to a count heuristic when the service is unreachable or unparsable.
func evaluateFindings(ctx context.Context, completion llm.CompletionClient, inv Invocation) qualityVerdict {
	var sb strings.Builder
	for _, f := range inv.Findings {
		sb.WriteString("- ")
		sb.WriteString(f.Content)
		sb.WriteString("\n")
	}

	out, err := completion.Complete(ctx,
		`Judge whether the findings cover the goal. Respond with JSON only:
{"sufficient":true|false,"refined_query":"...","reason":"..."}`,
		"Goal: "+inv.Run.Goal+"\n\nFindings:\n"+sb.String())
	if err == nil {
		var verdict qualityVerdict
		if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(out)), &verdict); jsonErr == nil {
			return verdict
		}
	}

	// Heuristic fallback: empty findings need another search.
	if len(inv.Findings) == 0 {
		return qualityVerdict{Sufficient: false, Reason: "no findings gathered yet"}
	}
	return qualityVerdict{Sufficient: true}
}
