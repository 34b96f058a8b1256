package tools

import (
	"context"
	"fmt"
	"testing"

	"github.com/draftmill/orchestrator/internal/adapter/charts"
	"github.com/draftmill/orchestrator/internal/adapter/llm"
	"github.com/draftmill/orchestrator/internal/domain"
)

type fakeSearcher struct {
	results []domain.SearchResult
	err     error
	queries []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]domain.SearchResult, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

type fakeRenderer struct {
	ref  *domain.ChartRef
	err  error
	spec charts.Spec
}

func (f *fakeRenderer) Render(ctx context.Context, spec charts.Spec) (*domain.ChartRef, error) {
	f.spec = spec
	return f.ref, f.err
}

func testRun() *domain.Run {
	return &domain.Run{
		RunID: "res_test0001",
		Goal:  "battery recycling",
		Mode:  domain.RunModeResearch,
	}
}

func TestSearchWebDefaultsToGoal(t *testing.T) {
	searcher := &fakeSearcher{results: []domain.SearchResult{
		{Title: "A", URL: "https://a", Snippet: "alpha"},
		{Title: "B", URL: "https://b", Snippet: "beta"},
	}}
	handler := searchWeb(searcher)

	result, err := handler(context.Background(), Invocation{
		Run:  testRun(),
		Step: domain.ToolCall{Tool: domain.ToolSearchWeb},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(result.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(result.Findings))
	}
	if searcher.queries[0] != "battery recycling" {
		t.Fatalf("expected goal as default query, got %q", searcher.queries[0])
	}
	if result.Findings[0].Source != "https://a" {
		t.Fatalf("unexpected finding source: %q", result.Findings[0].Source)
	}
}

func TestSearchWebPropagatesFailure(t *testing.T) {
	searcher := &fakeSearcher{err: fmt.Errorf("service down")}
	handler := searchWeb(searcher)

	if _, err := handler(context.Background(), Invocation{
		Run:  testRun(),
		Step: domain.ToolCall{Tool: domain.ToolSearchWeb},
	}); err == nil {
		t.Fatal("expected search failure to propagate")
	}
}

func TestQualityCheckRequestsFollowUpSearch(t *testing.T) {
	completion := llm.NewMockClient(`{"sufficient":false,"refined_query":"battery recycling economics","reason":"missing cost data"}`)
	handler := qualityCheck(completion)

	result, err := handler(context.Background(), Invocation{
		Run:      testRun(),
		Step:     domain.ToolCall{Tool: domain.ToolQualityCheck},
		Findings: []domain.Finding{{Source: "s", Content: "c"}},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.FollowUp == nil {
		t.Fatal("expected a follow-up step")
	}
	if result.FollowUp.Tool != domain.ToolSearchWeb {
		t.Fatalf("expected search_web follow-up, got %s", result.FollowUp.Tool)
	}
	if result.FollowUp.Reasoning != "missing cost data" {
		t.Fatalf("unexpected follow-up reasoning: %q", result.FollowUp.Reasoning)
	}
}

func TestQualityCheckSufficientFindings(t *testing.T) {
	completion := llm.NewMockClient(`{"sufficient":true}`)
	handler := qualityCheck(completion)

	result, err := handler(context.Background(), Invocation{
		Run:      testRun(),
		Step:     domain.ToolCall{Tool: domain.ToolQualityCheck},
		Findings: []domain.Finding{{Source: "s", Content: "c"}},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.FollowUp != nil {
		t.Fatal("sufficient findings should not request a follow-up")
	}
}

func TestQualityCheckHeuristicFallback(t *testing.T) {
	completion := &llm.MockClient{Err: fmt.Errorf("unreachable")}
	handler := qualityCheck(completion)

	// No findings yet: the heuristic asks for another search.
	result, err := handler(context.Background(), Invocation{
		Run:  testRun(),
		Step: domain.ToolCall{Tool: domain.ToolQualityCheck},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.FollowUp == nil {
		t.Fatal("empty findings should trigger a follow-up search")
	}

	// With findings, the heuristic accepts.
	result, err = handler(context.Background(), Invocation{
		Run:      testRun(),
		Step:     domain.ToolCall{Tool: domain.ToolQualityCheck},
		Findings: []domain.Finding{{Source: "s", Content: "c"}},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.FollowUp != nil {
		t.Fatal("heuristic should accept non-empty findings")
	}
}

func TestDraftSectionDegradesOnCompletionFailure(t *testing.T) {
	completion := &llm.MockClient{Err: fmt.Errorf("unreachable")}
	handler := draftSection(completion)

	result, err := handler(context.Background(), Invocation{
		Run:      testRun(),
		Step:     domain.ToolCall{Tool: domain.ToolDraftSection},
		Findings: []domain.Finding{{Source: "https://a", Content: "important fact"}},
	})
	if err != nil {
		t.Fatalf("draft_section must not fail on completion errors: %v", err)
	}
	if result.Section == nil || result.Section.Content == "" {
		t.Fatalf("expected degraded content from raw findings: %+v", result)
	}
}

func TestGenerateChartDerivesSpecFromFindings(t *testing.T) {
	renderer := &fakeRenderer{ref: &domain.ChartRef{Kind: "bar", Title: "battery recycling", URL: "https://c/1.png"}}
	handler := generateChart(renderer)

	result, err := handler(context.Background(), Invocation{
		Run:  testRun(),
		Step: domain.ToolCall{Tool: domain.ToolGenerateChart},
		Findings: []domain.Finding{
			{Source: "https://a", Content: "one"},
			{Source: "https://a", Content: "two"},
			{Source: "https://b", Content: "three"},
		},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.Chart == nil {
		t.Fatal("expected a chart ref")
	}
	if renderer.spec.Kind != "bar" || len(renderer.spec.X) != 2 {
		t.Fatalf("unexpected derived spec: %+v", renderer.spec)
	}
	if renderer.spec.Series[0].Values[0] != 2 || renderer.spec.Series[0].Values[1] != 1 {
		t.Fatalf("unexpected counts: %+v", renderer.spec.Series)
	}
}

func TestGenerateChartRequiresFindings(t *testing.T) {
	renderer := &fakeRenderer{}
	handler := generateChart(renderer)

	if _, err := handler(context.Background(), Invocation{
		Run:  testRun(),
		Step: domain.ToolCall{Tool: domain.ToolGenerateChart},
	}); err == nil {
		t.Fatal("chart without args or findings should fail")
	}
}

func TestAnalyzeDocumentRequiresDocument(t *testing.T) {
	completion := llm.NewMockClient("fact one\nfact two")
	handler := analyzeDocument(completion)

	if _, err := handler(context.Background(), Invocation{
		Run:  testRun(),
		Step: domain.ToolCall{Tool: domain.ToolAnalyzeDocument},
	}); err == nil {
		t.Fatal("analyze_document without a document should fail")
	}

	run := testRun()
	run.Document = "some uploaded text"
	result, err := handler(context.Background(), Invocation{
		Run:  run,
		Step: domain.ToolCall{Tool: domain.ToolAnalyzeDocument},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if len(result.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(result.Findings))
	}
	if result.Findings[0].Source != "document" {
		t.Fatalf("unexpected source: %q", result.Findings[0].Source)
	}
}
