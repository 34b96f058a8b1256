package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/draftmill/orchestrator/internal/config"
	"github.com/draftmill/orchestrator/internal/domain"
	"github.com/draftmill/orchestrator/internal/policy"
	store "github.com/draftmill/orchestrator/internal/repository"
	"github.com/draftmill/orchestrator/internal/tools"
)

func testConfig() *config.Config {
	return &config.Config{
		StepBudget:  20,
		StepTimeout: 5 * time.Second,
	}
}

func newTestHarness(t *testing.T) (*store.SQLiteStore, *policy.Engine) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return st, engine
}

func seedRun(t *testing.T, st *store.SQLiteStore, mode domain.RunMode) *domain.Run {
	t.Helper()
	now := time.Now()
	run := &domain.Run{
		RunID:     mode.IDPrefix() + "test0001",
		OwnerID:   "u1",
		Goal:      "renewable energy storage",
		Mode:      mode,
		Status:    domain.RunStatusPlanning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := st.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	return run
}

func allEvents(t *testing.T, st *store.SQLiteStore, runID string) []domain.Event {
	t.Helper()
	events, err := st.EventsSince(context.Background(), runID, 0, 0)
	if err != nil {
		t.Fatalf("EventsSince failed: %v", err)
	}
	return events
}

func eventTypes(events []domain.Event) []domain.EventType {
	out := make([]domain.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func stubHandler(summary string, findings ...domain.Finding) tools.Handler {
	return func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
		return &tools.Result{Summary: summary, Findings: findings}, nil
	}
}

func TestExecuteRunsPlanToCompletion(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeResearch)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolSearchWeb,
		stubHandler("found 2 results", domain.Finding{Source: "https://a", Content: "fact"}))
	registry.MustRegister(domain.ToolDraftSection,
		func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
			return &tools.Result{
				Summary: "drafted",
				Section: &domain.Section{Title: "Overview", Content: "text"},
			}, nil
		})

	plan := &domain.Plan{
		Reasoning: "search then draft",
		Steps: []domain.ToolCall{
			{Tool: domain.ToolSearchWeb, Reasoning: "gather"},
			{Tool: domain.ToolDraftSection, Reasoning: "write"},
			{Tool: domain.ToolCompile, Reasoning: "assemble"},
		},
	}

	ex := New(st, registry, engine, testConfig())
	ex.Execute(context.Background(), run, plan)

	got, err := st.GetRun(context.Background(), run.RunID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Result == "" {
		t.Fatal("expected a compiled result")
	}

	types := eventTypes(allEvents(t, st, run.RunID))
	want := []domain.EventType{
		domain.EventTypeThinking,
		domain.EventTypeToolCall, domain.EventTypeToolResult,
		domain.EventTypeToolCall, domain.EventTypeToolResult,
		domain.EventTypeSectionCompleted,
		domain.CompletedEventType(domain.RunModeResearch),
	}
	if len(types) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d: expected %s, got %s (all: %v)", i, want[i], types[i], types)
		}
	}
}

func TestExecuteAbsorbsStepFailure(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeResearch)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolSearchWeb,
		stubHandler("ok", domain.Finding{Source: "s", Content: "c"}))
	registry.MustRegister(domain.ToolDraftSection,
		func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
			return nil, fmt.Errorf("synthesis blew up")
		})

	plan := &domain.Plan{Steps: []domain.ToolCall{
		{Tool: domain.ToolSearchWeb},
		{Tool: domain.ToolDraftSection},
		{Tool: domain.ToolSearchWeb},
		{Tool: domain.ToolCompile},
	}}

	ex := New(st, registry, engine, testConfig())
	ex.Execute(context.Background(), run, plan)

	got, _ := st.GetRun(context.Background(), run.RunID)
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("a failed step must not fail the run, got %s", got.Status)
	}

	events := allEvents(t, st, run.RunID)
	var failedResults int
	for _, ev := range events {
		if ev.Type != domain.EventTypeToolResult {
			continue
		}
		var p domain.ToolResultPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("bad tool.result payload: %v", err)
		}
		if !p.OK {
			failedResults++
			if p.Error == "" {
				t.Fatal("failed tool.result must carry the error")
			}
		}
	}
	if failedResults != 1 {
		t.Fatalf("expected exactly 1 failed tool.result, got %d", failedResults)
	}
	// Execution continued past the failure: both searches ran.
	types := eventTypes(events)
	calls := 0
	for _, typ := range types {
		if typ == domain.EventTypeToolCall {
			calls++
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 tool.call events, got %d (%v)", calls, types)
	}
}

func TestExecuteStopsAfterCancellation(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeResearch)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolSearchWeb,
		func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
			// Cancel arrives while this step is in flight.
			if _, err := st.CompleteRun(context.Background(), run.RunID, domain.RunStatusCancelled, "", nil); err != nil {
				t.Errorf("cancel failed: %v", err)
			}
			return &tools.Result{Summary: "finished anyway"}, nil
		})
	registry.MustRegister(domain.ToolDraftSection,
		func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
			t.Error("step after cancellation must not run")
			return &tools.Result{}, nil
		})

	plan := &domain.Plan{Steps: []domain.ToolCall{
		{Tool: domain.ToolSearchWeb},
		{Tool: domain.ToolDraftSection},
		{Tool: domain.ToolCompile},
	}}

	ex := New(st, registry, engine, testConfig())
	ex.Execute(context.Background(), run, plan)

	got, _ := st.GetRun(context.Background(), run.RunID)
	if got.Status != domain.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// The in-flight step still produced its pair of events; nothing follows.
	types := eventTypes(allEvents(t, st, run.RunID))
	for _, typ := range types {
		if typ == domain.CompletedEventType(domain.RunModeResearch) {
			t.Fatalf("cancelled run must not emit a completion event: %v", types)
		}
	}
	calls := 0
	for _, typ := range types {
		if typ == domain.EventTypeToolCall {
			calls++
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 tool.call before cancellation, got %d (%v)", calls, types)
	}
}

func TestExecuteStepBudgetBoundsSplicedPlans(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeResearch)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolSearchWeb,
		stubHandler("searched"))
	// A quality check that is never satisfied keeps splicing searches in.
	registry.MustRegister(domain.ToolQualityCheck,
		func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
			return &tools.Result{
				Summary: "still not enough",
				FollowUp: &domain.ToolCall{
					Tool:      domain.ToolSearchWeb,
					Reasoning: "search again",
				},
			}, nil
		})

	plan := &domain.Plan{Steps: []domain.ToolCall{
		{Tool: domain.ToolSearchWeb},
		{Tool: domain.ToolQualityCheck},
		{Tool: domain.ToolQualityCheck},
		{Tool: domain.ToolCompile},
	}}

	cfg := testConfig()
	cfg.StepBudget = 6
	ex := New(st, registry, engine, cfg)

	done := make(chan struct{})
	go func() {
		ex.Execute(context.Background(), run, plan)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("run did not terminate under an ever-expanding plan")
	}

	got, _ := st.GetRun(context.Background(), run.RunID)
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed at budget, got %s", got.Status)
	}

	calls := 0
	for _, typ := range eventTypes(allEvents(t, st, run.RunID)) {
		if typ == domain.EventTypeToolCall {
			calls++
		}
	}
	if calls != cfg.StepBudget {
		t.Fatalf("expected exactly %d executed steps, got %d", cfg.StepBudget, calls)
	}
}

func TestExecuteEmptyFindingsStillCompletes(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeResearch)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolSearchWeb, stubHandler("found 0 results"))

	plan := &domain.Plan{Steps: []domain.ToolCall{
		{Tool: domain.ToolSearchWeb},
		{Tool: domain.ToolCompile},
	}}

	ex := New(st, registry, engine, testConfig())
	ex.Execute(context.Background(), run, plan)

	got, _ := st.GetRun(context.Background(), run.RunID)
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Result == "" {
		t.Fatal("empty run must still carry templated content")
	}
}

func TestExecutePolicyBlockedStepFailsClosed(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeTemplate)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolGenerateChart,
		func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
			t.Error("blocked step must not reach its handler")
			return &tools.Result{}, nil
		})

	plan := &domain.Plan{Steps: []domain.ToolCall{
		{Tool: domain.ToolGenerateChart},
		{Tool: domain.ToolCompile},
	}}

	ex := New(st, registry, engine, testConfig())
	ex.Execute(context.Background(), run, plan)

	events := allEvents(t, st, run.RunID)
	var sawBlocked bool
	for _, ev := range events {
		if ev.Type != domain.EventTypeToolResult {
			continue
		}
		var p domain.ToolResultPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("bad payload: %v", err)
		}
		if !p.OK {
			sawBlocked = true
		}
	}
	if !sawBlocked {
		t.Fatal("expected a failed tool.result for the blocked step")
	}
}

func TestExecuteContainsHandlerPanics(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeResearch)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolSearchWeb,
		func(ctx context.Context, inv tools.Invocation) (*tools.Result, error) {
			panic("handler bug")
		})

	plan := &domain.Plan{Steps: []domain.ToolCall{
		{Tool: domain.ToolSearchWeb},
		{Tool: domain.ToolCompile},
	}}

	ex := New(st, registry, engine, testConfig())
	ex.Execute(context.Background(), run, plan)

	got, _ := st.GetRun(context.Background(), run.RunID)
	if got.Status != domain.RunStatusCompleted {
		t.Fatalf("a panicking handler must not crash the run, got %s", got.Status)
	}
}

func TestExecuteTerminalEventPrecedesTerminalStatus(t *testing.T) {
	st, engine := newTestHarness(t)
	run := seedRun(t, st, domain.RunModeReport)

	registry := tools.NewRegistry()
	registry.MustRegister(domain.ToolSearchWeb,
		stubHandler("ok", domain.Finding{Source: "s", Content: "c"}))

	plan := &domain.Plan{Steps: []domain.ToolCall{
		{Tool: domain.ToolSearchWeb},
		{Tool: domain.ToolCompile},
	}}

	ex := New(st, registry, engine, testConfig())
	ex.Execute(context.Background(), run, plan)

	got, _ := st.GetRun(context.Background(), run.RunID)
	if !got.Status.Terminal() {
		t.Fatalf("expected terminal status, got %s", got.Status)
	}

	// Status observed terminal implies the completion event is readable.
	types := eventTypes(allEvents(t, st, run.RunID))
	if types[len(types)-1] != domain.CompletedEventType(domain.RunModeReport) {
		t.Fatalf("expected %s as the final event, got %v",
			domain.CompletedEventType(domain.RunModeReport), types)
	}
}
