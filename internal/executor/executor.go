// Package executor drives a single run: it walks the plan sequentially,
// invokes tool handlers, appends progress events, and may splice additional
// steps on quality-check outcomes. A hard step budget bounds total executed
// steps no matter how many are spliced in, so every run terminates.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/draftmill/orchestrator/internal/compiler"
	"github.com/draftmill/orchestrator/internal/config"
	"github.com/draftmill/orchestrator/internal/domain"
	"github.com/draftmill/orchestrator/internal/policy"
	store "github.com/draftmill/orchestrator/internal/repository"
	"github.com/draftmill/orchestrator/internal/tools"
)

// Executor executes runs. One Execute call owns one run for its lifetime;
// it is the run's only event writer.
type Executor struct {
	store    store.Store
	registry *tools.Registry
	policy   *policy.Engine
	cfg      *config.Config
}

// New creates an executor.
func New(st store.Store, registry *tools.Registry, policyEngine *policy.Engine, cfg *config.Config) *Executor {
	return &Executor{
		store:    st,
		registry: registry,
		policy:   policyEngine,
		cfg:      cfg,
	}
}

// runState is the executor-local accumulation for one run.
type runState struct {
	run       *domain.Run
	plan      *domain.Plan
	findings  []domain.Finding
	sections  []domain.Section
	charts    []domain.ChartRef
	artifacts []domain.Artifact
	executed  int
}

// Execute walks the plan to a terminal state. Step-level failures are
// absorbed into failed tool.result events; only control-loop failures (store
// writes) escalate to a failed run.
func (e *Executor) Execute(ctx context.Context, run *domain.Run, plan *domain.Plan) {
	if plan.Reasoning != "" {
		if err := e.appendEvent(ctx, run.RunID, domain.EventTypeThinking,
			domain.ThinkingPayload{Text: plan.Reasoning}); err != nil {
			e.fail(run.RunID, fmt.Errorf("failed to record planning event: %w", err))
			return
		}
	}

	if ok, err := e.store.TransitionRun(ctx, run.RunID, domain.RunStatusRunning); err != nil {
		e.fail(run.RunID, fmt.Errorf("failed to transition run to running: %w", err))
		return
	} else if !ok {
		// Cancelled (or watchdog-failed) before the first step.
		return
	}

	st := &runState{run: run, plan: plan}
	if err := e.runLoop(ctx, st); err != nil {
		e.fail(run.RunID, err)
		return
	}
	e.compile(ctx, st)
}

// runLoop executes plan steps until the plan is exhausted, the budget is
// spent, or the run is externally terminal. It returns an error only for
// control-loop failures.
func (e *Executor) runLoop(ctx context.Context, st *runState) error {
	runID := st.run.RunID
	for i := 0; i < len(st.plan.Steps); i++ {
		step := st.plan.Steps[i]
		if step.Tool == domain.ToolCompile {
			break
		}
		if st.executed >= e.cfg.StepBudget {
			log.Warnf("run %s reached step budget %d, forcing compile", runID, e.cfg.StepBudget)
			break
		}

		// Cooperative cancellation: checked once before each step. A step
		// already in flight is never aborted.
		current, err := e.store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to read run status: %w", err)
		}
		if current == nil {
			return fmt.Errorf("run %s disappeared from store", runID)
		}
		if current.Status.Terminal() {
			log.Infof("run %s is %s, stopping before step %d", runID, current.Status, i)
			return errStopped
		}

		if err := e.executeStep(ctx, st, i); err != nil {
			return err
		}
		st.executed++
	}
	return nil
}

// errStopped signals that the run was closed externally; no compile phase
// and no further status writes follow.
var errStopped = fmt.Errorf("run externally terminal")

func (e *Executor) executeStep(ctx context.Context, st *runState, i int) error {
	runID := st.run.RunID
	step := st.plan.Steps[i]

	if err := e.appendEvent(ctx, runID, domain.EventTypeToolCall, domain.ToolCallPayload{
		StepIndex: i,
		Tool:      step.Tool,
		Purpose:   step.Reasoning,
	}); err != nil {
		return fmt.Errorf("failed to record tool.call: %w", err)
	}

	result, invokeErr := e.invoke(ctx, st, i)

	resPayload := domain.ToolResultPayload{StepIndex: i, Tool: step.Tool}
	if invokeErr != nil {
		resPayload.OK = false
		resPayload.Error = invokeErr.Error()
		log.Warnf("run %s step %d (%s) failed: %v", runID, i, step.Tool, invokeErr)
	} else {
		resPayload.OK = true
		resPayload.Summary = result.Summary
	}
	if err := e.appendEvent(ctx, runID, domain.EventTypeToolResult, resPayload); err != nil {
		return fmt.Errorf("failed to record tool.result: %w", err)
	}
	if invokeErr != nil {
		return nil
	}

	e.accumulate(st, i, result)

	if result.Section != nil {
		if err := e.appendEvent(ctx, runID, domain.EventTypeSectionCompleted, domain.SectionCompletedPayload{
			Index: len(st.sections) - 1,
			Title: result.Section.Title,
		}); err != nil {
			return fmt.Errorf("failed to record section.completed: %w", err)
		}
	}

	if result.FollowUp != nil {
		st.plan.Insert(i+1, *result.FollowUp)
		if err := e.appendEvent(ctx, runID, domain.EventTypePlanAdjusted, domain.PlanAdjustedPayload{
			AtIndex: i + 1,
			Tool:    result.FollowUp.Tool,
			Reason:  result.FollowUp.Reasoning,
		}); err != nil {
			return fmt.Errorf("failed to record plan.adjusted: %w", err)
		}
	}
	return nil
}

// invoke dispatches one step through the policy gate and the registry with
// a bounded timeout. Handler panics are contained here.
func (e *Executor) invoke(ctx context.Context, st *runState, i int) (result *tools.Result, err error) {
	step := st.plan.Steps[i]

	decision, policyErr := e.policy.Evaluate(ctx, map[string]interface{}{
		"tool":           string(step.Tool),
		"mode":           string(st.run.Mode),
		"step_index":     i,
		"findings_count": len(st.findings),
	})
	if policyErr != nil {
		return nil, fmt.Errorf("policy evaluation failed: %w", policyErr)
	}
	if decision != "allow" {
		return nil, fmt.Errorf("step blocked by policy")
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("tool handler panicked: %v", r)
		}
	}()

	return e.registry.Execute(stepCtx, tools.Invocation{
		Run:       st.run,
		Step:      step,
		StepIndex: i,
		Findings:  st.findings,
		Sections:  st.sections,
		Charts:    st.charts,
	})
}

func (e *Executor) accumulate(st *runState, i int, result *tools.Result) {
	artifact := domain.Artifact{
		StepIndex: i,
		Tool:      st.plan.Steps[i].Tool,
		Findings:  result.Findings,
		Section:   result.Section,
		Chart:     result.Chart,
	}
	st.artifacts = append(st.artifacts, artifact)
	st.findings = append(st.findings, result.Findings...)
	if result.Section != nil {
		st.sections = append(st.sections, *result.Section)
	}
	if result.Chart != nil {
		st.charts = append(st.charts, *result.Chart)
	}
}

// compile assembles the final artifact, appends the terminal event, and
// closes the run. The terminal event is appended before the status flips so
// a reader that observes a terminal status always sees a complete log.
func (e *Executor) compile(ctx context.Context, st *runState) {
	runID := st.run.RunID

	current, err := e.store.GetRun(ctx, runID)
	if err != nil {
		e.fail(runID, fmt.Errorf("failed to read run before compile: %w", err))
		return
	}
	if current == nil || current.Status.Terminal() {
		return
	}

	content := compiler.Compile(st.run.Mode, st.run.Goal, st.sections, st.artifacts)

	if err := e.appendEvent(ctx, runID, domain.CompletedEventType(st.run.Mode),
		domain.CompletedPayload{Content: content}); err != nil {
		e.fail(runID, fmt.Errorf("failed to record completion event: %w", err))
		return
	}

	if _, err := e.store.CompleteRun(ctx, runID, domain.RunStatusCompleted, content, nil); err != nil {
		e.fail(runID, fmt.Errorf("failed to complete run: %w", err))
		return
	}

	meta := map[string]string{
		"steps_executed": strconv.Itoa(st.executed),
		"findings_count": strconv.Itoa(len(st.findings)),
		"sections_count": strconv.Itoa(len(st.sections)),
	}
	if err := e.store.MergeRunMetadata(ctx, runID, meta); err != nil {
		log.Warnf("run %s: failed to record run metadata: %v", runID, err)
	}

	log.Infof("run %s completed: %d steps, %d findings, %d sections",
		runID, st.executed, len(st.findings), len(st.sections))
}

// fail closes the run as failed and records the error. Writes are best
// effort with a fresh context: the run context may already be dead.
func (e *Executor) fail(runID string, cause error) {
	if cause == errStopped {
		return
	}
	log.Errorf("run %s failed: %v", runID, cause)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errData, _ := json.Marshal(domain.ErrorPayload{Code: "fatal_run_error", Message: cause.Error()})
	updated, err := e.store.CompleteRun(ctx, runID, domain.RunStatusFailed, "", errData)
	if err != nil {
		log.Errorf("run %s: failed to record failure: %v", runID, err)
		return
	}
	if !updated {
		return
	}
	if _, err := e.store.AppendEvent(ctx, runID, domain.EventTypeError, errData); err != nil {
		log.Errorf("run %s: failed to record error event: %v", runID, err)
	}
}

func (e *Executor) appendEvent(ctx context.Context, runID string, typ domain.EventType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = e.store.AppendEvent(ctx, runID, typ, body)
	return err
}
