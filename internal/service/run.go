package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/draftmill/orchestrator/internal/domain"
)

// ErrRunNotFound is returned when a run id resolves to nothing.
var ErrRunNotFound = fmt.Errorf("run not found")

// CreateRun validates the request, persists the run, and starts its
// executor goroutine. The returned id's prefix encodes the mode.
func (s *Service) CreateRun(ctx context.Context, req domain.CreateRunRequest) (*domain.CreateRunResponse, error) {
	if req.Goal == "" {
		return nil, fmt.Errorf("goal is required")
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("invalid mode %q", req.Mode)
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = "default_user"
	}

	now := time.Now()
	run := &domain.Run{
		RunID:     req.Mode.IDPrefix() + uuid.New().String(),
		OwnerID:   ownerID,
		Goal:      req.Goal,
		Mode:      req.Mode,
		Status:    domain.RunStatusPlanning,
		Document:  req.Document,
		Metadata:  req.Options,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	go s.executeRun(run)

	return &domain.CreateRunResponse{RunID: run.RunID}, nil
}

// executeRun owns the run from planning to a terminal state. The watchdog
// is the only preemptive cancellation: on expiry it force-fails the run and
// cancels the executor context regardless of progress.
func (s *Service) executeRun(run *domain.Run) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchdog := time.AfterFunc(s.cfg.RunTimeout, func() {
		log.Warnf("run %s exceeded max duration %s, forcing failure", run.RunID, s.cfg.RunTimeout)
		errData, _ := json.Marshal(domain.ErrorPayload{
			Code:    "timeout",
			Message: fmt.Sprintf("run exceeded maximum duration of %s", s.cfg.RunTimeout),
		})
		wctx, wcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer wcancel()
		updated, err := s.store.CompleteRun(wctx, run.RunID, domain.RunStatusFailed, "", errData)
		if err != nil {
			log.Errorf("run %s: watchdog failed to close run: %v", run.RunID, err)
		}
		if updated {
			if _, err := s.store.AppendEvent(wctx, run.RunID, domain.EventTypeError, errData); err != nil {
				log.Errorf("run %s: watchdog failed to record error event: %v", run.RunID, err)
			}
		}
		cancel()
	})
	defer watchdog.Stop()

	plan := s.planner.Plan(ctx, run.Goal, run.Mode, run.Document)
	if err := s.store.MergeRunMetadata(ctx, run.RunID, map[string]string{
		"plan_reasoning": plan.Reasoning,
		"plan_steps":     fmt.Sprintf("%d", len(plan.Steps)),
	}); err != nil {
		log.Warnf("run %s: failed to record plan metadata: %v", run.RunID, err)
	}

	s.executor.Execute(ctx, run, plan)
}

// CancelRun marks a run cancelled. Idempotent: a terminal run is left
// untouched. The executor notices before scheduling its next step; a step
// already in flight finishes on its own.
func (s *Service) CancelRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	if run.Status.Terminal() {
		return run, nil
	}

	if _, err := s.store.CompleteRun(ctx, runID, domain.RunStatusCancelled, "", nil); err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}
	return s.store.GetRun(ctx, runID)
}

// GetRun returns the run, including the compiled result once terminal.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}
	return run, nil
}

// ListRuns lists an owner's non-retired runs, newest first.
func (s *Service) ListRuns(ctx context.Context, ownerID string, limit int) ([]domain.Run, error) {
	return s.store.ListRuns(ctx, ownerID, limit)
}

// RetireRun soft-retires a run; the record and its log are kept.
func (s *Service) RetireRun(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return ErrRunNotFound
	}
	return s.store.RetireRun(ctx, runID)
}
