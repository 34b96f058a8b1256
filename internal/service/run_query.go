package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/draftmill/orchestrator/internal/domain"
)

// pollBatchLimit bounds one poll response. A full batch means the client
// should poll again immediately; done stays false until a partial batch is
// read from a terminal run.
const pollBatchLimit = 200

// Poll returns the events after the cursor as client-friendly items. The
// run status is read before the events so that a terminal status implies
// the log is already complete: done can never be reported with events still
// undelivered.
func (s *Service) Poll(ctx context.Context, runID string, cursor int64) (*domain.PollResponse, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, ErrRunNotFound
	}

	events, err := s.store.EventsSince(ctx, runID, cursor, pollBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	items := make([]domain.PollItem, 0, len(events))
	newCursor := cursor
	for _, ev := range events {
		items = append(items, ProjectEvent(ev))
		if ev.Seq > newCursor {
			newCursor = ev.Seq
		}
	}

	return &domain.PollResponse{
		Items:  items,
		Cursor: newCursor,
		Done:   run.Status.Terminal() && len(events) < pollBatchLimit,
		Status: run.Status,
	}, nil
}

// Events exposes the raw log for the push read model. Both read models
// consume the same EventsSince sequence.
func (s *Service) Events(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.Event, error) {
	return s.store.EventsSince(ctx, runID, afterSeq, limit)
}

// ProjectEvent maps a raw event to its client-friendly poll item.
func ProjectEvent(ev domain.Event) domain.PollItem {
	item := domain.PollItem{Seq: ev.Seq}

	switch ev.Type {
	case domain.EventTypeThinking:
		item.Type = "thinking"
		var p domain.ThinkingPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			item.Text = p.Text
		}
	case domain.EventTypeToolCall:
		item.Type = "tool_call"
		var p domain.ToolCallPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			item.Tool = string(p.Tool)
			item.Purpose = p.Purpose
		}
	case domain.EventTypeToolResult:
		item.Type = "tool_result"
		var p domain.ToolResultPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			item.Tool = string(p.Tool)
			ok := p.OK
			item.OK = &ok
			item.Summary = p.Summary
			item.Message = p.Error
		}
	case domain.EventTypeSectionCompleted:
		item.Type = "section"
		var p domain.SectionCompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			item.Title = p.Title
		}
	case domain.EventTypePlanAdjusted:
		item.Type = "plan_adjusted"
		var p domain.PlanAdjustedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			item.Tool = string(p.Tool)
			item.Reason = p.Reason
		}
	case domain.EventTypeError:
		item.Type = "error"
		var p domain.ErrorPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			item.Message = p.Message
		}
	default:
		// <mode>.completed
		item.Type = "completed"
		var p domain.CompletedPayload
		if json.Unmarshal(ev.Payload, &p) == nil {
			item.Content = p.Content
		}
	}
	return item
}
