package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/draftmill/orchestrator/internal/domain"
	"github.com/draftmill/orchestrator/internal/service"
)

const streamBatchLimit = 100

// StreamRun is the push read model: it replays the run's full event log,
// then tails new events until the run is terminal. Heartbeat pings defeat
// proxy idle timeouts; they are transport-only and carry no sequence id.
// GET /v1/runs/:run_id/stream
func (h *Handler) StreamRun(c echo.Context) error {
	ctx := c.Request().Context()
	runID := c.Param("run_id")

	if _, err := h.service.GetRun(ctx, runID); err == service.ErrRunNotFound {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "run not found"})
	} else if err != nil {
		log.Errorf("failed to get run %s: %v", runID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get run"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)
	flush(c)

	lastSeq := int64(0)
	pollTicker := time.NewTicker(h.cfg.PollInterval)
	defer pollTicker.Stop()
	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			// Client disconnected.
			return nil

		case <-heartbeat.C:
			if err := h.sendSSE(c, domain.EventTypePing, map[string]int64{"ts": time.Now().UnixMilli()}); err != nil {
				return err
			}

		case <-pollTicker.C:
			seq, err := h.pushEventsSince(c, runID, lastSeq)
			if err != nil {
				return err
			}
			lastSeq = seq

			current, err := h.service.GetRun(ctx, runID)
			if err != nil {
				log.Errorf("failed to get run status: %v", err)
				continue
			}
			if current.Status.Terminal() {
				// The terminal event is appended before the status flips,
				// so one more drain delivers everything.
				if _, err := h.pushEventsSince(c, runID, lastSeq); err != nil {
					return err
				}
				log.Infof("run %s reached terminal state %s, closing stream", runID, current.Status)
				return nil
			}
		}
	}
}

func (h *Handler) pushEventsSince(c echo.Context, runID string, lastSeq int64) (int64, error) {
	ctx := c.Request().Context()
	for {
		events, err := h.service.Events(ctx, runID, lastSeq, streamBatchLimit)
		if err != nil {
			log.Errorf("failed to read events for run %s: %v", runID, err)
			return lastSeq, nil
		}
		for _, ev := range events {
			if err := h.sendSSE(c, ev.Type, ev); err != nil {
				return lastSeq, err
			}
			lastSeq = ev.Seq
		}
		if len(events) < streamBatchLimit {
			return lastSeq, nil
		}
	}
}

// sendSSE writes one event in "event: <type>\ndata: <json>\n\n" form.
func (h *Handler) sendSSE(c echo.Context, typ domain.EventType, data interface{}) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(c.Response().Writer, "event: %s\ndata: %s\n\n", typ, body); err != nil {
		return err
	}
	flush(c)
	return nil
}

func flush(c echo.Context) {
	if flusher, ok := c.Response().Writer.(http.Flusher); ok {
		flusher.Flush()
	}
}
