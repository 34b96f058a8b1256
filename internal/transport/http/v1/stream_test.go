package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/draftmill/orchestrator/internal/domain"
)

type sseFrame struct {
	event string
	data  string
}

func parseSSE(t *testing.T, body string) []sseFrame {
	t.Helper()
	var frames []sseFrame
	for _, block := range strings.Split(body, "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		var frame sseFrame
		for _, line := range strings.Split(block, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				frame.event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frame.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if frame.event == "" {
			t.Fatalf("frame without event field: %q", block)
		}
		frames = append(frames, frame)
	}
	return frames
}

func TestStreamRunDeliversFullLogForTerminalRun(t *testing.T) {
	h, st := newTestHandler(t)
	seedTerminalRun(t, st, "res_str00001")
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/res_str00001/stream", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("res_str00001")

	err := h.StreamRun(c)
	assert.NoError(t, err)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	frames := parseSSE(t, rec.Body.String())
	var sequenced []sseFrame
	for _, f := range frames {
		if f.event == string(domain.EventTypePing) {
			continue
		}
		sequenced = append(sequenced, f)
	}
	assert.Len(t, sequenced, 4)
	for i, f := range sequenced {
		var ev domain.Event
		assert.NoError(t, json.Unmarshal([]byte(f.data), &ev))
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, f.event, string(ev.Type),
			"frame event must match the payload type")
	}
	assert.Equal(t, string(domain.CompletedEventType(domain.RunModeResearch)),
		sequenced[len(sequenced)-1].event,
		"stream must end with the completion event")
}

// The stream and the poll endpoint must expose the same event sequence.
func TestStreamMatchesPollSequence(t *testing.T) {
	h, st := newTestHandler(t)
	seedTerminalRun(t, st, "res_iso00001")
	e := echo.New()

	// Drain via poll.
	var polled []int64
	cursor := int64(0)
	for {
		req := httptest.NewRequest(http.MethodGet,
			"/v1/runs/res_iso00001/poll?cursor="+strconv.FormatInt(cursor, 10), nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("run_id")
		c.SetParamValues("res_iso00001")
		if err := h.PollRun(c); err != nil {
			t.Fatalf("PollRun failed: %v", err)
		}
		var resp domain.PollResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("bad poll body: %v", err)
		}
		for _, item := range resp.Items {
			polled = append(polled, item.Seq)
		}
		cursor = resp.Cursor
		if resp.Done {
			break
		}
	}

	// Drain via stream.
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/res_iso00001/stream", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("res_iso00001")
	assert.NoError(t, h.StreamRun(c))

	var streamed []int64
	for _, f := range parseSSE(t, rec.Body.String()) {
		if f.event == string(domain.EventTypePing) {
			continue
		}
		var ev domain.Event
		assert.NoError(t, json.Unmarshal([]byte(f.data), &ev))
		streamed = append(streamed, ev.Seq)
	}

	assert.Equal(t, polled, streamed, "both read models must expose the same sequence")
}

func TestStreamRunEmitsHeartbeats(t *testing.T) {
	h, st := newTestHandler(t)
	h.cfg.HeartbeatInterval = 10 * time.Millisecond
	h.cfg.PollInterval = time.Hour // only heartbeats fire

	ctx := context.Background()
	now := time.Now()
	run := &domain.Run{
		RunID: "res_hb000001", OwnerID: "u1", Goal: "g",
		Mode: domain.RunModeResearch, Status: domain.RunStatusRunning,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/runs/res_hb000001/stream", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("res_hb000001")

	assert.NoError(t, h.StreamRun(c))

	pings := 0
	for _, f := range parseSSE(t, rec.Body.String()) {
		if f.event == string(domain.EventTypePing) {
			pings++
		}
	}
	assert.Greater(t, pings, 0, "expected at least one heartbeat while the run was open")
}

func TestStreamRunNotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/v1/runs/res_nope0000/stream", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("run_id")
	c.SetParamValues("res_nope0000")

	err := h.StreamRun(c)
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
