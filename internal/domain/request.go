package domain

import "time"

// CreateRunRequest is the request body for creating a run.
type CreateRunRequest struct {
	Goal     string            `json:"goal"`
	Mode     RunMode           `json:"mode"`
	OwnerID  string            `json:"owner_id,omitempty"`
	Document string            `json:"document,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

// CreateRunResponse is returned after a run is accepted.
type CreateRunResponse struct {
	RunID string `json:"run_id"`
}

// RunResponse is the public projection of a run.
type RunResponse struct {
	RunID     string            `json:"run_id"`
	Mode      RunMode           `json:"mode"`
	Status    RunStatus         `json:"status"`
	Goal      string            `json:"goal"`
	Result    string            `json:"result,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// PollItem is the client-friendly projection of one event. Fields beyond
// Seq and Type are populated per type.
type PollItem struct {
	Seq     int64  `json:"seq"`
	Type    string `json:"type"`
	Tool    string `json:"tool,omitempty"`
	Purpose string `json:"purpose,omitempty"`
	OK      *bool  `json:"ok,omitempty"`
	Summary string `json:"summary,omitempty"`
	Text    string `json:"text,omitempty"`
	Title   string `json:"title,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Content string `json:"content,omitempty"`
}

// PollResponse is the cursor-poll read model. Cursor is the highest seq
// included and never less than the request cursor. Done is true once the
// run is terminal and every event has been delivered.
type PollResponse struct {
	Items  []PollItem `json:"items"`
	Cursor int64      `json:"cursor"`
	Done   bool       `json:"done"`
	Status RunStatus  `json:"status"`
}

// CancelResponse is returned by the cancel endpoint.
type CancelResponse struct {
	RunID  string    `json:"run_id"`
	Status RunStatus `json:"status"`
}
