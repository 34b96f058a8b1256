package domain

import (
	"encoding/json"
	"time"
)

// Run represents a single user-submitted goal being processed end-to-end.
type Run struct {
	RunID     string            `json:"run_id"`
	OwnerID   string            `json:"owner_id"`
	Goal      string            `json:"goal"`
	Mode      RunMode           `json:"mode"`
	Status    RunStatus         `json:"status"`
	Document  string            `json:"document,omitempty"`
	Result    string            `json:"result,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	RetiredAt *time.Time        `json:"retired_at,omitempty"`
}

// Event is one entry in a run's append-only log. Seq is assigned by the
// store on append and is strictly increasing per run.
type Event struct {
	Seq     int64           `json:"seq"`
	RunID   string          `json:"run_id"`
	Ts      int64           `json:"ts"` // Unix milliseconds
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
