package domain

import "encoding/json"

// ToolCall is one planned invocation of a named capability.
type ToolCall struct {
	Tool      ToolName        `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
}

// Plan is the ordered list of tool calls the executor intends to perform.
// It is owned by the run's executor and mutated only by quality-check
// splicing.
type Plan struct {
	Reasoning string     `json:"reasoning,omitempty"`
	Steps     []ToolCall `json:"steps"`
}

// Insert splices a step at index i, shifting later steps right.
// An out-of-range index appends.
func (p *Plan) Insert(i int, step ToolCall) {
	if i < 0 || i >= len(p.Steps) {
		p.Steps = append(p.Steps, step)
		return
	}
	p.Steps = append(p.Steps[:i], append([]ToolCall{step}, p.Steps[i:]...)...)
}
