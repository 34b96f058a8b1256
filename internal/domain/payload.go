package domain

// Event payloads. Each event type carries exactly one of these shapes.

// ThinkingPayload is the data for a thinking event.
type ThinkingPayload struct {
	Text string `json:"text"`
}

// ToolCallPayload is the data for a tool.call event, appended before the
// handler is invoked.
type ToolCallPayload struct {
	StepIndex int      `json:"step_index"`
	Tool      ToolName `json:"tool"`
	Purpose   string   `json:"purpose,omitempty"`
}

// ToolResultPayload is the data for a tool.result event, appended after the
// handler returns whether it succeeded or not.
type ToolResultPayload struct {
	StepIndex int      `json:"step_index"`
	Tool      ToolName `json:"tool"`
	OK        bool     `json:"ok"`
	Summary   string   `json:"summary,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// SectionCompletedPayload is the data for a section.completed event.
type SectionCompletedPayload struct {
	Index int    `json:"index"`
	Title string `json:"title"`
}

// PlanAdjustedPayload is the data for a plan.adjusted event recorded when a
// quality check splices a follow-up step into the plan.
type PlanAdjustedPayload struct {
	AtIndex int      `json:"at_index"`
	Tool    ToolName `json:"tool"`
	Reason  string   `json:"reason,omitempty"`
}

// CompletedPayload is the data for the terminal <mode>.completed event.
type CompletedPayload struct {
	Content string `json:"content"`
}

// ErrorPayload is the data for an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
