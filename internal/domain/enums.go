// Package domain defines the core domain models for the orchestrator.
package domain

import "strings"

// RunMode selects the kind of artifact a run produces.
type RunMode string

const (
	RunModeResearch RunMode = "research"
	RunModeReport   RunMode = "report"
	RunModeTemplate RunMode = "template"
	RunModeChart    RunMode = "chart"
)

// Valid reports whether the mode is one of the supported modes.
func (m RunMode) Valid() bool {
	switch m {
	case RunModeResearch, RunModeReport, RunModeTemplate, RunModeChart:
		return true
	}
	return false
}

// IDPrefix returns the run-id prefix for the mode. The prefix lets later
// requests route on the id alone without a store lookup.
func (m RunMode) IDPrefix() string {
	switch m {
	case RunModeResearch:
		return "res_"
	case RunModeReport:
		return "rep_"
	case RunModeTemplate:
		return "tpl_"
	case RunModeChart:
		return "cht_"
	}
	return "run_"
}

// ModeFromRunID recovers the mode encoded in a run id prefix.
func ModeFromRunID(runID string) (RunMode, bool) {
	for _, m := range []RunMode{RunModeResearch, RunModeReport, RunModeTemplate, RunModeChart} {
		if strings.HasPrefix(runID, m.IDPrefix()) {
			return m, true
		}
	}
	return "", false
}

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPlanning  RunStatus = "planning"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status is a sink state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// EventType represents the type of an event in a run's log.
type EventType string

const (
	EventTypeThinking         EventType = "thinking"
	EventTypeToolCall         EventType = "tool.call"
	EventTypeToolResult       EventType = "tool.result"
	EventTypeSectionCompleted EventType = "section.completed"
	EventTypePlanAdjusted     EventType = "plan.adjusted"
	EventTypeError            EventType = "error"

	// EventTypePing is a stream heartbeat. It is never written to the log
	// and carries no sequence id.
	EventTypePing EventType = "ping"
)

// CompletedEventType returns the terminal event type for a mode,
// e.g. "research.completed".
func CompletedEventType(mode RunMode) EventType {
	return EventType(string(mode) + ".completed")
}

// ToolName identifies a handler capability. The set is closed: the registry
// and the step policy both reject names outside it.
type ToolName string

const (
	ToolAnalyzeDocument ToolName = "analyze_document"
	ToolSearchWeb       ToolName = "search_web"
	ToolGenerateChart   ToolName = "generate_chart"
	ToolDraftSection    ToolName = "draft_section"
	ToolQualityCheck    ToolName = "quality_check"
	ToolCompile         ToolName = "compile"
)

// Valid reports whether the tool name is part of the closed set.
func (t ToolName) Valid() bool {
	switch t {
	case ToolAnalyzeDocument, ToolSearchWeb, ToolGenerateChart,
		ToolDraftSection, ToolQualityCheck, ToolCompile:
		return true
	}
	return false
}

// ToolNames lists every known tool name.
func ToolNames() []ToolName {
	return []ToolName{
		ToolAnalyzeDocument, ToolSearchWeb, ToolGenerateChart,
		ToolDraftSection, ToolQualityCheck, ToolCompile,
	}
}
