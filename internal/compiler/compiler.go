// Package compiler assembles step outputs into the final artifact. Compile
// is deterministic given its inputs and always returns content: a run that
// gathered nothing still completes with a templated explanation.
package compiler

import (
	"fmt"
	"strings"

	"github.com/draftmill/orchestrator/internal/domain"
)

// Compile concatenates sections in plan order and appends chart references
// in the order they were generated.
func Compile(mode domain.RunMode, goal string, sections []domain.Section, artifacts []domain.Artifact) string {
	findings := collectFindings(artifacts)
	charts := collectCharts(artifacts)

	if len(sections) == 0 && len(findings) == 0 && len(charts) == 0 {
		return degradedContent(mode, goal)
	}

	var sb strings.Builder
	sb.WriteString("# ")
	sb.WriteString(titleFor(mode))
	sb.WriteString(": ")
	sb.WriteString(goal)
	sb.WriteString("\n")

	if len(sections) > 0 {
		for _, sec := range sections {
			sb.WriteString("\n## ")
			sb.WriteString(sec.Title)
			sb.WriteString("\n\n")
			sb.WriteString(strings.TrimSpace(sec.Content))
			sb.WriteString("\n")
		}
	} else if len(findings) > 0 {
		// No drafted sections: fall back to a minimal report built directly
		// from the raw findings.
		sb.WriteString("\n## Findings\n\n")
		for _, f := range findings {
			sb.WriteString("- ")
			sb.WriteString(f.Content)
			if f.Source != "" {
				sb.WriteString(" (")
				sb.WriteString(f.Source)
				sb.WriteString(")")
			}
			sb.WriteString("\n")
		}
	}

	if len(charts) > 0 {
		sb.WriteString("\n## Charts\n\n")
		for _, c := range charts {
			fmt.Fprintf(&sb, "![%s](%s)\n", c.Title, c.URL)
		}
	}

	return sb.String()
}

func collectFindings(artifacts []domain.Artifact) []domain.Finding {
	var out []domain.Finding
	for _, a := range artifacts {
		out = append(out, a.Findings...)
	}
	return out
}

func collectCharts(artifacts []domain.Artifact) []domain.ChartRef {
	var out []domain.ChartRef
	for _, a := range artifacts {
		if a.Chart != nil {
			out = append(out, *a.Chart)
		}
	}
	return out
}

func titleFor(mode domain.RunMode) string {
	switch mode {
	case domain.RunModeReport:
		return "Report"
	case domain.RunModeTemplate:
		return "Template"
	case domain.RunModeChart:
		return "Chart"
	default:
		return "Research"
	}
}

// degradedContent explains the likely cause when a run collected nothing.
// The run still completes; callers never see a bare failure for an empty
// result set.
func degradedContent(mode domain.RunMode, goal string) string {
	return fmt.Sprintf(`# %s: %s

No material could be gathered for this request.

Likely causes:
- the search or analysis services were unavailable
- the query was too narrow to match any sources

Try rephrasing the goal or retrying later.
`, titleFor(mode), goal)
}
