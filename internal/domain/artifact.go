package domain

// Finding is one piece of material gathered for a run: a search hit,
// a passage extracted from an uploaded document, an analysis note.
type Finding struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// SearchResult is one hit returned by the web-search service.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Section is one drafted block of the final artifact.
type Section struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ChartRef points at a rendered chart.
type ChartRef struct {
	Kind  string `json:"kind"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Artifact is the output of one executed step, keyed by step index and
// tool. Artifacts accumulate in executor-local state; only the compiled
// form is persisted on the run.
type Artifact struct {
	StepIndex int       `json:"step_index"`
	Tool      ToolName  `json:"tool"`
	Findings  []Finding `json:"findings,omitempty"`
	Section   *Section  `json:"section,omitempty"`
	Chart     *ChartRef `json:"chart,omitempty"`
}
