// Package charts provides the client for the external chart-rendering
// service, including client-side payload validation so malformed specs fail
// as tool errors rather than renderer errors.
package charts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/draftmill/orchestrator/internal/domain"
)

// Series is one named value series of a cartesian chart.
type Series struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// Stage is one step of a funnel chart.
type Stage struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Task is one bar of a gantt chart. Dates are ISO 8601 (YYYY-MM-DD).
type Task struct {
	Label string `json:"label"`
	Start string `json:"start"`
	End   string `json:"end"`
}

// Node is one ring segment of a sunburst chart.
type Node struct {
	Label    string  `json:"label"`
	Value    float64 `json:"value"`
	Children []Node  `json:"children,omitempty"`
}

// Word is one entry of a wordcloud.
type Word struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight"`
}

// Spec is the renderer's chart payload. Cartesian kinds use X and Series;
// funnel, gantt, sunburst, and wordcloud carry their own shapes.
type Spec struct {
	Kind    string                 `json:"kind"`
	Title   string                 `json:"title,omitempty"`
	X       []string               `json:"x,omitempty"`
	Series  []Series               `json:"series,omitempty"`
	Stages  []Stage                `json:"stages,omitempty"`
	Tasks   []Task                 `json:"tasks,omitempty"`
	Root    *Node                  `json:"root,omitempty"`
	Words   []Word                 `json:"words,omitempty"`
	Options map[string]interface{} `json:"options,omitempty"`
}

const ganttDateLayout = "2006-01-02"

// Validate mirrors the renderer's payload checks per chart kind.
func (s *Spec) Validate() error {
	switch s.Kind {
	case "bar", "line", "area", "pie", "stackedbar":
		return s.validateCartesian()
	case "funnel":
		if len(s.Stages) == 0 {
			return fmt.Errorf("funnel: missing stages")
		}
		for i, stage := range s.Stages {
			if stage.Label == "" {
				return fmt.Errorf("stages[%d] requires label and value", i)
			}
		}
		return nil
	case "gantt":
		if len(s.Tasks) == 0 {
			return fmt.Errorf("gantt: missing tasks")
		}
		for i, task := range s.Tasks {
			if task.Label == "" {
				return fmt.Errorf("tasks[%d] need label,start,end", i)
			}
			start, err := time.Parse(ganttDateLayout, task.Start)
			if err != nil {
				return fmt.Errorf("tasks[%d].start: %w", i, err)
			}
			end, err := time.Parse(ganttDateLayout, task.End)
			if err != nil {
				return fmt.Errorf("tasks[%d].end: %w", i, err)
			}
			if end.Before(start) {
				return fmt.Errorf("tasks[%d] end must be >= start", i)
			}
		}
		return nil
	case "sunburst":
		if s.Root == nil {
			return fmt.Errorf("sunburst: missing root")
		}
		return validateSunburst(s.Root)
	case "wordcloud":
		if len(s.Words) == 0 {
			return fmt.Errorf("wordcloud: missing words")
		}
		for i, w := range s.Words {
			if w.Text == "" {
				return fmt.Errorf("words[%d] needs text, weight", i)
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported chart kind %q", s.Kind)
}

// validateCartesian checks the x/series shape: non-empty x labels and at
// least one named series whose value count matches len(x).
func (s *Spec) validateCartesian() error {
	if len(s.X) == 0 {
		return fmt.Errorf("x must be a non-empty list of labels")
	}
	if len(s.Series) == 0 {
		return fmt.Errorf("series must be a non-empty list")
	}
	for i, series := range s.Series {
		if series.Name == "" {
			return fmt.Errorf("series[%d] missing name", i)
		}
		if len(series.Values) != len(s.X) {
			return fmt.Errorf("series[%d].values length %d != x length %d", i, len(series.Values), len(s.X))
		}
	}
	return nil
}

func validateSunburst(n *Node) error {
	if n.Label == "" {
		return fmt.Errorf("sunburst: each node needs label,value")
	}
	for i := range n.Children {
		if err := validateSunburst(&n.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// Renderer is the contract the chart tool handler depends on.
type Renderer interface {
	Render(ctx context.Context, spec Spec) (*domain.ChartRef, error)
}

// Client is the HTTP chart-renderer client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

var _ Renderer = (*Client)(nil)

// NewClient creates a new chart-renderer client.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type renderResponse struct {
	URL string `json:"url"`
}

// Render validates the spec and submits it to the renderer.
func (c *Client) Render(ctx context.Context, spec Spec) (*domain.ChartRef, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chart spec: %w", err)
	}

	body, err := json.Marshal(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chart spec: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("render request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chart service returned %d", resp.StatusCode)
	}

	var out renderResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode render response: %w", err)
	}
	if out.URL == "" {
		return nil, fmt.Errorf("chart service returned no url")
	}
	return &domain.ChartRef{Kind: spec.Kind, Title: spec.Title, URL: out.URL}, nil
}
